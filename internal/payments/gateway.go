package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	domain "github.com/phankid/api/internal/domain"
)

// Status enumerates the normalised attempt states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting shopper action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedMethod is returned when the manager has no gateway for a method.
var ErrUnsupportedMethod = errors.New("payments: unsupported payment method")

// InitiateRequest carries everything a gateway needs to start collecting an
// order's total. Attempt.GatewayRef is the merchant-side transaction
// reference pre-assigned by checkout; card gateways may replace it with their
// own reference in the returned handle.
type InitiateRequest struct {
	Order    domain.Order
	Attempt  domain.PaymentAttempt
	ClientIP string
	Locale   string
}

// ReconcileRequest asks a gateway for the authoritative outcome of an
// attempt. Params holds the callback/webhook parameters when the reconcile
// was triggered by one; gateways treat them as hints only and re-query their
// status API for the truth.
type ReconcileRequest struct {
	Attempt domain.PaymentAttempt
	Params  url.Values
}

// ReconcileResult is the gateway's verdict. Amount is the captured amount the
// gateway reports; callers must compare it against the order total before
// marking anything paid.
type ReconcileResult struct {
	Status       Status
	Amount       domain.Money
	GatewayTxnID string
	FailureCode  string
	Raw          map[string]any
}

// Gateway is the adapter contract every payment channel implements.
type Gateway interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (domain.PaymentHandle, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error)
}

// Manager routes operations to the gateway registered for a payment method.
type Manager struct {
	gateways map[domain.PaymentMethod]Gateway
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways ...Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registry := make(map[domain.PaymentMethod]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		method := gw.Method()
		if !method.Valid() {
			return nil, fmt.Errorf("payments: gateway reports invalid method %q", method)
		}
		if _, exists := registry[method]; exists {
			return nil, fmt.Errorf("payments: duplicate gateway for method %s", method)
		}
		registry[method] = gw
	}
	return &Manager{gateways: registry}, nil
}

// Gateway resolves the adapter registered for the method.
func (m *Manager) Gateway(method domain.PaymentMethod) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, errors.New("payments: manager is not initialised")
	}
	gw, ok := m.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return gw, nil
}

// Initiate delegates to the gateway registered for the attempt's method.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	gw, err := m.Gateway(req.Attempt.Method)
	if err != nil {
		return domain.PaymentHandle{}, err
	}
	return gw.Initiate(ctx, req)
}

// Reconcile delegates to the gateway registered for the attempt's method.
func (m *Manager) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	gw, err := m.Gateway(req.Attempt.Method)
	if err != nil {
		return ReconcileResult{}, err
	}
	return gw.Reconcile(ctx, req)
}
