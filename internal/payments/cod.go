package payments

import (
	"context"
	"errors"

	domain "github.com/phankid/api/internal/domain"
)

// CODGateway handles cash-on-delivery orders. Nothing is collected online:
// Initiate acknowledges immediately and the order ships unpaid, with
// settlement happening at the door outside this service.
type CODGateway struct{}

// NewCODGateway constructs the cash-on-delivery adapter.
func NewCODGateway() *CODGateway {
	return &CODGateway{}
}

// Method reports the payment method this gateway serves.
func (g *CODGateway) Method() domain.PaymentMethod {
	return domain.PaymentMethodCOD
}

// Initiate returns an immediate handle; no client action is required.
func (g *CODGateway) Initiate(_ context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	if g == nil {
		return domain.PaymentHandle{}, errors.New("cod: gateway is nil")
	}
	return domain.PaymentHandle{
		Kind:       domain.HandleKindImmediate,
		AttemptID:  req.Attempt.ID,
		GatewayRef: req.Attempt.GatewayRef,
	}, nil
}

// Reconcile reports the attempt as settled for its full amount. COD carries
// no online capture to verify, so this only exists to satisfy the contract.
func (g *CODGateway) Reconcile(_ context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if g == nil {
		return ReconcileResult{}, errors.New("cod: gateway is nil")
	}
	return ReconcileResult{
		Status: StatusSucceeded,
		Amount: req.Attempt.Amount,
	}, nil
}

var _ Gateway = (*CODGateway)(nil)
