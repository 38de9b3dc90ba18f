package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/phankid/api/internal/domain"
)

// GatewayLogger defines the logging contract for gateway operations.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the card gateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   GatewayLogger
	Clock    func() time.Time
	Intents  stripePaymentIntentAPI
}

// StripeGateway collects card payments through Stripe PaymentIntents. The
// client confirms the intent with Stripe's SDK using the returned client
// secret; the webhook then drives reconciliation.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	clock   func() time.Time
	logger  GatewayLogger
}

// NewStripeGateway constructs a Stripe card gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Method reports the payment method this gateway serves.
func (g *StripeGateway) Method() domain.PaymentMethod {
	return domain.PaymentMethodCard
}

// Initiate creates a PaymentIntent for the order total and returns a
// client-secret handle. VND is a zero-decimal currency, so amounts pass
// through unscaled.
func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	if g == nil || g.intents == nil {
		return domain.PaymentHandle{}, errors.New("stripe: gateway is not initialised")
	}
	if req.Attempt.Amount <= 0 {
		return domain.PaymentHandle{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Attempt.Amount),
		Currency: stripe.String(string(stripe.CurrencyVND)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"orderCode": req.Order.Code,
			"attemptId": req.Attempt.ID,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.Attempt.ID); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return domain.PaymentHandle{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderCode":     req.Order.Code,
		"amount":        intent.Amount,
	})

	expiresAt := g.clock().Add(30 * time.Minute)
	return domain.PaymentHandle{
		Kind:         domain.HandleKindClientSecret,
		AttemptID:    req.Attempt.ID,
		GatewayRef:   intent.ID,
		ClientSecret: intent.ClientSecret,
		ExpiresAt:    &expiresAt,
	}, nil
}

// Reconcile fetches the PaymentIntent by its ID and reports the captured
// amount. Webhook payloads are never trusted directly.
func (g *StripeGateway) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if g == nil || g.intents == nil {
		return ReconcileResult{}, errors.New("stripe: gateway is not initialised")
	}
	intentID := strings.TrimSpace(req.Attempt.GatewayRef)
	if intentID == "" {
		return ReconcileResult{}, errors.New("stripe: attempt has no payment intent reference")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	result := ReconcileResult{
		Status:       StatusPending,
		Amount:       intent.AmountReceived,
		GatewayTxnID: intent.ID,
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		result.Status = StatusFailed
		result.FailureCode = "canceled"
	}
	if intent.LastPaymentError != nil {
		result.Status = StatusFailed
		result.FailureCode = string(intent.LastPaymentError.Code)
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	result.Raw = raw

	g.logger(ctx, "payments.stripe.intent.reconciled", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"amount":        intent.AmountReceived,
	})
	return result, nil
}

var _ Gateway = (*StripeGateway)(nil)
