package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	domain "github.com/phankid/api/internal/domain"
)

type stubIntentsAPI struct {
	newParams *stripe.PaymentIntentParams
	getID     string
	intent    *stripe.PaymentIntent
	err       error
}

func (s *stubIntentsAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.newParams = params
	return s.intent, s.err
}

func (s *stubIntentsAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.getID = id
	return s.intent, s.err
}

func newStripeTestGateway(t *testing.T, intents *stubIntentsAPI) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(StripeGatewayConfig{
		Intents: intents,
		Clock: func() time.Time {
			return time.Date(2025, 5, 6, 10, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new stripe gateway: %v", err)
	}
	return gw
}

func TestStripeInitiateReturnsClientSecretHandle(t *testing.T) {
	intents := &stubIntentsAPI{
		intent: &stripe.PaymentIntent{
			ID:           "pi_123",
			ClientSecret: "pi_123_secret_abc",
			Amount:       530_000,
		},
	}
	gw := newStripeTestGateway(t, intents)

	handle, err := gw.Initiate(context.Background(), InitiateRequest{
		Order: domain.Order{Code: "ORD-20250506-000042"},
		Attempt: domain.PaymentAttempt{
			ID:     "pa_1",
			Amount: 530_000,
		},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if handle.Kind != domain.HandleKindClientSecret {
		t.Fatalf("expected client secret handle, got %q", handle.Kind)
	}
	if handle.ClientSecret != "pi_123_secret_abc" {
		t.Fatalf("unexpected client secret %q", handle.ClientSecret)
	}
	if handle.GatewayRef != "pi_123" {
		t.Fatalf("expected intent id as gateway ref, got %q", handle.GatewayRef)
	}

	params := intents.newParams
	if params == nil {
		t.Fatalf("expected intent creation")
	}
	if got := *params.Amount; got != 530_000 {
		t.Fatalf("expected unscaled vnd amount, got %d", got)
	}
	if got := *params.Currency; got != string(stripe.CurrencyVND) {
		t.Fatalf("unexpected currency %q", got)
	}
	if params.Metadata["orderCode"] != "ORD-20250506-000042" {
		t.Fatalf("expected order code metadata, got %v", params.Metadata)
	}
}

func TestStripeReconcileMapsIntentStatus(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
		status Status
	}{
		{
			name:   "succeeded",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 530_000},
			status: StatusSucceeded,
		},
		{
			name:   "canceled",
			intent: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusCanceled},
			status: StatusFailed,
		},
		{
			name:   "processing",
			intent: &stripe.PaymentIntent{ID: "pi_3", Status: stripe.PaymentIntentStatusProcessing},
			status: StatusPending,
		},
	}

	for _, tc := range cases {
		intents := &stubIntentsAPI{intent: tc.intent}
		gw := newStripeTestGateway(t, intents)

		result, err := gw.Reconcile(context.Background(), ReconcileRequest{
			Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: tc.intent.ID},
		})
		if err != nil {
			t.Fatalf("%s: reconcile: %v", tc.name, err)
		}
		if result.Status != tc.status {
			t.Fatalf("%s: expected %q got %q", tc.name, tc.status, result.Status)
		}
		if intents.getID != tc.intent.ID {
			t.Fatalf("%s: expected lookup of %q, got %q", tc.name, tc.intent.ID, intents.getID)
		}
	}
}

func TestStripeReconcileRequiresGatewayRef(t *testing.T) {
	gw := newStripeTestGateway(t, &stubIntentsAPI{intent: &stripe.PaymentIntent{}})

	if _, err := gw.Reconcile(context.Background(), ReconcileRequest{
		Attempt: domain.PaymentAttempt{ID: "pa_1"},
	}); err == nil {
		t.Fatalf("expected error without gateway ref")
	}
}
