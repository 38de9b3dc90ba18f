package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/phankid/api/internal/services"
)

func newWebhookRouter(svc services.PaymentService, verify stripeEventVerifier) chi.Router {
	h := NewWebhookHandlers(svc, "whsec_test").withStripeVerifier(verify)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func acceptingVerifier(eventType, ref string) stripeEventVerifier {
	return func([]byte, string) (string, string, error) {
		return eventType, ref, nil
	}
}

func TestStripeWebhookSettlesPaymentIntent(t *testing.T) {
	var seen services.StripeWebhookCommand
	svc := &stubPaymentService{
		webhookFn: func(_ context.Context, cmd services.StripeWebhookCommand) (services.PaymentCallbackResult, error) {
			seen = cmd
			return settledCallbackResult(), nil
		},
	}

	body := `{"id":"evt_1","type":"payment_intent.succeeded"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rr := httptest.NewRecorder()
	newWebhookRouter(svc, acceptingVerifier("payment_intent.succeeded", "pi_123")).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.EventType != "payment_intent.succeeded" || seen.GatewayRef != "pi_123" {
		t.Fatalf("unexpected command %+v", seen)
	}
	if string(seen.RawBody) != body {
		t.Fatal("raw body must be forwarded for archiving")
	}
	if !strings.Contains(rr.Body.String(), `"processed":true`) {
		t.Fatalf("expected processed ack, got %s", rr.Body.String())
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	failing := func([]byte, string) (string, string, error) {
		return "", "", errors.New("signature mismatch")
	}

	called := false
	svc := &stubPaymentService{
		webhookFn: func(context.Context, services.StripeWebhookCommand) (services.PaymentCallbackResult, error) {
			called = true
			return services.PaymentCallbackResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	newWebhookRouter(svc, failing).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatal("unverified events must never reach the payment service")
	}
}

func TestStripeWebhookAcksIrrelevantEvents(t *testing.T) {
	called := false
	svc := &stubPaymentService{
		webhookFn: func(context.Context, services.StripeWebhookCommand) (services.PaymentCallbackResult, error) {
			called = true
			return services.PaymentCallbackResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	newWebhookRouter(svc, acceptingVerifier("customer.created", "cus_1")).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rr.Code)
	}
	if called {
		t.Fatal("non payment events must be acknowledged without processing")
	}
	if !strings.Contains(rr.Body.String(), `"processed":false`) {
		t.Fatalf("expected unprocessed ack, got %s", rr.Body.String())
	}
}

func TestStripeWebhookAmountMismatchIsAcked(t *testing.T) {
	svc := &stubPaymentService{
		webhookFn: func(context.Context, services.StripeWebhookCommand) (services.PaymentCallbackResult, error) {
			return settledCallbackResult(), services.ErrPaymentAmountMismatch
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	newWebhookRouter(svc, acceptingVerifier("payment_intent.succeeded", "pi_123")).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("a mismatch is settled as FAILED and acked, got %d", rr.Code)
	}
}

func TestStripeWebhookServiceFailureTriggersRetry(t *testing.T) {
	svc := &stubPaymentService{
		webhookFn: func(context.Context, services.StripeWebhookCommand) (services.PaymentCallbackResult, error) {
			return services.PaymentCallbackResult{}, errors.New("firestore unavailable")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	newWebhookRouter(svc, acceptingVerifier("payment_intent.succeeded", "pi_123")).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so Stripe retries, got %d", rr.Code)
	}
}

func TestNewWebhookHandlersWithoutSecretIsUnavailable(t *testing.T) {
	h := NewWebhookHandlers(&stubPaymentService{}, " ")
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no endpoint secret is configured, got %d", rr.Code)
	}
}
