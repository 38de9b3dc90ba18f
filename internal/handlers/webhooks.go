package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/services"
)

const maxStripeWebhookBodySize = 256 * 1024

// stripeEventVerifier validates a raw webhook payload and returns the
// PaymentIntent reference it concerns.
type stripeEventVerifier func(payload []byte, sigHeader string) (eventType, gatewayRef string, err error)

// WebhookHandlers terminates PSP webhooks. Stripe events are authenticated by
// their signature header before anything is settled.
type WebhookHandlers struct {
	payments services.PaymentService
	verify   stripeEventVerifier
}

// NewWebhookHandlers constructs webhook handlers verifying Stripe signatures
// with the provided endpoint secret.
func NewWebhookHandlers(payments services.PaymentService, stripeEndpointSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		payments: payments,
		verify:   stripeVerifier(stripeEndpointSecret),
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil || h.verify == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxStripeWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}

	eventType, gatewayRef, err := h.verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	// Only PaymentIntent lifecycle events carry a reference we settle on;
	// everything else is acknowledged unprocessed.
	if !strings.HasPrefix(eventType, "payment_intent.") || gatewayRef == "" {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "processed": false})
		return
	}

	_, err = h.payments.HandleStripeWebhook(ctx, services.StripeWebhookCommand{
		EventType:  eventType,
		GatewayRef: gatewayRef,
		RawBody:    body,
	})
	if err != nil && !errors.Is(err, services.ErrPaymentAmountMismatch) {
		switch {
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			// 5xx makes Stripe retry the delivery.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "processed": true})
}

func stripeVerifier(endpointSecret string) stripeEventVerifier {
	secret := strings.TrimSpace(endpointSecret)
	if secret == "" {
		return nil
	}
	return func(payload []byte, sigHeader string) (string, string, error) {
		event, err := webhook.ConstructEvent(payload, sigHeader, secret)
		if err != nil {
			return "", "", err
		}

		var object struct {
			ID string `json:"id"`
		}
		if len(event.Data.Raw) > 0 {
			if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
				return string(event.Type), "", err
			}
		}
		return string(event.Type), object.ID, nil
	}
}

// withStripeVerifier swaps the signature verifier, primarily for tests.
func (h *WebhookHandlers) withStripeVerifier(verify stripeEventVerifier) *WebhookHandlers {
	h.verify = verify
	return h
}
