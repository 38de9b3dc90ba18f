package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/services"
)

const (
	maxCallbackBodySize = 64 * 1024

	callbackRateLimit  = 120
	callbackRateWindow = time.Minute
)

// VNPay IPN acknowledgement codes. The gateway keeps retrying until it
// receives "00" or "01"; anything else is treated as transient.
const (
	vnpayAckConfirmed     = "00"
	vnpayAckOrderNotFound = "01"
	vnpayAckInvalidAmount = "04"
	vnpayAckUnknownError  = "99"
)

// PaymentHandlers terminates the wallet gateway callbacks. These endpoints
// are unauthenticated by design; authenticity is established by signature
// verification during reconciliation, never by the transport.
type PaymentHandlers struct {
	payments services.PaymentService
	limiter  rateLimiter
}

// NewPaymentHandlers constructs the gateway callback handlers.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		payments: payments,
		limiter:  newSimpleRateLimiter(callbackRateLimit, callbackRateWindow, nil),
	}
}

// Routes registers the /payments callback endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay/return", h.vnpayReturn)
	r.Get("/vnpay/ipn", h.vnpayIPN)
	r.Post("/vnpay/ipn", h.vnpayIPN)
	r.Post("/momo/ipn", h.momoIPN)
}

type callbackStatusResponse struct {
	Known   bool                   `json:"known"`
	Order   *orderPayload          `json:"order,omitempty"`
	Attempt *paymentAttemptPayload `json:"attempt,omitempty"`
}

type vnpayAckResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// vnpayReturn is the shopper's browser landing after VNPay. It settles the
// attempt exactly like the IPN does and reports the outcome so the
// storefront can render a result page.
func (h *PaymentHandlers) vnpayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r) {
		return
	}

	result, err := h.payments.HandleCallback(ctx, services.PaymentCallbackCommand{
		Method: domain.PaymentMethodVNPay,
		Params: r.URL.Query(),
		Source: "return",
	})
	if err != nil && !errors.Is(err, services.ErrPaymentAmountMismatch) {
		h.writeCallbackError(w, r, err)
		return
	}

	payload := callbackStatusResponse{Known: result.Known}
	if result.Known {
		order := buildOrderPayload(result.Order)
		attempt := buildAttemptPayload(result.Attempt)
		payload.Order = &order
		payload.Attempt = &attempt
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// vnpayIPN is the server-to-server confirmation. VNPay expects an RspCode
// acknowledgement body and retries until it gets a terminal one, so every
// handled outcome answers 200.
func (h *PaymentHandlers) vnpayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r) {
		return
	}

	params := r.URL.Query()
	if len(params) == 0 {
		if err := r.ParseForm(); err == nil {
			params = r.Form
		}
	}

	result, err := h.payments.HandleCallback(ctx, services.PaymentCallbackCommand{
		Method: domain.PaymentMethodVNPay,
		Params: params,
		Source: "ipn",
	})
	switch {
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		writeJSONResponse(w, http.StatusOK, vnpayAckResponse{RspCode: vnpayAckInvalidAmount, Message: "Invalid Amount"})
	case errors.Is(err, services.ErrPaymentInvalidInput):
		writeJSONResponse(w, http.StatusOK, vnpayAckResponse{RspCode: vnpayAckUnknownError, Message: "Invalid Request"})
	case err != nil:
		writeJSONResponse(w, http.StatusOK, vnpayAckResponse{RspCode: vnpayAckUnknownError, Message: "Unknown Error"})
	case !result.Known:
		writeJSONResponse(w, http.StatusOK, vnpayAckResponse{RspCode: vnpayAckOrderNotFound, Message: "Order Not Found"})
	default:
		writeJSONResponse(w, http.StatusOK, vnpayAckResponse{RspCode: vnpayAckConfirmed, Message: "Confirm Success"})
	}
}

// momoIPN receives MoMo's JSON notification. MoMo treats 204 as the
// acknowledgement and retries on anything else.
func (h *PaymentHandlers) momoIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r) {
		return
	}

	body, err := readLimitedBody(r, maxCallbackBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read notification body", http.StatusBadRequest))
		return
	}

	params, err := flattenJSONParams(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notification body must be a JSON object", http.StatusBadRequest))
		return
	}

	_, err = h.payments.HandleCallback(ctx, services.PaymentCallbackCommand{
		Method:  domain.PaymentMethodMoMo,
		Params:  params,
		RawBody: body,
		Source:  "ipn",
	})
	if err != nil && !errors.Is(err, services.ErrPaymentAmountMismatch) {
		h.writeCallbackError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentHandlers) allow(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return false
	}
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many callback requests", http.StatusTooManyRequests))
		return false
	}
	return true
}

func (h *PaymentHandlers) writeCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		// A 5xx keeps the gateway retrying, which is what we want for
		// transient storage failures.
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment notification", http.StatusInternalServerError))
	}
}

// flattenJSONParams converts a one-level JSON object into url.Values so
// wallet JSON notifications and query-string callbacks share a settlement
// path. Nested values are re-encoded as JSON strings.
func flattenJSONParams(body []byte) (url.Values, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	params := make(url.Values, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			params.Set(key, v)
		case float64:
			params.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			params.Set(key, fmt.Sprintf("%t", v))
		case nil:
			params.Set(key, "")
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			params.Set(key, string(encoded))
		}
	}
	return params, nil
}
