package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/auth"
	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes checkout submission and payment retry. Both are
// open to guests carrying a session header; checkout is the endpoint clients
// send an Idempotency-Key with.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints directly under the API prefix.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalShopperAuth())
	}
	group.Post("/checkout", h.submit)
	group.Post("/orders/{code}/payment/retry", h.retryPayment)
}

type checkoutRequest struct {
	Contact struct {
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		Email    string `json:"email"`
	} `json:"contact"`
	ShippingAddress struct {
		Line1    string `json:"line1"`
		Ward     string `json:"ward"`
		District string `json:"district"`
		Province string `json:"province"`
		Country  string `json:"country"`
	} `json:"shipping_address"`
	PaymentMethod string `json:"payment_method"`
	Note          string `json:"note"`
}

type retryPaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type checkoutResponse struct {
	Order   orderPayload          `json:"order"`
	Payment paymentHandlePayload  `json:"payment"`
	Attempt paymentAttemptPayload `json:"attempt"`
}

type paymentHandlePayload struct {
	Kind         string `json:"kind"`
	AttemptID    string `json:"attempt_id"`
	GatewayRef   string `json:"gateway_ref,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	QRCodeURL    string `json:"qr_code_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type paymentAttemptPayload struct {
	ID          string `json:"id"`
	OrderCode   string `json:"order_code"`
	Method      string `json:"method"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	GatewayRef  string `json:"gateway_ref,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopper, ok := h.requireShopper(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	locale := ""
	if identity, found := auth.IdentityFromContext(ctx); found {
		locale = identity.Locale
	}

	result, err := h.checkout.Submit(ctx, services.CheckoutCommand{
		Shopper: shopper,
		Contact: services.OrderContact{
			FullName: req.Contact.FullName,
			Phone:    req.Contact.Phone,
			Email:    req.Contact.Email,
		},
		ShippingAddress: services.Address{
			Line1:    req.ShippingAddress.Line1,
			Ward:     req.ShippingAddress.Ward,
			District: req.ShippingAddress.District,
			Province: req.ShippingAddress.Province,
			Country:  req.ShippingAddress.Country,
		},
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Note:          req.Note,
		ClientIP:      clientIP(r),
		Locale:        locale,
		ActorID:       shopper.Key(),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(result))
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopper, ok := h.requireShopper(w, r)
	if !ok {
		return
	}

	var req retryPaymentRequest
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	locale := ""
	if identity, found := auth.IdentityFromContext(ctx); found {
		locale = identity.Locale
	}

	result, err := h.checkout.RetryPayment(ctx, services.RetryPaymentCommand{
		Code:     chi.URLParam(r, "code"),
		Shopper:  shopper,
		Method:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		ClientIP: clientIP(r),
		Locale:   locale,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(result))
}

func (h *CheckoutHandlers) requireShopper(w http.ResponseWriter, r *http.Request) (services.ShopperRef, bool) {
	if h.checkout == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return services.ShopperRef{}, false
	}
	shopper := shopperFromRequest(r)
	if shopper.IsZero() {
		writeUnauthenticated(w, r)
		return services.ShopperRef{}, false
	}
	return shopper, true
}

func (h *CheckoutHandlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order can no longer be paid", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutAttemptInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("attempt_in_flight", "a payment attempt is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable; retry later", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		Order:   buildOrderPayload(result.Order),
		Payment: buildHandlePayload(result.Handle),
		Attempt: buildAttemptPayload(result.Attempt),
	}
}

func buildHandlePayload(handle services.PaymentHandle) paymentHandlePayload {
	return paymentHandlePayload{
		Kind:         string(handle.Kind),
		AttemptID:    handle.AttemptID,
		GatewayRef:   handle.GatewayRef,
		ClientSecret: handle.ClientSecret,
		RedirectURL:  handle.RedirectURL,
		QRCodeURL:    handle.QRCodeURL,
		ExpiresAt:    formatTime(pointerTime(handle.ExpiresAt)),
	}
}

func buildAttemptPayload(attempt services.PaymentAttempt) paymentAttemptPayload {
	return paymentAttemptPayload{
		ID:          attempt.ID,
		OrderCode:   attempt.OrderCode,
		Method:      string(attempt.Method),
		Amount:      attempt.Amount,
		Status:      string(attempt.Status),
		GatewayRef:  attempt.GatewayRef,
		FailureCode: attempt.FailureCode,
		CreatedAt:   formatTime(attempt.CreatedAt),
		ExpiresAt:   formatTime(pointerTime(attempt.ExpiresAt)),
	}
}
