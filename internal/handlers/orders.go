package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/auth"
	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCancelBodySize = 4 * 1024

	trackRateLimit  = 20
	trackRateWindow = time.Minute
)

// OrderHandlers exposes the shopper-facing order endpoints plus the public
// guest tracking lookup.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	limiter rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		limiter: newSimpleRateLimiter(trackRateLimit, trackRateWindow, nil),
	}
}

// Routes registers the /orders endpoints. Tracking is public; everything else
// requires a shopper identity.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Get("/track", h.trackOrder)

	authed := r
	if h.authn != nil {
		authed = r.With(h.authn.OptionalShopperAuth())
	}
	authed.Get("/", h.listOrders)
	authed.Get("/{code}", h.getOrder)
	authed.Post("/{code}/cancel", h.cancelOrder)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopper, ok := h.requireShopper(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, valid := parseStatusFilters(query["status"])
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter is not a valid order status", http.StatusBadRequest))
		return
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.OrderListFilter{
		ShopperKey: shopper.Key(),
		Status:     statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopper, ok := h.requireShopper(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetByCode(ctx, services.GetOrderCommand{
		Code:    chi.URLParam(r, "code"),
		Shopper: shopper,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopper, ok := h.requireShopper(w, r)
	if !ok {
		return
	}

	req, ok := decodeCancelRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Code:    chi.URLParam(r, "code"),
		Shopper: shopper,
		Reason:  req.Reason,
		ActorID: shopper.Key(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// trackOrder is the guest lookup: both the order code and the contact phone
// must match. Responses deliberately do not distinguish a wrong phone from a
// missing order.
func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many tracking lookups; retry later", http.StatusTooManyRequests))
		return
	}

	query := r.URL.Query()
	code := strings.TrimSpace(query.Get("code"))
	phone := strings.TrimSpace(query.Get("phone"))
	if code == "" || phone == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code and phone are required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Track(ctx, services.TrackOrderCommand{Code: code, Phone: phone})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireShopper(w http.ResponseWriter, r *http.Request) (services.ShopperRef, bool) {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.ShopperRef{}, false
	}
	shopper := shopperFromRequest(r)
	if shopper.IsZero() {
		writeUnauthenticated(w, r)
		return services.ShopperRef{}, false
	}
	return shopper, true
}

// AdminOrderHandlers exposes the back-office order surface to staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the staff-only order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /admin/orders endpoints behind the staff role check.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{code}", h.getOrder)
	r.Post("/orders/{code}/status", h.transitionStatus)
	r.Post("/orders/{code}/cancel", h.cancelOrder)
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	statuses, valid := parseStatusFilters(query["status"])
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter is not a valid order status", http.StatusBadRequest))
		return
	}
	methods, valid := parseMethodFilters(query["payment_method"])
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method filter is not a valid payment method", http.StatusBadRequest))
		return
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.OrderListFilter{
		Status:        statuses,
		PaymentMethod: methods,
		Keyword:       strings.TrimSpace(query.Get("q")),
		DateRange:     dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetByCode(ctx, services.GetOrderCommand{
		Code:    chi.URLParam(r, "code"),
		AsStaff: true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		Code:    chi.URLParam(r, "code"),
		Target:  target,
		ActorID: adminActor(ctx),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeCancelRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Code:    chi.URLParam(r, "code"),
		AsStaff: true,
		Reason:  req.Reason,
		ActorID: adminActor(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func adminActor(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		return identity.UID
	}
	return ""
}

func decodeCancelRequest(w http.ResponseWriter, r *http.Request) (cancelOrderRequest, bool) {
	ctx := r.Context()
	var req cancelOrderRequest

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "a cancellation reason is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return req, false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "a cancellation reason is required", http.StatusBadRequest))
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type orderSummaryPayload struct {
	Code          string `json:"code"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	PlacedAt      string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Code            string             `json:"code"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"payment_status"`
	PaymentMethod   string             `json:"payment_method"`
	TransactionID   string             `json:"transaction_id,omitempty"`
	Contact         orderContactData   `json:"contact"`
	ShippingAddress orderAddressData   `json:"shipping_address"`
	Items           []orderItemPayload `json:"items"`
	Amounts         orderAmountsData   `json:"amounts"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	Note            string             `json:"note,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	Currency        string             `json:"currency"`
	PlacedAt        string             `json:"placed_at"`
	PaidAt          string             `json:"paid_at,omitempty"`
	ProcessingAt    string             `json:"processing_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	CompletedAt     string             `json:"completed_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderContactData struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
}

type orderAddressData struct {
	Line1    string `json:"line1"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	Province string `json:"province"`
	Country  string `json:"country,omitempty"`
}

type orderItemPayload struct {
	VariantID string `json:"variant_id"`
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type orderAmountsData struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shipping_fee"`
	Total       int64 `json:"total"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		Code:          order.Code,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Total:         order.Amounts.Total,
		Currency:      "VND",
		PlacedAt:      formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			VariantID: item.VariantID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	return orderPayload{
		ID:            order.ID,
		Code:          order.Code,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		TransactionID: order.TransactionID,
		Contact: orderContactData{
			FullName: order.Contact.FullName,
			Phone:    order.Contact.Phone,
			Email:    order.Contact.Email,
		},
		ShippingAddress: orderAddressData{
			Line1:    order.ShippingAddress.Line1,
			Ward:     order.ShippingAddress.Ward,
			District: order.ShippingAddress.District,
			Province: order.ShippingAddress.Province,
			Country:  order.ShippingAddress.Country,
		},
		Items: items,
		Amounts: orderAmountsData{
			Subtotal:    order.Amounts.Subtotal,
			Discount:    order.Amounts.Discount,
			ShippingFee: order.Amounts.ShippingFee,
			Total:       order.Amounts.Total,
		},
		CouponCode:   order.CouponCode,
		Note:         order.Note,
		CancelReason: order.CancelReason,
		Currency:     "VND",
		PlacedAt:     formatTime(order.PlacedAt),
		PaidAt:       formatTime(pointerTime(order.PaidAt)),
		ProcessingAt: formatTime(pointerTime(order.ProcessingAt)),
		ShippedAt:    formatTime(pointerTime(order.ShippedAt)),
		CompletedAt:  formatTime(pointerTime(order.CompletedAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
}
