package services

import (
	"context"
	"net/url"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	ShopperRef         = domain.ShopperRef
	Variant            = domain.Variant
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderAmounts       = domain.OrderAmounts
	OrderStatus        = domain.OrderStatus
	OrderContact       = domain.OrderContact
	Address            = domain.Address
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	PaymentAttempt     = domain.PaymentAttempt
	PaymentHandle      = domain.PaymentHandle
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// CartService manages mutable cart state. Totals and per-line stock flags are
// recomputed from the catalog on every operation; client-sent amounts are
// never accepted.
type CartService interface {
	Get(ctx context.Context, shopper ShopperRef) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Clear(ctx context.Context, shopper ShopperRef) error
	Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, shopper ShopperRef) (Cart, error)
}

// OrderService owns order creation and the status state machine.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetByCode(ctx context.Context, cmd GetOrderCommand) (Order, error)
	Track(ctx context.Context, cmd TrackOrderCommand) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CheckoutService orchestrates order creation and payment initiation.
type CheckoutService interface {
	Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (CheckoutResult, error)
}

// PaymentService reconciles gateway callbacks and webhooks against stored
// payment attempts.
type PaymentService interface {
	HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (PaymentCallbackResult, error)
	HandleStripeWebhook(ctx context.Context, cmd StripeWebhookCommand) (PaymentCallbackResult, error)
	Expire(ctx context.Context, cmd ExpireAttemptsCommand) (int, error)
}

// CounterService issues transaction-safe sequence values and formatted
// identifiers derived from them.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderCode(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// BackgroundJobDispatcher schedules asynchronous processing, currently the
// payment-expiry reaper ticks delivered through Pub/Sub.
type BackgroundJobDispatcher interface {
	EnqueuePaymentExpiry(ctx context.Context, payload PaymentExpiryPayload) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	Shopper   ShopperRef
	VariantID string
	Quantity  int
}

type UpdateCartItemCommand struct {
	Shopper   ShopperRef
	VariantID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	Shopper   ShopperRef
	VariantID string
}

// MergeCartCommand folds a guest session cart into the signed-in user's cart.
type MergeCartCommand struct {
	GuestSessionID string
	User           ShopperRef
}

type ApplyCouponCommand struct {
	Shopper ShopperRef
	Code    string
}

type CreateOrderCommand struct {
	Shopper         ShopperRef
	Contact         OrderContact
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Note            string
	ActorID         string
}

// GetOrderCommand reads an order by code. Non-staff callers only see orders
// owned by their shopper reference.
type GetOrderCommand struct {
	Code    string
	Shopper ShopperRef
	AsStaff bool
}

// TrackOrderCommand looks an order up anonymously; both the code and the
// contact phone must match.
type TrackOrderCommand struct {
	Code  string
	Phone string
}

type OrderListFilter = repositories.OrderListFilter

type OrderStatusTransitionCommand struct {
	Code    string
	Target  OrderStatus
	ActorID string
	Reason  string
}

// MarkOrderPaidCommand is issued exclusively by the payment pipeline once an
// attempt succeeded with a verified amount.
type MarkOrderPaidCommand struct {
	OrderID      string
	AttemptID    string
	GatewayTxnID string
	PaidAt       time.Time
	ActorID      string
}

type CancelOrderCommand struct {
	Code    string
	Shopper ShopperRef
	AsStaff bool
	Reason  string
	ActorID string
}

type CheckoutCommand struct {
	Shopper         ShopperRef
	Contact         OrderContact
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Note            string
	ClientIP        string
	Locale          string
	ActorID         string
}

// CheckoutResult pairs the created order with the handle the client needs to
// complete payment.
type CheckoutResult struct {
	Order   Order
	Attempt PaymentAttempt
	Handle  PaymentHandle
}

type RetryPaymentCommand struct {
	Code     string
	Shopper  ShopperRef
	Method   PaymentMethod
	ClientIP string
	Locale   string
}

// PaymentCallbackCommand carries a wallet gateway callback (VNPay return/IPN,
// MoMo IPN). Params are the query or form values exactly as received; RawBody
// is archived verbatim.
type PaymentCallbackCommand struct {
	Method  PaymentMethod
	Params  url.Values
	RawBody []byte
	Source  string
}

// StripeWebhookCommand carries a verified Stripe event. GatewayRef is the
// PaymentIntent ID extracted from the event payload.
type StripeWebhookCommand struct {
	EventType  string
	GatewayRef string
	RawBody    []byte
}

// PaymentCallbackResult reports how a callback was settled. Known is false
// when no attempt matched the gateway reference; such callbacks are
// acknowledged so gateways stop retrying.
type PaymentCallbackResult struct {
	Known   bool
	Attempt PaymentAttempt
	Order   Order
}

type ExpireAttemptsCommand struct {
	Now   time.Time
	Limit int
}

// PaymentExpiryPayload is the reaper tick published to the internal task topic.
type PaymentExpiryPayload struct {
	Cutoff time.Time `json:"cutoff"`
	Limit  int       `json:"limit,omitempty"`
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	Prefix       string
	Suffix       string
	PadLength    int
	MaxValue     *int64
	InitialValue *int64
	Formatter    func(now time.Time, seq int64) string
}

// CounterValue is a raw sequence value together with its formatted rendering.
type CounterValue struct {
	Value     int64
	Formatted string
}
