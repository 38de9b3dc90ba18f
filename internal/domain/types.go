package domain

import (
	"fmt"
	"strings"
	"time"
)

// Money is an amount in Vietnamese đồng. VND has no subunit, so values are
// whole đồng rather than a minor-unit scaling of some larger unit.
type Money = int64

// ShopperRef identifies the owner of a cart or order. Exactly one of UserID
// (authenticated Firebase UID) or SessionID (guest session) is set.
type ShopperRef struct {
	UserID    string
	SessionID string
}

// IsZero reports whether the reference carries no identity at all.
func (s ShopperRef) IsZero() bool {
	return strings.TrimSpace(s.UserID) == "" && strings.TrimSpace(s.SessionID) == ""
}

// IsGuest reports whether the shopper is an anonymous session.
func (s ShopperRef) IsGuest() bool {
	return strings.TrimSpace(s.UserID) == ""
}

// Key returns the stable document key for the shopper's cart.
func (s ShopperRef) Key() string {
	if uid := strings.TrimSpace(s.UserID); uid != "" {
		return "user:" + uid
	}
	if sid := strings.TrimSpace(s.SessionID); sid != "" {
		return "sess:" + sid
	}
	return ""
}

// Variant is the catalog projection consulted for authoritative price and
// stock. Catalog management itself lives in a separate service; this API
// only reads variants and mutates their Stock counter.
type Variant struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	Size      string
	Color     string
	Price     Money
	Stock     int
	Active    bool
	UpdatedAt time.Time
}

// CartItem is a single line in a shopper's cart. UnitPrice and LineTotal are
// snapshots refreshed from the catalog on every read; OutOfStock marks lines
// whose requested quantity can no longer be satisfied.
type CartItem struct {
	VariantID  string
	ProductID  string
	SKU        string
	Name       string
	Size       string
	Color      string
	UnitPrice  Money
	Quantity   int
	LineTotal  Money
	OutOfStock bool
}

// Cart aggregates the shopper's pending items together with server-computed
// totals. Totals are never accepted from clients.
type Cart struct {
	ID          string
	Shopper     ShopperRef
	Items       []CartItem
	CouponCode  string
	Subtotal    Money
	Discount    Money
	ShippingFee Money
	Total       Money
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

// OrderStatus enumerates the fulfilment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state: the order exists and awaits
	// payment confirmation (or COD acceptance).
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid means a payment attempt succeeded with a verified amount.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing means the warehouse is preparing the order.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipping means the order has been handed to the carrier.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusCompleted is the terminal success state.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled is the terminal failure state, reachable only
	// before fulfilment starts.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether the status is one of the declared lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipping, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentStatus tracks the money side of an order, independent of fulfilment.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "UNPAID"
	PaymentStatusPaid          PaymentStatus = "PAID"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefundPending PaymentStatus = "REFUND_PENDING"
)

// PaymentMethod enumerates the supported payment channels.
type PaymentMethod string

const (
	PaymentMethodCOD   PaymentMethod = "COD"
	PaymentMethodCard  PaymentMethod = "CARD"
	PaymentMethodMoMo  PaymentMethod = "MOMO"
	PaymentMethodVNPay PaymentMethod = "VNPAY"
)

// Valid reports whether the method is one this service can route.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodMoMo, PaymentMethodVNPay:
		return true
	}
	return false
}

// OrderContact carries the recipient details captured at checkout. Guest
// orders are looked up by Phone together with the order code.
type OrderContact struct {
	FullName string
	Phone    string
	Email    string
}

// Address is the shipping destination of an order.
type Address struct {
	Line1    string
	Ward     string
	District string
	Province string
	Country  string
}

// OrderItem is an immutable snapshot of a purchased line. Prices come from
// the catalog at order creation, never from the cart payload.
type OrderItem struct {
	VariantID string
	ProductID string
	SKU       string
	Name      string
	Size      string
	Color     string
	UnitPrice Money
	Quantity  int
	LineTotal Money
}

// OrderAmounts is the monetary breakdown of an order.
// Total = Subtotal - Discount + ShippingFee.
type OrderAmounts struct {
	Subtotal    Money
	Discount    Money
	ShippingFee Money
	Total       Money
}

// Order is the aggregate produced by checkout.
type Order struct {
	ID              string
	Code            string
	Shopper         ShopperRef
	Contact         OrderContact
	ShippingAddress Address
	Items           []OrderItem
	Amounts         OrderAmounts
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	TransactionID   string
	CouponCode      string
	Note            string
	CancelReason    string
	SearchKeywords  []string

	PlacedAt     time.Time
	PaidAt       *time.Time
	ProcessingAt *time.Time
	ShippedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	UpdatedAt    time.Time
}

// AttemptStatus enumerates the lifecycle of a payment attempt.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "PENDING"
	AttemptStatusSucceeded AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
	AttemptStatusExpired   AttemptStatus = "EXPIRED"
)

// Terminal reports whether the attempt can no longer change state.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSucceeded || s == AttemptStatusFailed || s == AttemptStatusExpired
}

// PaymentAttempt records one try at collecting an order's total through a
// gateway. At most one non-terminal attempt exists per order.
type PaymentAttempt struct {
	ID           string
	OrderID      string
	OrderCode    string
	Method       PaymentMethod
	Amount       Money
	Status       AttemptStatus
	GatewayRef   string
	GatewayTxnID string
	FailureCode  string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ExpiresAt    *time.Time
}

// HandleKind discriminates the shape of a PaymentHandle.
type HandleKind string

const (
	// HandleKindImmediate means no further client action is required (COD).
	HandleKindImmediate HandleKind = "immediate"
	// HandleKindClientSecret instructs the client to confirm a card payment
	// with the PSP's SDK.
	HandleKindClientSecret HandleKind = "client_secret"
	// HandleKindRedirect sends the shopper to a wallet URL; QRCodeURL is
	// present when the gateway supplied one.
	HandleKindRedirect HandleKind = "redirect"
)

// PaymentHandle is what checkout returns to the client so the payment can be
// completed. Fields beyond Kind are populated per kind; a redirect handle
// without a QR code URL is a valid degraded state.
type PaymentHandle struct {
	Kind         HandleKind
	AttemptID    string
	GatewayRef   string
	ClientSecret string
	RedirectURL  string
	QRCodeURL    string
	ExpiresAt    *time.Time
}

// Pagination captures cursor-style listing inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is a generic page of results with an optional continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderEvent is the payload published to Pub/Sub on order lifecycle changes.
type OrderEvent struct {
	Type       string
	OrderID    string
	OrderCode  string
	Status     OrderStatus
	PrevStatus OrderStatus
	OccurredAt time.Time
	Metadata   map[string]string
}

// FormatVND renders an amount for logs and messages, e.g. "530000 VND".
func FormatVND(amount Money) string {
	return fmt.Sprintf("%d VND", amount)
}
