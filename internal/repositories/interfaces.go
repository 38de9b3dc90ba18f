package repositories

import (
	"context"
	"time"

	domain "github.com/phankid/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Variants() VariantRepository
	Orders() OrderRepository
	PaymentAttempts() PaymentAttemptRepository
	Coupons() CouponRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence with optimistic locking guarantees.
// Carts are keyed by domain.ShopperRef.Key(). A non-nil expectedUpdate makes
// the upsert conditional on the stored document's last update time so
// concurrent writers (e.g. merge racing an add) fail with a conflict.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, cartKey string) (domain.Cart, error)
	DeleteCart(ctx context.Context, cartKey string) error
}

// VariantRepository reads catalog variants and mutates their stock counters.
// Decrement runs inside a single transaction across all requested lines; it
// fails without side effects when any line cannot be satisfied.
type VariantRepository interface {
	Get(ctx context.Context, variantID string) (domain.Variant, error)
	GetMany(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
	DecrementStock(ctx context.Context, req StockDecrementRequest) (StockDecrementResult, error)
	IncrementStock(ctx context.Context, req StockIncrementRequest) error
}

// StockLine pairs a variant with the quantity to reserve or restore.
type StockLine struct {
	VariantID string
	Quantity  int
}

// StockDecrementRequest atomically takes stock for every line of an order.
type StockDecrementRequest struct {
	Lines    []StockLine
	OrderRef string
	Now      time.Time
}

// StockDecrementResult reports the post-decrement stock levels; Insufficient
// lists the variants that blocked the decrement when the request failed.
type StockDecrementResult struct {
	Stock        map[string]int
	Insufficient []string
}

// StockIncrementRequest restores stock, e.g. when an order is cancelled.
type StockIncrementRequest struct {
	Lines    []StockLine
	OrderRef string
	Reason   string
	Now      time.Time
}

// OrderRepository persists order documents and provides query helpers for
// shoppers and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, orderCode string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentAttemptRepository stores payment attempts underneath an order.
type PaymentAttemptRepository interface {
	Insert(ctx context.Context, attempt domain.PaymentAttempt) error
	Update(ctx context.Context, attempt domain.PaymentAttempt) error
	FindByID(ctx context.Context, attemptID string) (domain.PaymentAttempt, error)
	FindByGatewayRef(ctx context.Context, gatewayRef string) (domain.PaymentAttempt, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentAttempt, error)
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentAttempt, error)
}

// CouponRepository reads coupon definitions applied at the cart.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (Coupon, error)
}

// Coupon is a storefront discount definition. Percent coupons carry a basis
// point rate; fixed coupons carry an absolute amount in VND.
type Coupon struct {
	Code        string
	Kind        CouponKind
	AmountOff   domain.Money
	PercentOff  int
	MinSubtotal domain.Money
	Active      bool
	ExpiresAt   *time.Time
}

// CouponKind discriminates coupon discount behaviour.
type CouponKind string

const (
	CouponKindFixed   CouponKind = "fixed"
	CouponKindPercent CouponKind = "percent"
)

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	ShopperKey    string
	Status        []domain.OrderStatus
	PaymentMethod []domain.PaymentMethod
	Keyword       string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
