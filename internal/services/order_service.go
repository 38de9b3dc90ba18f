package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/textutil"
	"github.com/phankid/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates no order matches the given reference.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order backend cannot fulfil the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderConflict indicates a concurrent modification won the write race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart indicates checkout was attempted with no cart lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderInsufficientStock indicates at least one line cannot be
	// satisfied; the message names the blocking variant IDs.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderInvalidTransition indicates the requested status change is not a
	// legal edge of the order lifecycle.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
)

// orderTransitions is the full set of legal lifecycle edges. Anything not
// listed here, including re-applying the current status, is rejected.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipping},
	domain.OrderStatusShipping:   {domain.OrderStatusCompleted},
}

// adminTransitionTargets are the statuses staff may drive directly. PAID and
// CANCELLED have dedicated entry points with their own guards.
var adminTransitionTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusProcessing: true,
	domain.OrderStatusShipping:   true,
	domain.OrderStatusCompleted:  true,
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// orderEventPublisher mirrors the Pub/Sub publisher used for order lifecycle
// events.
type orderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
}

// orderCodeIssuer mints the next human-readable order code.
type orderCodeIssuer interface {
	NextOrderCode(ctx context.Context) (string, error)
}

// OrderServiceDeps wires persistence, catalog, and messaging dependencies for
// order operations.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Variants    repositories.VariantRepository
	Carts       repositories.CartRepository
	Coupons     repositories.CouponRepository
	Counters    orderCodeIssuer
	Shipping    domain.ShippingPolicy
	Publisher   orderEventPublisher
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	variants  repositories.VariantRepository
	carts     repositories.CartRepository
	coupons   *couponResolver
	counters  orderCodeIssuer
	shipping  domain.ShippingPolicy
	publisher orderEventPublisher
	audit     AuditLogService
	sanitizer *bluemonday.Policy
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("order service: variant repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	shipping := deps.Shipping
	if shipping == nil {
		shipping = domain.DefaultShippingPolicy()
	}

	return &orderService{
		orders:    deps.Orders,
		variants:  deps.Variants,
		carts:     deps.Carts,
		coupons:   newCouponResolver(deps.Coupons, clock),
		counters:  deps.Counters,
		shipping:  shipping,
		publisher: deps.Publisher,
		audit:     deps.Audit,
		sanitizer: bluemonday.StrictPolicy(),
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// CreateFromCart converts the shopper's cart into a PENDING order. Prices and
// the shipping fee are recomputed from the catalog; stock for every line is
// taken atomically before the order document is written, and the cart is only
// cleared once the order has been committed.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateOrderInput(cmd); err != nil {
		return Order{}, err
	}

	cart, err := s.carts.GetCart(ctx, cmd.Shopper.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.translateRepoError(err)
	}
	if cart.IsEmpty() {
		return Order{}, ErrOrderEmptyCart
	}

	items, subtotal, err := s.priceLines(ctx, cart.Items)
	if err != nil {
		return Order{}, err
	}

	var discount domain.Money
	couponCode := cart.CouponCode
	if couponCode != "" {
		_, discount, err = s.coupons.Resolve(ctx, couponCode, subtotal)
		if err != nil {
			if errors.Is(err, ErrCouponUnavailable) {
				return Order{}, ErrOrderUnavailable
			}
			// A coupon that lapsed between cart and checkout is dropped, not
			// a reason to block the order.
			s.logger(ctx, "order.coupon_dropped", map[string]any{
				"cartKey": cart.ID,
				"coupon":  couponCode,
			})
			couponCode = ""
			discount = 0
		}
	}

	now := s.now()
	fee := s.shipping.Fee(subtotal-discount, cmd.ShippingAddress)

	code, err := s.counters.NextOrderCode(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: issue code: %w", err)
	}

	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, repositories.StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	if _, err := s.variants.DecrementStock(ctx, repositories.StockDecrementRequest{
		Lines:    lines,
		OrderRef: code,
		Now:      now,
	}); err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			switch stockErr.Code {
			case repositories.StockErrorInsufficient, repositories.StockErrorVariantInactive:
				return Order{}, fmt.Errorf("%w: %s", ErrOrderInsufficientStock, strings.Join(stockErr.Insufficient, ", "))
			case repositories.StockErrorVariantNotFound:
				return Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidInput, stockErr.Message)
			}
		}
		return Order{}, s.translateRepoError(err)
	}

	order := Order{
		ID:              s.newID(),
		Code:            code,
		Shopper:         cmd.Shopper,
		Contact:         normalizeContact(cmd.Contact),
		ShippingAddress: cmd.ShippingAddress,
		Items:           items,
		Amounts: OrderAmounts{
			Subtotal:    subtotal,
			Discount:    discount,
			ShippingFee: fee,
			Total:       subtotal - discount + fee,
		},
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentMethod: cmd.PaymentMethod,
		TransactionID: s.newTransactionID(now),
		CouponCode:    couponCode,
		Note:          s.sanitize(cmd.Note),
		PlacedAt:      now,
		UpdatedAt:     now,
	}
	order.SearchKeywords = textutil.SearchKeywords(order.Contact.FullName, order.Code, order.Contact.Phone)

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseStock(ctx, order, "order insert failed")
		return Order{}, s.translateRepoError(err)
	}

	if err := s.carts.DeleteCart(ctx, cmd.Shopper.Key()); err != nil && !isRepoNotFound(err) {
		// The order exists; a lingering cart is an annoyance, not a failure.
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"orderCode": order.Code,
			"cartKey":   cmd.Shopper.Key(),
			"error":     err.Error(),
		})
	}

	s.publish(ctx, domain.OrderEvent{
		Type:       "order.created",
		OrderID:    order.ID,
		OrderCode:  order.Code,
		Status:     order.Status,
		OccurredAt: now,
		Metadata: map[string]string{
			"paymentMethod": string(order.PaymentMethod),
			"total":         domain.FormatVND(order.Amounts.Total),
		},
	})
	s.recordAudit(ctx, cmd.ActorID, "order.create", order, map[string]any{
		"total":         order.Amounts.Total,
		"paymentMethod": string(order.PaymentMethod),
	})

	return order, nil
}

func (s *orderService) GetByCode(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !cmd.AsStaff && order.Shopper.Key() != cmd.Shopper.Key() {
		// Hide orders owned by other shoppers.
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// Track serves anonymous order lookup: both the code and the contact phone
// must match.
func (s *orderService) Track(ctx context.Context, cmd TrackOrderCommand) (Order, error) {
	code := strings.TrimSpace(cmd.Code)
	phone := normalizePhone(cmd.Phone)
	if code == "" || phone == "" {
		return Order{}, fmt.Errorf("%w: order code and phone are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if normalizePhone(order.Contact.Phone) != phone {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Keyword != "" {
		filter.Keyword = textutil.Fold(strings.ToLower(strings.TrimSpace(filter.Keyword)))
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// TransitionStatus drives staff-side fulfilment: PROCESSING, SHIPPING, and
// COMPLETED. Payment and cancellation have their own entry points.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	if !adminTransitionTargets[cmd.Target] {
		return Order{}, fmt.Errorf("%w: %s is not a staff-drivable status", ErrOrderInvalidTransition, cmd.Target)
	}

	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !transitionAllowed(order.Status, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.Target)
	}

	prev := order.Status
	now := s.now()
	order.Status = cmd.Target
	order.UpdatedAt = now
	switch cmd.Target {
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
	case domain.OrderStatusShipping:
		order.ShippedAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publishStatusChange(ctx, order, prev, now, nil)
	s.recordAudit(ctx, cmd.ActorID, "order.status_change", order, map[string]any{
		"from": string(prev),
		"to":   string(order.Status),
	})
	return order, nil
}

// MarkPaid is called by the payment pipeline once an attempt succeeded with a
// verified amount. Replaying it against an already-paid order is a no-op.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if order.Status == domain.OrderStatusPaid && order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}
	if !transitionAllowed(order.Status, domain.OrderStatusPaid) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusPaid)
	}

	prev := order.Status
	now := s.now()
	paidAt := cmd.PaidAt.UTC()
	if cmd.PaidAt.IsZero() {
		paidAt = now
	}
	order.Status = domain.OrderStatusPaid
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaidAt = &paidAt
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publishStatusChange(ctx, order, prev, now, map[string]string{
		"attemptId":    cmd.AttemptID,
		"gatewayTxnId": cmd.GatewayTxnID,
	})
	s.recordAudit(ctx, firstNonEmpty(cmd.ActorID, "payment-pipeline"), "order.mark_paid", order, map[string]any{
		"attemptId": cmd.AttemptID,
	})
	return order, nil
}

// Cancel moves an order to CANCELLED and releases its stock. Shoppers may
// cancel only at PENDING; staff additionally at PAID, which flags the payment
// for refund. A non-empty reason is mandatory.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !cmd.AsStaff && order.Shopper.Key() != cmd.Shopper.Key() {
		return Order{}, ErrOrderNotFound
	}

	switch order.Status {
	case domain.OrderStatusPending:
	case domain.OrderStatusPaid:
		if !cmd.AsStaff {
			return Order{}, fmt.Errorf("%w: shoppers cannot cancel a paid order", ErrOrderInvalidTransition)
		}
	default:
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	prev := order.Status
	now := s.now()
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.CancelledAt = &now
	order.UpdatedAt = now
	if prev == domain.OrderStatusPaid {
		order.PaymentStatus = domain.PaymentStatusRefundPending
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.releaseStock(ctx, order, "order cancelled")

	s.publishStatusChange(ctx, order, prev, now, map[string]string{"reason": reason})
	s.recordAudit(ctx, cmd.ActorID, "order.cancel", order, map[string]any{
		"from":   string(prev),
		"reason": reason,
	})
	return order, nil
}

// priceLines re-reads every cart line's variant and builds immutable order
// items priced from the catalog. Cart snapshots are never trusted.
func (s *orderService) priceLines(ctx context.Context, cartItems []domain.CartItem) ([]OrderItem, domain.Money, error) {
	ids := make([]string, 0, len(cartItems))
	for _, item := range cartItems {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.variants.GetMany(ctx, ids)
	if err != nil {
		return nil, 0, s.translateRepoError(err)
	}

	items := make([]OrderItem, 0, len(cartItems))
	var subtotal domain.Money
	for _, line := range cartItems {
		if line.Quantity <= 0 {
			continue
		}
		variant, ok := variants[line.VariantID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown variant %s", ErrOrderInvalidInput, line.VariantID)
		}
		item := OrderItem{
			VariantID: variant.ID,
			ProductID: variant.ProductID,
			SKU:       variant.SKU,
			Name:      variant.Name,
			Size:      variant.Size,
			Color:     variant.Color,
			UnitPrice: variant.Price,
			Quantity:  line.Quantity,
			LineTotal: variant.Price * int64(line.Quantity),
		}
		items = append(items, item)
		subtotal += item.LineTotal
	}
	if len(items) == 0 {
		return nil, 0, ErrOrderEmptyCart
	}
	return items, subtotal, nil
}

// releaseStock returns an order's reserved quantities to the catalog. Failures
// are logged for manual reconciliation rather than propagated.
func (s *orderService) releaseStock(ctx context.Context, order Order, reason string) {
	lines := make([]repositories.StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, repositories.StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	if err := s.variants.IncrementStock(ctx, repositories.StockIncrementRequest{
		Lines:    lines,
		OrderRef: order.Code,
		Reason:   reason,
		Now:      s.now(),
	}); err != nil {
		s.logger(ctx, "order.stock_release_failed", map[string]any{
			"orderCode": order.Code,
			"reason":    reason,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) publishStatusChange(ctx context.Context, order Order, prev domain.OrderStatus, at time.Time, metadata map[string]string) {
	s.publish(ctx, domain.OrderEvent{
		Type:       "order.status_changed",
		OrderID:    order.ID,
		OrderCode:  order.Code,
		Status:     order.Status,
		PrevStatus: prev,
		OccurredAt: at,
		Metadata:   metadata,
	})
}

// publish sends a lifecycle event; delivery failures are logged, never surfaced.
func (s *orderService) publish(ctx context.Context, event domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":      event.Type,
			"orderCode": event.OrderCode,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, actor, action string, order Order, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      firstNonEmpty(actor, "system"),
		ActorType:  "service",
		Action:     action,
		TargetRef:  "orders/" + order.Code,
		Severity:   "info",
		OccurredAt: s.now(),
		Metadata:   metadata,
	})
}

func (s *orderService) sanitize(input string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(input))
}

// newTransactionID suffixes the millisecond timestamp with the tail of a
// fresh ULID. The tail is the random half; the head is a timestamp and would
// collide for orders created in the same millisecond.
func (s *orderService) newTransactionID(now time.Time) string {
	id := s.newID()
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return fmt.Sprintf("TXN%d-%s", now.UnixMilli(), id)
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return ErrOrderUnavailable
}

func validateOrderInput(cmd CreateOrderCommand) error {
	if cmd.Shopper.IsZero() {
		return fmt.Errorf("%w: shopper is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Contact.FullName) == "" {
		return fmt.Errorf("%w: contact full name is required", ErrOrderInvalidInput)
	}
	if normalizePhone(cmd.Contact.Phone) == "" {
		return fmt.Errorf("%w: contact phone is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Line1) == "" || strings.TrimSpace(cmd.ShippingAddress.Province) == "" {
		return fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	return nil
}

func normalizeContact(contact OrderContact) OrderContact {
	return OrderContact{
		FullName: strings.TrimSpace(contact.FullName),
		Phone:    normalizePhone(contact.Phone),
		Email:    strings.ToLower(strings.TrimSpace(contact.Email)),
	}
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
