package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/repositories"
)

type stubOrderRepository struct {
	byID     map[string]domain.Order
	inserted []domain.Order
	updated  []domain.Order
	listFn   func(repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func newStubOrderRepository() *stubOrderRepository {
	return &stubOrderRepository{byID: make(map[string]domain.Order)}
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.byID[order.ID] = order
	s.inserted = append(s.inserted, order)
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if _, ok := s.byID[order.ID]; !ok {
		return errStubNotFound
	}
	s.byID[order.ID] = order
	s.updated = append(s.updated, order)
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := s.byID[orderID]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	return order, nil
}

func (s *stubOrderRepository) FindByCode(ctx context.Context, orderCode string) (domain.Order, error) {
	for _, order := range s.byID {
		if order.Code == orderCode {
			return order, nil
		}
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubStockRepository struct {
	*stubVariantCatalog
	decrements   []repositories.StockDecrementRequest
	increments   []repositories.StockIncrementRequest
	decrementErr error
}

func newStubStockRepository(catalog *stubVariantCatalog) *stubStockRepository {
	return &stubStockRepository{stubVariantCatalog: catalog}
}

func (s *stubStockRepository) DecrementStock(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if s.decrementErr != nil {
		return repositories.StockDecrementResult{}, s.decrementErr
	}
	var insufficient []string
	for _, line := range req.Lines {
		variant, ok := s.variants[line.VariantID]
		if !ok || !variant.Active || variant.Stock < line.Quantity {
			insufficient = append(insufficient, line.VariantID)
		}
	}
	if len(insufficient) > 0 {
		err := repositories.NewStockError(repositories.StockErrorInsufficient, "insufficient stock", nil)
		err.Insufficient = insufficient
		return repositories.StockDecrementResult{Insufficient: insufficient}, err
	}
	stock := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		variant := s.variants[line.VariantID]
		variant.Stock -= line.Quantity
		s.variants[line.VariantID] = variant
		stock[line.VariantID] = variant.Stock
	}
	s.decrements = append(s.decrements, req)
	return repositories.StockDecrementResult{Stock: stock}, nil
}

func (s *stubStockRepository) IncrementStock(ctx context.Context, req repositories.StockIncrementRequest) error {
	for _, line := range req.Lines {
		variant := s.variants[line.VariantID]
		variant.Stock += line.Quantity
		s.variants[line.VariantID] = variant
	}
	s.increments = append(s.increments, req)
	return nil
}

type stubCodeIssuer struct {
	codes []string
	next  int
}

func (s *stubCodeIssuer) NextOrderCode(ctx context.Context) (string, error) {
	if s.next >= len(s.codes) {
		return "", errors.New("counter exhausted")
	}
	code := s.codes[s.next]
	s.next++
	return code, nil
}

type recordingPublisher struct {
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-1", nil
}

type recordingAudit struct {
	records []AuditLogRecord
}

func (a *recordingAudit) Record(ctx context.Context, record AuditLogRecord) {
	a.records = append(a.records, record)
}

func (a *recordingAudit) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

type orderFixture struct {
	svc       OrderService
	orders    *stubOrderRepository
	stock     *stubStockRepository
	carts     *stubCartRepository
	publisher *recordingPublisher
	audit     *recordingAudit
	now       time.Time
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	fx := &orderFixture{
		orders:    newStubOrderRepository(),
		stock:     newStubStockRepository(testVariants()),
		carts:     newStubCartRepository(),
		publisher: &recordingPublisher{},
		audit:     &recordingAudit{},
		now:       time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC),
	}

	seq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    fx.orders,
		Variants:  fx.stock,
		Carts:     fx.carts,
		Counters:  &stubCodeIssuer{codes: []string{"ORD-20250506-000042", "ORD-20250506-000043"}},
		Publisher: fx.publisher,
		Audit:     fx.audit,
		Clock:     func() time.Time { return fx.now },
		IDGenerator: func() string {
			seq++
			return strings.Repeat("0", 25) + string(rune('A'+seq))
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *orderFixture) seedCart(t *testing.T, shopper ShopperRef, items ...domain.CartItem) {
	t.Helper()
	fx.carts.carts[shopper.Key()] = domain.Cart{
		ID:      shopper.Key(),
		Shopper: shopper,
		Items:   items,
	}
}

func validCreateCommand(shopper ShopperRef) CreateOrderCommand {
	return CreateOrderCommand{
		Shopper: shopper,
		Contact: OrderContact{FullName: "Nguyễn Văn An", Phone: "0901 234 567", Email: "An@Example.com"},
		ShippingAddress: Address{
			Line1: "12 Lý Thường Kiệt", Ward: "Phường 7", District: "Quận 3",
			Province: "TP. Hồ Chí Minh", Country: "VN",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestOrderServiceCreateFromCartComputesAmounts(t *testing.T) {
	fx := newOrderFixture(t)
	shopper := ShopperRef{UserID: "user-1"}
	fx.seedCart(t, shopper, domain.CartItem{VariantID: "var-tee-red-3t", Quantity: 2})

	order, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(shopper))
	if err != nil {
		t.Fatalf("create from cart: %v", err)
	}

	if order.Code != "ORD-20250506-000042" {
		t.Fatalf("unexpected order code %q", order.Code)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("unexpected initial state %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Amounts.Subtotal != 500_000 || order.Amounts.ShippingFee != 30_000 || order.Amounts.Total != 530_000 {
		t.Fatalf("unexpected amounts %+v", order.Amounts)
	}
	if order.Items[0].UnitPrice != 250_000 {
		t.Fatalf("expected catalog price snapshot, got %d", order.Items[0].UnitPrice)
	}
	if order.Contact.Phone != "0901234567" {
		t.Fatalf("expected normalized phone, got %q", order.Contact.Phone)
	}
	if len(fx.stock.decrements) != 1 {
		t.Fatalf("expected one stock decrement, got %d", len(fx.stock.decrements))
	}
	if _, ok := fx.carts.carts[shopper.Key()]; ok {
		t.Fatalf("expected cart cleared after order creation")
	}
	if len(fx.publisher.events) != 1 || fx.publisher.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", fx.publisher.events)
	}

	wantKeywords := []string{"nguyen", "van", "an", "ord-20250506-000042", "0901234567"}
	if len(order.SearchKeywords) != len(wantKeywords) {
		t.Fatalf("unexpected keywords %v", order.SearchKeywords)
	}
	for i, kw := range wantKeywords {
		if order.SearchKeywords[i] != kw {
			t.Fatalf("expected keyword %q at %d, got %v", kw, i, order.SearchKeywords)
		}
	}
}

func TestOrderServiceCreateFromCartEmptyCart(t *testing.T) {
	fx := newOrderFixture(t)
	shopper := ShopperRef{UserID: "user-1"}

	if _, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(shopper)); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}

	fx.seedCart(t, shopper)
	if _, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(shopper)); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected empty cart error for zero lines, got %v", err)
	}
}

func TestOrderServiceCreateFromCartValidatesInput(t *testing.T) {
	fx := newOrderFixture(t)
	shopper := ShopperRef{UserID: "user-1"}
	fx.seedCart(t, shopper, domain.CartItem{VariantID: "var-tee-red-3t", Quantity: 1})

	cmd := validCreateCommand(shopper)
	cmd.Contact.Phone = "   "
	if _, err := fx.svc.CreateFromCart(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for missing phone, got %v", err)
	}

	cmd = validCreateCommand(shopper)
	cmd.PaymentMethod = "BITCOIN"
	if _, err := fx.svc.CreateFromCart(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown method, got %v", err)
	}
}

func TestOrderServiceCreateFromCartInsufficientStock(t *testing.T) {
	fx := newOrderFixture(t)
	shopper := ShopperRef{UserID: "user-1"}
	fx.seedCart(t, shopper,
		domain.CartItem{VariantID: "var-tee-red-3t", Quantity: 2},
		domain.CartItem{VariantID: "var-dress-4t", Quantity: 99},
	)

	_, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(shopper))
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "var-dress-4t") {
		t.Fatalf("expected blocking variant id in error, got %v", err)
	}
	if len(fx.orders.inserted) != 0 {
		t.Fatalf("expected no order inserted on stock failure")
	}
	if _, ok := fx.carts.carts[shopper.Key()]; !ok {
		t.Fatalf("expected cart untouched on stock failure")
	}
	// The decrement failed atomically; no stock was taken for the first line.
	if fx.stock.variants["var-tee-red-3t"].Stock != 5 {
		t.Fatalf("expected stock untouched, got %d", fx.stock.variants["var-tee-red-3t"].Stock)
	}
}

func (fx *orderFixture) seedOrder(t *testing.T, status domain.OrderStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:      "order-1",
		Code:    "ORD-20250506-000042",
		Shopper: ShopperRef{UserID: "user-1"},
		Contact: OrderContact{FullName: "Nguyễn Văn An", Phone: "0901234567"},
		Items: []domain.OrderItem{
			{VariantID: "var-tee-red-3t", Quantity: 2, UnitPrice: 250_000, LineTotal: 500_000},
		},
		Amounts:       OrderAmounts{Subtotal: 500_000, ShippingFee: 30_000, Total: 530_000},
		Status:        status,
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentMethod: domain.PaymentMethodCOD,
		PlacedAt:      fx.now.Add(-time.Hour),
	}
	fx.orders.byID[order.ID] = order
	return order
}

func TestOrderServiceTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.OrderStatus
		target  domain.OrderStatus
		wantErr error
	}{
		{name: "paid to processing", from: domain.OrderStatusPaid, target: domain.OrderStatusProcessing},
		{name: "processing to shipping", from: domain.OrderStatusProcessing, target: domain.OrderStatusShipping},
		{name: "shipping to completed", from: domain.OrderStatusShipping, target: domain.OrderStatusCompleted},
		{name: "pending cannot skip to processing", from: domain.OrderStatusPending, target: domain.OrderStatusProcessing, wantErr: ErrOrderInvalidTransition},
		{name: "pending cannot skip to shipping", from: domain.OrderStatusPending, target: domain.OrderStatusShipping, wantErr: ErrOrderInvalidTransition},
		{name: "paid cannot skip to completed", from: domain.OrderStatusPaid, target: domain.OrderStatusCompleted, wantErr: ErrOrderInvalidTransition},
		{name: "no re-applying current status", from: domain.OrderStatusProcessing, target: domain.OrderStatusProcessing, wantErr: ErrOrderInvalidTransition},
		{name: "no backward transition", from: domain.OrderStatusShipping, target: domain.OrderStatusProcessing, wantErr: ErrOrderInvalidTransition},
		{name: "terminal completed", from: domain.OrderStatusCompleted, target: domain.OrderStatusShipping, wantErr: ErrOrderInvalidTransition},
		{name: "staff cannot force paid", from: domain.OrderStatusPending, target: domain.OrderStatusPaid, wantErr: ErrOrderInvalidTransition},
		{name: "staff cannot force cancelled", from: domain.OrderStatusPaid, target: domain.OrderStatusCancelled, wantErr: ErrOrderInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrderFixture(t)
			order := fx.seedOrder(t, tc.from)

			got, err := fx.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				Code:    order.Code,
				Target:  tc.target,
				ActorID: "staff-1",
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if got.Status != tc.target {
				t.Fatalf("expected status %s, got %s", tc.target, got.Status)
			}
			if len(fx.publisher.events) != 1 || fx.publisher.events[0].Type != "order.status_changed" {
				t.Fatalf("expected status change event, got %+v", fx.publisher.events)
			}
			if fx.publisher.events[0].PrevStatus != tc.from {
				t.Fatalf("expected prev status %s, got %s", tc.from, fx.publisher.events[0].PrevStatus)
			}
		})
	}
}

func TestOrderServiceTransitionStampsTimestamps(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPaid)

	got, err := fx.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		Code: order.Code, Target: domain.OrderStatusProcessing, ActorID: "staff-1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.ProcessingAt == nil || !got.ProcessingAt.Equal(fx.now) {
		t.Fatalf("expected processing timestamp %v, got %v", fx.now, got.ProcessingAt)
	}
}

func TestOrderServiceMarkPaid(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)
	paidAt := fx.now.Add(-time.Minute)

	got, err := fx.svc.MarkPaid(context.Background(), MarkOrderPaidCommand{
		OrderID:      order.ID,
		AttemptID:    "pa-1",
		GatewayTxnID: "14422574",
		PaidAt:       paidAt,
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if got.Status != domain.OrderStatusPaid || got.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected state %s/%s", got.Status, got.PaymentStatus)
	}
	if got.PaidAt == nil || !got.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paid at %v, got %v", paidAt, got.PaidAt)
	}

	// Replaying the same confirmation is a no-op.
	replayed, err := fx.svc.MarkPaid(context.Background(), MarkOrderPaidCommand{OrderID: order.ID, AttemptID: "pa-1"})
	if err != nil {
		t.Fatalf("replay mark paid: %v", err)
	}
	if !replayed.PaidAt.Equal(paidAt) {
		t.Fatalf("expected original paid timestamp preserved, got %v", replayed.PaidAt)
	}
	if len(fx.orders.updated) != 1 {
		t.Fatalf("expected a single update, got %d", len(fx.orders.updated))
	}
}

func TestOrderServiceMarkPaidRejectsFulfilledOrders(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusShipping)

	if _, err := fx.svc.MarkPaid(context.Background(), MarkOrderPaidCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOrderServiceCancelRequiresReason(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)

	_, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
		Reason:  "   ",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for blank reason, got %v", err)
	}
}

func TestOrderServiceShopperCancelPendingReleasesStock(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)

	got, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
		Reason:  "Đặt nhầm size",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.CancelReason == "" || got.CancelledAt == nil {
		t.Fatalf("expected cancel metadata, got %+v", got)
	}
	if got.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("unpaid order must not become refund pending, got %s", got.PaymentStatus)
	}
	if len(fx.stock.increments) != 1 {
		t.Fatalf("expected stock release, got %d increments", len(fx.stock.increments))
	}
	if fx.stock.variants["var-tee-red-3t"].Stock != 7 {
		t.Fatalf("expected stock restored to 7, got %d", fx.stock.variants["var-tee-red-3t"].Stock)
	}
}

func TestOrderServiceShopperCannotCancelPaid(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPaid)

	_, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
		Reason:  "changed my mind",
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOrderServiceStaffCancelPaidFlagsRefund(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPaid)

	got, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
		Code:    order.Code,
		AsStaff: true,
		Reason:  "out of stock at warehouse",
		ActorID: "staff-1",
	})
	if err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusRefundPending {
		t.Fatalf("expected refund pending, got %s", got.PaymentStatus)
	}
}

func TestOrderServiceCancelRejectedOnceFulfilmentStarts(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipping,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	} {
		fx := newOrderFixture(t)
		order := fx.seedOrder(t, status)

		_, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
			Code: order.Code, AsStaff: true, Reason: "too late",
		})
		if !errors.Is(err, ErrOrderInvalidTransition) {
			t.Fatalf("%s: expected invalid transition, got %v", status, err)
		}
	}
}

func TestOrderServiceCancelSanitizesReason(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)

	got, err := fx.svc.Cancel(context.Background(), CancelOrderCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
		Reason:  "<script>alert(1)</script>wrong size",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if strings.Contains(got.CancelReason, "<script>") {
		t.Fatalf("expected sanitized reason, got %q", got.CancelReason)
	}
	if !strings.Contains(got.CancelReason, "wrong size") {
		t.Fatalf("expected reason text preserved, got %q", got.CancelReason)
	}
}

func TestOrderServiceTrackMatchesCodeAndPhone(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)

	got, err := fx.svc.Track(context.Background(), TrackOrderCommand{Code: order.Code, Phone: "0901 234 567"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("unexpected order %q", got.ID)
	}

	if _, err := fx.svc.Track(context.Background(), TrackOrderCommand{Code: order.Code, Phone: "0999999999"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for wrong phone, got %v", err)
	}
}

func TestOrderServiceGetByCodeHidesForeignOrders(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(t, domain.OrderStatusPending)

	if _, err := fx.svc.GetByCode(context.Background(), GetOrderCommand{
		Code:    order.Code,
		Shopper: ShopperRef{UserID: "user-other"},
	}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign shopper, got %v", err)
	}

	got, err := fx.svc.GetByCode(context.Background(), GetOrderCommand{Code: order.Code, AsStaff: true})
	if err != nil {
		t.Fatalf("staff get: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("unexpected order %q", got.ID)
	}
}

func TestOrderServiceListFoldsKeyword(t *testing.T) {
	fx := newOrderFixture(t)
	var captured repositories.OrderListFilter
	fx.orders.listFn = func(filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		captured = filter
		return domain.CursorPage[domain.Order]{}, nil
	}

	if _, err := fx.svc.List(context.Background(), OrderListFilter{Keyword: "Nguyễn"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if captured.Keyword != "nguyen" {
		t.Fatalf("expected folded keyword, got %q", captured.Keyword)
	}
}

func TestOrderServiceTransactionIDsUniqueWithinMillisecond(t *testing.T) {
	fx := newOrderFixture(t)
	first := ShopperRef{UserID: "user-1"}
	second := ShopperRef{UserID: "user-2"}
	fx.seedCart(t, first, domain.CartItem{VariantID: "var-tee-red-3t", Quantity: 1})
	fx.seedCart(t, second, domain.CartItem{VariantID: "var-tee-red-3t", Quantity: 1})

	// The fixture clock is frozen, so both orders share the same millisecond
	// and only the random suffix keeps their transaction ids apart.
	a, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(first))
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	b, err := fx.svc.CreateFromCart(context.Background(), validCreateCommand(second))
	if err != nil {
		t.Fatalf("second order: %v", err)
	}

	wantPrefix := "TXN" + strconv.FormatInt(fx.now.UnixMilli(), 10) + "-"
	if !strings.HasPrefix(a.TransactionID, wantPrefix) || !strings.HasPrefix(b.TransactionID, wantPrefix) {
		t.Fatalf("unexpected transaction id format: %q, %q", a.TransactionID, b.TransactionID)
	}
	if a.TransactionID == b.TransactionID {
		t.Fatalf("transaction ids collided: %q", a.TransactionID)
	}
}
