package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/payments"
	"github.com/phankid/api/internal/repositories"
)

type stubOrderService struct {
	createFn func(context.Context, CreateOrderCommand) (Order, error)
	getFn    func(context.Context, GetOrderCommand) (Order, error)
	markFn   func(context.Context, MarkOrderPaidCommand) (Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s.createFn == nil {
		return Order{}, errors.New("createFn not configured")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetByCode(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	if s.getFn == nil {
		return Order{}, errors.New("getFn not configured")
	}
	return s.getFn(ctx, cmd)
}

func (s *stubOrderService) Track(context.Context, TrackOrderCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(context.Context, OrderListFilter) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(context.Context, OrderStatusTransitionCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error) {
	if s.markFn == nil {
		return Order{}, errors.New("markFn not configured")
	}
	return s.markFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(context.Context, CancelOrderCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

type stubAttemptRepository struct {
	byID      map[string]domain.PaymentAttempt
	inserted  []domain.PaymentAttempt
	updated   []domain.PaymentAttempt
	insertErr error
}

func newStubAttemptRepository() *stubAttemptRepository {
	return &stubAttemptRepository{byID: make(map[string]domain.PaymentAttempt)}
}

func (s *stubAttemptRepository) Insert(ctx context.Context, attempt domain.PaymentAttempt) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.byID[attempt.ID] = attempt
	s.inserted = append(s.inserted, attempt)
	return nil
}

func (s *stubAttemptRepository) Update(ctx context.Context, attempt domain.PaymentAttempt) error {
	if _, ok := s.byID[attempt.ID]; !ok {
		return errStubNotFound
	}
	s.byID[attempt.ID] = attempt
	s.updated = append(s.updated, attempt)
	return nil
}

func (s *stubAttemptRepository) FindByID(ctx context.Context, attemptID string) (domain.PaymentAttempt, error) {
	attempt, ok := s.byID[attemptID]
	if !ok {
		return domain.PaymentAttempt{}, errStubNotFound
	}
	return attempt, nil
}

func (s *stubAttemptRepository) FindByGatewayRef(ctx context.Context, gatewayRef string) (domain.PaymentAttempt, error) {
	for _, attempt := range s.byID {
		if attempt.GatewayRef == gatewayRef {
			return attempt, nil
		}
	}
	return domain.PaymentAttempt{}, errStubNotFound
}

func (s *stubAttemptRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, attempt := range s.byID {
		if attempt.OrderID == orderID {
			out = append(out, attempt)
		}
	}
	return out, nil
}

func (s *stubAttemptRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, attempt := range s.byID {
		if attempt.Status == domain.AttemptStatusPending && attempt.ExpiresAt != nil && attempt.ExpiresAt.Before(cutoff) {
			out = append(out, attempt)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

var _ repositories.PaymentAttemptRepository = (*stubAttemptRepository)(nil)

type stubInitiator struct {
	handle   domain.PaymentHandle
	err      error
	requests []payments.InitiateRequest
}

func (s *stubInitiator) Initiate(ctx context.Context, req payments.InitiateRequest) (domain.PaymentHandle, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return domain.PaymentHandle{}, s.err
	}
	return s.handle, nil
}

type recordingDispatcher struct {
	payloads []PaymentExpiryPayload
}

func (d *recordingDispatcher) EnqueuePaymentExpiry(ctx context.Context, payload PaymentExpiryPayload) (string, error) {
	d.payloads = append(d.payloads, payload)
	return "task-1", nil
}

func pendingOrder() Order {
	return Order{
		ID:            "order-1",
		Code:          "ORD-20250506-000042",
		Shopper:       ShopperRef{UserID: "user-1"},
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentMethod: domain.PaymentMethodCOD,
		Amounts:       OrderAmounts{Subtotal: 500_000, ShippingFee: 30_000, Total: 530_000},
	}
}

type checkoutFixture struct {
	svc        CheckoutService
	orders     *stubOrderService
	attempts   *stubAttemptRepository
	gateway    *stubInitiator
	dispatcher *recordingDispatcher
	now        time.Time
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	fx := &checkoutFixture{
		orders:     &stubOrderService{},
		attempts:   newStubAttemptRepository(),
		gateway:    &stubInitiator{handle: domain.PaymentHandle{Kind: domain.HandleKindImmediate}},
		dispatcher: &recordingDispatcher{},
		now:        time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC),
	}
	seq := 0
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:     fx.orders,
		Attempts:   fx.attempts,
		Gateways:   fx.gateway,
		Dispatcher: fx.dispatcher,
		Clock:      func() time.Time { return fx.now },
		IDGenerator: func() string {
			seq++
			return "pa-" + string(rune('0'+seq))
		},
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	fx.svc = svc
	return fx
}

func TestCheckoutSubmitCOD(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	fx.orders.createFn = func(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
		if cmd.PaymentMethod != domain.PaymentMethodCOD {
			t.Fatalf("unexpected method %s", cmd.PaymentMethod)
		}
		return order, nil
	}

	result, err := fx.svc.Submit(context.Background(), CheckoutCommand{
		Shopper:       order.Shopper,
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if result.Attempt.Status != domain.AttemptStatusPending {
		t.Fatalf("expected pending attempt, got %s", result.Attempt.Status)
	}
	if result.Attempt.Amount != 530_000 {
		t.Fatalf("expected attempt amount 530000, got %d", result.Attempt.Amount)
	}
	if result.Attempt.GatewayRef != "PK20250506000042" {
		t.Fatalf("unexpected merchant ref %q", result.Attempt.GatewayRef)
	}
	// COD settles offline; the reaper must never expire it.
	if result.Attempt.ExpiresAt != nil {
		t.Fatalf("expected no expiry for COD attempt")
	}
	if result.Handle.Kind != domain.HandleKindImmediate {
		t.Fatalf("expected immediate handle, got %s", result.Handle.Kind)
	}
	if len(fx.attempts.inserted) != 1 {
		t.Fatalf("expected one persisted attempt, got %d", len(fx.attempts.inserted))
	}
	if len(fx.dispatcher.payloads) != 0 {
		t.Fatalf("expected no expiry task for COD")
	}
}

func TestCheckoutSubmitWalletSetsExpiry(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	order.PaymentMethod = domain.PaymentMethodVNPay
	fx.orders.createFn = func(context.Context, CreateOrderCommand) (Order, error) { return order, nil }
	fx.gateway.handle = domain.PaymentHandle{
		Kind:        domain.HandleKindRedirect,
		RedirectURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=PK20250506000042",
	}

	result, err := fx.svc.Submit(context.Background(), CheckoutCommand{
		Shopper:       order.Shopper,
		PaymentMethod: domain.PaymentMethodVNPay,
		ClientIP:      "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	wantExpiry := fx.now.Add(30 * time.Minute)
	if result.Attempt.ExpiresAt == nil || !result.Attempt.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, result.Attempt.ExpiresAt)
	}
	if result.Handle.RedirectURL == "" {
		t.Fatalf("expected redirect URL in handle")
	}
	if result.Handle.AttemptID != result.Attempt.ID {
		t.Fatalf("expected handle bound to attempt, got %q", result.Handle.AttemptID)
	}
	if len(fx.gateway.requests) != 1 || fx.gateway.requests[0].ClientIP != "203.0.113.7" {
		t.Fatalf("expected client IP forwarded to gateway")
	}
	if len(fx.dispatcher.payloads) != 1 || !fx.dispatcher.payloads[0].Cutoff.Equal(wantExpiry) {
		t.Fatalf("expected expiry task at %v, got %+v", wantExpiry, fx.dispatcher.payloads)
	}
}

func TestCheckoutSubmitCardAdoptsGatewayReference(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	order.PaymentMethod = domain.PaymentMethodCard
	fx.orders.createFn = func(context.Context, CreateOrderCommand) (Order, error) { return order, nil }
	fx.gateway.handle = domain.PaymentHandle{
		Kind:         domain.HandleKindClientSecret,
		GatewayRef:   "pi_123",
		ClientSecret: "pi_123_secret_abc",
	}

	result, err := fx.svc.Submit(context.Background(), CheckoutCommand{
		Shopper:       order.Shopper,
		PaymentMethod: domain.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Attempt.GatewayRef != "pi_123" {
		t.Fatalf("expected intent id as attempt ref, got %q", result.Attempt.GatewayRef)
	}
}

func TestCheckoutSubmitGatewayFailure(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	order.PaymentMethod = domain.PaymentMethodMoMo
	fx.orders.createFn = func(context.Context, CreateOrderCommand) (Order, error) { return order, nil }
	fx.gateway.err = errors.New("connection refused")

	_, err := fx.svc.Submit(context.Background(), CheckoutCommand{
		Shopper:       order.Shopper,
		PaymentMethod: domain.PaymentMethodMoMo,
	})
	if !errors.Is(err, ErrCheckoutGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}

	if len(fx.attempts.inserted) != 1 {
		t.Fatalf("expected failed attempt persisted, got %d", len(fx.attempts.inserted))
	}
	failed := fx.attempts.inserted[0]
	if failed.Status != domain.AttemptStatusFailed {
		t.Fatalf("expected FAILED attempt, got %s", failed.Status)
	}
	if failed.FailureCode != "gateway_unavailable" {
		t.Fatalf("unexpected failure code %q", failed.FailureCode)
	}
}

func TestCheckoutSubmitRejectsInvalidMethod(t *testing.T) {
	fx := newCheckoutFixture(t)
	if _, err := fx.svc.Submit(context.Background(), CheckoutCommand{PaymentMethod: "GIFTCARD"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckoutRetryPaymentGuardsInFlightAttempt(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	fx.orders.getFn = func(context.Context, GetOrderCommand) (Order, error) { return order, nil }
	fx.attempts.byID["pa-open"] = domain.PaymentAttempt{
		ID:      "pa-open",
		OrderID: order.ID,
		Status:  domain.AttemptStatusPending,
	}

	_, err := fx.svc.RetryPayment(context.Background(), RetryPaymentCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
	})
	if !errors.Is(err, ErrCheckoutAttemptInFlight) {
		t.Fatalf("expected in-flight guard, got %v", err)
	}
}

func TestCheckoutRetryPaymentIssuesFreshReference(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	order.PaymentMethod = domain.PaymentMethodVNPay
	fx.orders.getFn = func(context.Context, GetOrderCommand) (Order, error) { return order, nil }
	fx.gateway.handle = domain.PaymentHandle{Kind: domain.HandleKindRedirect, RedirectURL: "https://example.test/pay"}
	completed := fx.now.Add(-10 * time.Minute)
	fx.attempts.byID["pa-old"] = domain.PaymentAttempt{
		ID:          "pa-old",
		OrderID:     order.ID,
		Status:      domain.AttemptStatusFailed,
		GatewayRef:  "PK20250506000042",
		CompletedAt: &completed,
	}

	result, err := fx.svc.RetryPayment(context.Background(), RetryPaymentCommand{
		Code:    order.Code,
		Shopper: order.Shopper,
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Attempt.GatewayRef != "PK20250506000042-2" {
		t.Fatalf("expected suffixed merchant ref, got %q", result.Attempt.GatewayRef)
	}
	if result.Attempt.Method != domain.PaymentMethodVNPay {
		t.Fatalf("expected order method reused, got %s", result.Attempt.Method)
	}
}

func TestCheckoutRetryPaymentRejectsSettledOrder(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := pendingOrder()
	order.Status = domain.OrderStatusPaid
	fx.orders.getFn = func(context.Context, GetOrderCommand) (Order, error) { return order, nil }

	_, err := fx.svc.RetryPayment(context.Background(), RetryPaymentCommand{Code: order.Code, Shopper: order.Shopper})
	if !errors.Is(err, ErrCheckoutOrderNotPayable) {
		t.Fatalf("expected not payable, got %v", err)
	}
}
