package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/payments"
	"github.com/phankid/api/internal/repositories"
)

// defaultAttemptTTL bounds how long a wallet or card attempt may stay PENDING
// before the reaper expires it. COD attempts settle offline and never expire.
const defaultAttemptTTL = 30 * time.Minute

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates the checkout backend cannot fulfil the request.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutGatewayUnavailable indicates payment initiation failed at the
	// gateway. The order exists and stays PENDING; the shopper can retry.
	ErrCheckoutGatewayUnavailable = errors.New("checkout: payment gateway unavailable")
	// ErrCheckoutAttemptInFlight indicates a non-terminal payment attempt
	// already exists for the order.
	ErrCheckoutAttemptInFlight = errors.New("checkout: payment attempt already in flight")
	// ErrCheckoutOrderNotPayable indicates the order is past the point where a
	// new payment attempt makes sense.
	ErrCheckoutOrderNotPayable = errors.New("checkout: order is not payable")
)

// paymentInitiator abstracts the gateway manager for checkout.
type paymentInitiator interface {
	Initiate(ctx context.Context, req payments.InitiateRequest) (domain.PaymentHandle, error)
}

// CheckoutServiceDeps wires order creation, attempt persistence, and gateway
// routing for the checkout orchestrator.
type CheckoutServiceDeps struct {
	Orders      OrderService
	Attempts    repositories.PaymentAttemptRepository
	Gateways    paymentInitiator
	Dispatcher  BackgroundJobDispatcher
	AttemptTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     OrderService
	attempts   repositories.PaymentAttemptRepository
	gateways   paymentInitiator
	dispatcher BackgroundJobDispatcher
	attemptTTL time.Duration
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Attempts == nil {
		return nil, errors.New("checkout service: payment attempt repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("checkout service: gateway manager is required")
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
	ttl := deps.AttemptTTL
	if ttl <= 0 {
		ttl = defaultAttemptTTL
	}

	return &checkoutService{
		orders:     deps.Orders,
		attempts:   deps.Attempts,
		gateways:   deps.Gateways,
		dispatcher: deps.Dispatcher,
		attemptTTL: ttl,
		now:        func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Submit creates the order from the shopper's cart and opens its first payment
// attempt. When the gateway cannot be reached the attempt is recorded as
// FAILED and the order stays PENDING so payment can be retried.
func (s *checkoutService) Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if !cmd.PaymentMethod.Valid() {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	order, err := s.orders.CreateFromCart(ctx, CreateOrderCommand{
		Shopper:         cmd.Shopper,
		Contact:         cmd.Contact,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		Note:            cmd.Note,
		ActorID:         cmd.ActorID,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	attempt := s.newAttempt(order, cmd.PaymentMethod, merchantRef(order.Code))
	return s.initiate(ctx, order, attempt, cmd.ClientIP, cmd.Locale)
}

// RetryPayment opens a fresh attempt for a PENDING order whose previous
// attempts all reached a terminal state.
func (s *checkoutService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (CheckoutResult, error) {
	order, err := s.orders.GetByCode(ctx, GetOrderCommand{Code: cmd.Code, Shopper: cmd.Shopper})
	if err != nil {
		return CheckoutResult{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return CheckoutResult{}, fmt.Errorf("%w: order is %s", ErrCheckoutOrderNotPayable, order.Status)
	}

	existing, err := s.attempts.ListByOrder(ctx, order.ID)
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}
	for _, prior := range existing {
		if !prior.Status.Terminal() {
			return CheckoutResult{}, fmt.Errorf("%w: attempt %s is %s", ErrCheckoutAttemptInFlight, prior.ID, prior.Status)
		}
	}

	method := cmd.Method
	if !method.Valid() {
		method = order.PaymentMethod
	}

	// Gateways require a fresh merchant reference per attempt.
	ref := fmt.Sprintf("%s-%d", merchantRef(order.Code), len(existing)+1)
	attempt := s.newAttempt(order, method, ref)
	return s.initiate(ctx, order, attempt, cmd.ClientIP, cmd.Locale)
}

func (s *checkoutService) newAttempt(order Order, method PaymentMethod, gatewayRef string) PaymentAttempt {
	now := s.now()
	attempt := PaymentAttempt{
		ID:         s.newID(),
		OrderID:    order.ID,
		OrderCode:  order.Code,
		Method:     method,
		Amount:     order.Amounts.Total,
		Status:     domain.AttemptStatusPending,
		GatewayRef: gatewayRef,
		CreatedAt:  now,
	}
	if method != domain.PaymentMethodCOD {
		expires := now.Add(s.attemptTTL)
		attempt.ExpiresAt = &expires
	}
	return attempt
}

func (s *checkoutService) initiate(ctx context.Context, order Order, attempt PaymentAttempt, clientIP, locale string) (CheckoutResult, error) {
	handle, err := s.gateways.Initiate(ctx, payments.InitiateRequest{
		Order:    order,
		Attempt:  attempt,
		ClientIP: clientIP,
		Locale:   locale,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedMethod) {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, attempt.Method)
		}

		attempt.Status = domain.AttemptStatusFailed
		attempt.FailureCode = "gateway_unavailable"
		completed := s.now()
		attempt.CompletedAt = &completed
		attempt.ExpiresAt = nil
		if insertErr := s.attempts.Insert(ctx, attempt); insertErr != nil {
			s.logger(ctx, "checkout.attempt_persist_failed", map[string]any{
				"orderCode": order.Code,
				"attemptId": attempt.ID,
				"error":     insertErr.Error(),
			})
		}
		s.logger(ctx, "checkout.gateway_initiate_failed", map[string]any{
			"orderCode": order.Code,
			"method":    string(attempt.Method),
			"error":     err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutGatewayUnavailable, attempt.Method)
	}

	// Card gateways mint their own reference; adopt it so callbacks resolve.
	if handle.GatewayRef != "" {
		attempt.GatewayRef = handle.GatewayRef
	}
	if handle.ExpiresAt != nil {
		attempt.ExpiresAt = handle.ExpiresAt
	}

	if err := s.attempts.Insert(ctx, attempt); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	if attempt.ExpiresAt != nil && s.dispatcher != nil {
		if _, err := s.dispatcher.EnqueuePaymentExpiry(ctx, PaymentExpiryPayload{Cutoff: *attempt.ExpiresAt}); err != nil {
			// The periodic reaper sweep still catches this attempt.
			s.logger(ctx, "checkout.expiry_enqueue_failed", map[string]any{
				"attemptId": attempt.ID,
				"error":     err.Error(),
			})
		}
	}

	handle.AttemptID = attempt.ID
	if handle.GatewayRef == "" {
		handle.GatewayRef = attempt.GatewayRef
	}
	return CheckoutResult{Order: order, Attempt: attempt, Handle: handle}, nil
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return ErrCheckoutAttemptInFlight
	}
	return ErrCheckoutUnavailable
}

// merchantRef derives the gateway transaction reference from the order code:
// ORD-20250506-000042 becomes PK20250506000042.
func merchantRef(orderCode string) string {
	ref := strings.TrimPrefix(orderCode, "ORD-")
	ref = strings.ReplaceAll(ref, "-", "")
	return "PK" + ref
}
