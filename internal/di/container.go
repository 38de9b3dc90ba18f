package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/payments"
	"github.com/phankid/api/internal/platform/config"
	"github.com/phankid/api/internal/platform/jobs"
	"github.com/phankid/api/internal/platform/storage"
	"github.com/phankid/api/internal/repositories"
	"github.com/phankid/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Counters services.CounterService
	System   services.SystemService
	Jobs     services.BackgroundJobDispatcher
	Audit    services.AuditLogService
}

// PaymentGateways routes payment initiation and reconciliation to the
// configured gateways. *payments.Manager is the production implementation.
type PaymentGateways interface {
	Initiate(ctx context.Context, req payments.InitiateRequest) (domain.PaymentHandle, error)
	Reconcile(ctx context.Context, req payments.ReconcileRequest) (payments.ReconcileResult, error)
}

// OrderEventPublisher emits order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
}

// CallbackArchiver persists raw gateway callback payloads for dispute audits.
type CallbackArchiver interface {
	Archive(ctx context.Context, gateway, key string, payload []byte) (string, error)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Dependencies carries the out-of-process collaborators that main assembles
// before services can be built.
type Dependencies struct {
	Gateways     PaymentGateways
	OrderEvents  OrderEventPublisher
	PaymentTasks services.PaymentTaskPublisher
	Archiver     CallbackArchiver
	Logger       *zap.Logger
	Build        services.BuildInfo
	Clock        func() time.Time
	IDGenerator  func() string
}

// NewContainer constructs the runtime dependencies. Production wiring provides a Firestore
// registry and live gateways; tests can supply in-memory registries and stub publishers.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logFn := eventLogger(deps.Logger)

	shipping := domain.ShippingPolicy(domain.FlatRatePolicy{
		FlatFee:       domain.Money(cfg.Shipping.FlatFee),
		FreeThreshold: domain.Money(cfg.Shipping.FreeThreshold),
	})

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		var warner services.AuditLogger
		if deps.Logger != nil {
			warner = deps.Logger.Sugar()
		}
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
			Logger:     warner,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	counterRepo := reg.Counters()
	if counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
			Audit:            svc.Audit,
			Counters:         svc.Counters,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:       reg.Carts(),
		Variants:    reg.Variants(),
		Coupons:     couponRepository(reg, cfg),
		Shipping:    shipping,
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Variants:    reg.Variants(),
		Carts:       reg.Carts(),
		Coupons:     couponRepository(reg, cfg),
		Counters:    svc.Counters,
		Shipping:    shipping,
		Publisher:   deps.OrderEvents,
		Audit:       svc.Audit,
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.PaymentTasks != nil {
		dispatcher, err := services.NewBackgroundJobDispatcher(services.BackgroundJobDispatcherDeps{
			Publisher:   deps.PaymentTasks,
			Clock:       clock,
			IDGenerator: deps.IDGenerator,
			Logger:      logFn,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build job dispatcher: %w", err)
		}
		svc.Jobs = dispatcher
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:      svc.Orders,
		Attempts:    reg.PaymentAttempts(),
		Gateways:    deps.Gateways,
		Dispatcher:  svc.Jobs,
		AttemptTTL:  cfg.Payments.AttemptTTL,
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Attempts: reg.PaymentAttempts(),
		Orders:   svc.Orders,
		Gateways: deps.Gateways,
		Archiver: deps.Archiver,
		Audit:    svc.Audit,
		Clock:    clock,
		Logger:   logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	return svc, nil
}

// couponRepository gates coupon lookups behind the feature flag so a disabled
// storefront rejects coupon codes instead of resolving them.
func couponRepository(reg repositories.Registry, cfg config.Config) repositories.CouponRepository {
	if !cfg.Features.EnableCoupons {
		return nil
	}
	return reg.Coupons()
}

// eventLogger adapts the zap logger to the services' structured event callback.
func eventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		return func(context.Context, string, map[string]any) {}
	}
	logger := base.Named("services")
	return func(_ context.Context, event string, fields map[string]any) {
		zf := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zf = append(zf, zap.Any(k, v))
		}
		logger.Info(event, zf...)
	}
}

var (
	_ PaymentGateways               = (*payments.Manager)(nil)
	_ OrderEventPublisher           = (*jobs.PubSubOrderEventPublisher)(nil)
	_ CallbackArchiver              = (*storage.CallbackArchiver)(nil)
	_ services.PaymentTaskPublisher = (*jobs.PubSubPaymentTaskPublisher)(nil)
)
