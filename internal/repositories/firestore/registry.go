package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/repositories"
)

// Registry bundles every Firestore-backed repository behind the
// repositories.Registry contract so the service layer can be wired from a
// single seam. All repositories share one provider and therefore one client.
type Registry struct {
	provider *pfirestore.Provider

	carts    *CartRepository
	variants *VariantRepository
	orders   *OrderRepository
	attempts *PaymentAttemptRepository
	coupons  *CouponRepository
	audits   *AuditLogRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches dependency health probes. The health
// repository is assembled in main because its checks reach beyond Firestore
// (secret manager, pub/sub), so the registry only carries it.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	reg := &Registry{provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	var err error
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.variants, err = NewVariantRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.attempts, err = NewPaymentAttemptRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.audits, err = NewAuditLogRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return reg, nil
}

var _ repositories.Registry = (*Registry)(nil)

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Variants returns the catalog variant repository.
func (r *Registry) Variants() repositories.VariantRepository { return r.variants }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// PaymentAttempts returns the payment attempt repository.
func (r *Registry) PaymentAttempts() repositories.PaymentAttemptRepository { return r.attempts }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// AuditLogs returns the audit log repository.
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audits }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository, nil when none was attached.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction. Callers that need
// transactional document access use the repositories' own transactional
// entry points; this boundary exists for multi-repository orchestration.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction body is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}
