package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phankid/api/internal/repositories"
)

func TestCouponResolverFixedDiscountCapsAtSubtotal(t *testing.T) {
	coupons := &stubCouponRepository{coupons: map[string]repositories.Coupon{
		"GIAM50K": {Code: "GIAM50K", Kind: repositories.CouponKindFixed, AmountOff: 50_000, Active: true},
	}}
	resolver := newCouponResolver(coupons, nil)

	_, discount, err := resolver.Resolve(context.Background(), "giam50k", 500_000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if discount != 50_000 {
		t.Fatalf("expected discount 50000, got %d", discount)
	}

	_, discount, err = resolver.Resolve(context.Background(), "GIAM50K", 30_000)
	if err != nil {
		t.Fatalf("resolve small subtotal: %v", err)
	}
	if discount != 30_000 {
		t.Fatalf("expected discount capped at subtotal, got %d", discount)
	}
}

func TestCouponResolverMinSubtotal(t *testing.T) {
	coupons := &stubCouponRepository{coupons: map[string]repositories.Coupon{
		"BIG": {Code: "BIG", Kind: repositories.CouponKindFixed, AmountOff: 100_000, MinSubtotal: 1_000_000, Active: true},
	}}
	resolver := newCouponResolver(coupons, nil)

	if _, _, err := resolver.Resolve(context.Background(), "BIG", 500_000); !errors.Is(err, ErrCouponNotApplicable) {
		t.Fatalf("expected not applicable below minimum, got %v", err)
	}
}

func TestCouponResolverExpiry(t *testing.T) {
	expired := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	coupons := &stubCouponRepository{coupons: map[string]repositories.Coupon{
		"TET": {Code: "TET", Kind: repositories.CouponKindPercent, PercentOff: 500, Active: true, ExpiresAt: &expired},
	}}
	resolver := newCouponResolver(coupons, func() time.Time {
		return time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)
	})

	if _, _, err := resolver.Resolve(context.Background(), "TET", 500_000); !errors.Is(err, ErrCouponNotApplicable) {
		t.Fatalf("expected expired coupon rejected, got %v", err)
	}
}

func TestCouponResolverInactive(t *testing.T) {
	coupons := &stubCouponRepository{coupons: map[string]repositories.Coupon{
		"OFF": {Code: "OFF", Kind: repositories.CouponKindFixed, AmountOff: 10_000, Active: false},
	}}
	resolver := newCouponResolver(coupons, nil)

	if _, _, err := resolver.Resolve(context.Background(), "OFF", 500_000); !errors.Is(err, ErrCouponNotApplicable) {
		t.Fatalf("expected inactive coupon rejected, got %v", err)
	}
}
