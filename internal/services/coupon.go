package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/repositories"
)

var (
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon: invalid code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponNotApplicable indicates the coupon exists but cannot be applied
	// to this cart (inactive, expired, or below the minimum subtotal).
	ErrCouponNotApplicable = errors.New("coupon: not applicable")
	// ErrCouponUnavailable indicates the coupon backend could not be reached.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// couponResolver looks coupon codes up and computes the discount they grant
// against a given subtotal. Shared by the cart and order services so the
// discount an order captures always matches what the cart displayed.
type couponResolver struct {
	repo  repositories.CouponRepository
	clock func() time.Time
}

func newCouponResolver(repo repositories.CouponRepository, clock func() time.Time) *couponResolver {
	if clock == nil {
		clock = time.Now
	}
	return &couponResolver{
		repo:  repo,
		clock: func() time.Time { return clock().UTC() },
	}
}

// Resolve validates the code and returns the discount for the subtotal. The
// discount never exceeds the subtotal.
func (r *couponResolver) Resolve(ctx context.Context, code string, subtotal domain.Money) (repositories.Coupon, domain.Money, error) {
	if r == nil || r.repo == nil {
		return repositories.Coupon{}, 0, ErrCouponUnavailable
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return repositories.Coupon{}, 0, ErrCouponInvalidCode
	}

	coupon, err := r.repo.FindByCode(ctx, normalized)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			switch {
			case repoErr.IsNotFound():
				return repositories.Coupon{}, 0, ErrCouponNotFound
			case repoErr.IsUnavailable():
				return repositories.Coupon{}, 0, ErrCouponUnavailable
			}
		}
		return repositories.Coupon{}, 0, ErrCouponUnavailable
	}

	if !coupon.Active {
		return repositories.Coupon{}, 0, ErrCouponNotApplicable
	}
	if coupon.ExpiresAt != nil && r.clock().After(*coupon.ExpiresAt) {
		return repositories.Coupon{}, 0, ErrCouponNotApplicable
	}
	if coupon.MinSubtotal > 0 && subtotal < coupon.MinSubtotal {
		return repositories.Coupon{}, 0, ErrCouponNotApplicable
	}

	discount := couponDiscount(coupon, subtotal)
	if discount <= 0 {
		return repositories.Coupon{}, 0, ErrCouponNotApplicable
	}
	return coupon, discount, nil
}

func couponDiscount(coupon repositories.Coupon, subtotal domain.Money) domain.Money {
	var discount domain.Money
	switch coupon.Kind {
	case repositories.CouponKindFixed:
		discount = coupon.AmountOff
	case repositories.CouponKindPercent:
		// PercentOff is in basis points.
		discount = subtotal * int64(coupon.PercentOff) / 10_000
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
