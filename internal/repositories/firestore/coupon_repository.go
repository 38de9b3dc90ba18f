package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository reads coupon definitions. Coupons are managed out of band
// (merchandising tooling writes them); this API only validates and applies.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{base: base}, nil
}

// FindByCode loads the coupon stored under the normalised (upper-case) code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (repositories.Coupon, error) {
	if r == nil || r.base == nil {
		return repositories.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return repositories.Coupon{}, errors.New("coupon repository: code is required")
	}

	doc, err := r.base.Get(ctx, normalised)
	if err != nil {
		return repositories.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type couponDocument struct {
	Kind        string     `firestore:"kind"`
	AmountOff   int64      `firestore:"amountOff,omitempty"`
	PercentOff  int        `firestore:"percentOff,omitempty"`
	MinSubtotal int64      `firestore:"minSubtotal,omitempty"`
	Active      bool       `firestore:"active"`
	ExpiresAt   *time.Time `firestore:"expiresAt,omitempty"`
}

func (d couponDocument) toDomain(code string) repositories.Coupon {
	return repositories.Coupon{
		Code:        code,
		Kind:        repositories.CouponKind(d.Kind),
		AmountOff:   d.AmountOff,
		PercentOff:  d.PercentOff,
		MinSubtotal: d.MinSubtotal,
		Active:      d.Active,
		ExpiresAt:   d.ExpiresAt,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
