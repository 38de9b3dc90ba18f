package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/phankid/api/internal/domain"
	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists shopper carts within Firestore. Items are embedded
// in the cart document; carts stay small (tens of lines at most), so a
// subcollection would only add round trips.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart persists the cart using the shopper key as document identifier.
// A non-nil expectedUpdate turns the write into a compare-and-swap on the
// document's last update time.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartKey := strings.TrimSpace(cartKeyOf(cart))
	if cartKey == "" {
		return domain.Cart{}, errors.New("cart repository: cart key is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		UserID:      strings.TrimSpace(cart.Shopper.UserID),
		SessionID:   strings.TrimSpace(cart.Shopper.SessionID),
		Items:       encodeCartItems(cart.Items),
		CouponCode:  strings.TrimSpace(cart.CouponCode),
		Subtotal:    cart.Subtotal,
		Discount:    cart.Discount,
		ShippingFee: cart.ShippingFee,
		Total:       cart.Total,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}

	var (
		result pfirestore.MutationResult
		err    error
	)
	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err = r.base.Set(ctx, cartKey, doc)
	} else {
		updates := []firestore.Update{
			{Path: "items", Value: doc.Items},
			{Path: "subtotal", Value: doc.Subtotal},
			{Path: "discount", Value: doc.Discount},
			{Path: "shippingFee", Value: doc.ShippingFee},
			{Path: "total", Value: doc.Total},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}
		if doc.CouponCode == "" {
			updates = append(updates, firestore.Update{Path: "couponCode", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "couponCode", Value: doc.CouponCode})
		}
		result, err = r.base.Update(ctx, cartKey, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = cartKey
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart stored under the given shopper key.
func (r *CartRepository) GetCart(ctx context.Context, cartKey string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(cartKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: cart key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		ID: doc.ID,
		Shopper: domain.ShopperRef{
			UserID:    strings.TrimSpace(doc.Data.UserID),
			SessionID: strings.TrimSpace(doc.Data.SessionID),
		},
		Items:       decodeCartItems(doc.Data.Items),
		CouponCode:  strings.TrimSpace(doc.Data.CouponCode),
		Subtotal:    doc.Data.Subtotal,
		Discount:    doc.Data.Discount,
		ShippingFee: doc.Data.ShippingFee,
		Total:       doc.Data.Total,
		UpdatedAt: func() time.Time {
			if !doc.UpdateTime.IsZero() {
				return doc.UpdateTime
			}
			return doc.Data.UpdatedAt
		}(),
		CreatedAt: func() time.Time {
			if !doc.Data.CreatedAt.IsZero() {
				return doc.Data.CreatedAt
			}
			return doc.UpdateTime
		}(),
	}

	return cart, nil
}

// DeleteCart removes the cart document entirely.
func (r *CartRepository) DeleteCart(ctx context.Context, cartKey string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(cartKey)
	if key == "" {
		return errors.New("cart repository: cart key is required")
	}

	ref, err := r.base.DocumentRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func cartKeyOf(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) != "" {
		return strings.TrimSpace(cart.ID)
	}
	return cart.Shopper.Key()
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}

func encodeCartItems(items []domain.CartItem) []cartItemDocument {
	out := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, cartItemDocument{
			VariantID: item.VariantID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return out
}

func decodeCartItems(items []cartItemDocument) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.CartItem{
			VariantID: item.VariantID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return out
}

type cartDocument struct {
	UserID      string             `firestore:"userId,omitempty"`
	SessionID   string             `firestore:"sessionId,omitempty"`
	Items       []cartItemDocument `firestore:"items"`
	CouponCode  string             `firestore:"couponCode,omitempty"`
	Subtotal    int64              `firestore:"subtotal"`
	Discount    int64              `firestore:"discount"`
	ShippingFee int64              `firestore:"shippingFee"`
	Total       int64              `firestore:"total"`
	CreatedAt   time.Time          `firestore:"createdAt"`
	UpdatedAt   time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	VariantID string `firestore:"variantId"`
	ProductID string `firestore:"productId,omitempty"`
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name"`
	Size      string `firestore:"size,omitempty"`
	Color     string `firestore:"color,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
