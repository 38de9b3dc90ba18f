package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/repositories"
)

const (
	// maxLineQuantity caps a single cart line; larger wholesale orders go
	// through the sales team, not the storefront.
	maxLineQuantity = 99

	mergeRetryAttempts = 3
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates the cart backend cannot fulfil the request.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartItemNotFound indicates the referenced line is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartConflict indicates a concurrent modification won the write race.
	ErrCartConflict = errors.New("cart: conflict")
	// ErrCartOutOfStock indicates the requested quantity cannot be satisfied
	// by current variant stock.
	ErrCartOutOfStock = errors.New("cart: out of stock")
)

// variantReader is the catalog projection the cart consults for authoritative
// price and stock.
type variantReader interface {
	Get(ctx context.Context, variantID string) (domain.Variant, error)
	GetMany(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
}

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Variants    variantReader
	Coupons     repositories.CouponRepository
	Shipping    domain.ShippingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	variants variantReader
	coupons  *couponResolver
	shipping domain.ShippingPolicy
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("cart service: variant repository is required")
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

	return &cartService{
		carts:    deps.Carts,
		variants: deps.Variants,
		coupons:  newCouponResolver(deps.Coupons, clock),
		shipping: shipping,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Get loads the shopper's cart, creating an empty one when absent. Line
// snapshots and totals are refreshed against the catalog on every read.
func (s *cartService) Get(ctx context.Context, shopper ShopperRef) (Cart, error) {
	cart, _, err := s.load(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	if err := s.refresh(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if err := validateQuantity(cmd.Quantity); err != nil {
		return Cart{}, err
	}
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.load(ctx, cmd.Shopper)
	if err != nil {
		return Cart{}, err
	}

	variant, err := s.lookupVariant(ctx, variantID)
	if err != nil {
		return Cart{}, err
	}

	requested := cmd.Quantity
	if idx := indexOfCartLine(cart.Items, variantID); idx >= 0 {
		requested += cart.Items[idx].Quantity
	}
	if requested > maxLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must not exceed %d per line", ErrCartInvalidInput, maxLineQuantity)
	}
	if !variant.Active || variant.Stock < requested {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartOutOfStock, variantID)
	}

	if idx := indexOfCartLine(cart.Items, variantID); idx >= 0 {
		cart.Items[idx].Quantity = requested
	} else {
		cart.Items = append(cart.Items, cartLineFromVariant(variant, cmd.Quantity))
	}

	return s.save(ctx, cart, existed)
}

// UpdateItemQuantity sets the line quantity; zero removes the line.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if cmd.Quantity < 0 || cmd.Quantity > maxLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxLineQuantity)
	}
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.load(ctx, cmd.Shopper)
	if err != nil {
		return Cart{}, err
	}

	idx := indexOfCartLine(cart.Items, variantID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, variantID)
	}

	if cmd.Quantity == 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return s.save(ctx, cart, existed)
	}

	variant, err := s.lookupVariant(ctx, variantID)
	if err != nil {
		return Cart{}, err
	}
	if !variant.Active || variant.Stock < cmd.Quantity {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartOutOfStock, variantID)
	}

	cart.Items[idx].Quantity = cmd.Quantity
	return s.save(ctx, cart, existed)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.load(ctx, cmd.Shopper)
	if err != nil {
		return Cart{}, err
	}

	idx := indexOfCartLine(cart.Items, variantID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, variantID)
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	return s.save(ctx, cart, existed)
}

// Clear deletes the cart document. Clearing an absent cart is a no-op.
func (s *cartService) Clear(ctx context.Context, shopper ShopperRef) error {
	key := shopper.Key()
	if key == "" {
		return ErrCartInvalidInput
	}
	if err := s.carts.DeleteCart(ctx, key); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	return nil
}

// Merge folds the guest session cart into the user's cart, summing quantities
// and capping each line at available stock. The merge is idempotent: once the
// guest cart has been cleared, replaying it changes nothing.
func (s *cartService) Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error) {
	if strings.TrimSpace(cmd.User.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user is required", ErrCartInvalidInput)
	}
	guest := ShopperRef{SessionID: strings.TrimSpace(cmd.GuestSessionID)}
	if guest.Key() == "" {
		return Cart{}, fmt.Errorf("%w: guest session is required", ErrCartInvalidInput)
	}

	guestCart, err := s.carts.GetCart(ctx, guest.Key())
	if err != nil {
		if isRepoNotFound(err) {
			// Nothing to merge; return the user's cart as-is.
			return s.Get(ctx, cmd.User)
		}
		return Cart{}, s.translateRepoError(err)
	}
	if guestCart.IsEmpty() {
		return s.Get(ctx, cmd.User)
	}

	var merged Cart
	for attempt := 0; ; attempt++ {
		userCart, existed, err := s.load(ctx, cmd.User)
		if err != nil {
			return Cart{}, err
		}

		if err := s.mergeLines(ctx, &userCart, guestCart.Items); err != nil {
			return Cart{}, err
		}

		merged, err = s.save(ctx, userCart, existed)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCartConflict) || attempt+1 >= mergeRetryAttempts {
			return Cart{}, err
		}
	}

	if err := s.carts.DeleteCart(ctx, guest.Key()); err != nil && !isRepoNotFound(err) {
		// The merged cart is committed; a stale guest cart only risks a
		// second, idempotent merge.
		s.logger(ctx, "cart.merge.guest_clear_failed", map[string]any{
			"guestKey": guest.Key(),
			"error":    err.Error(),
		})
	}

	return merged, nil
}

func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Cart{}, fmt.Errorf("%w: coupon code is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.load(ctx, cmd.Shopper)
	if err != nil {
		return Cart{}, err
	}
	if cart.IsEmpty() {
		return Cart{}, fmt.Errorf("%w: cannot apply a coupon to an empty cart", ErrCartInvalidInput)
	}

	if _, _, err := s.coupons.Resolve(ctx, code, lineSubtotal(cart.Items)); err != nil {
		return Cart{}, err
	}

	cart.CouponCode = code
	return s.save(ctx, cart, existed)
}

func (s *cartService) RemoveCoupon(ctx context.Context, shopper ShopperRef) (Cart, error) {
	cart, existed, err := s.load(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	cart.CouponCode = ""
	return s.save(ctx, cart, existed)
}

// load fetches the shopper's cart, materialising an empty one when missing.
func (s *cartService) load(ctx context.Context, shopper ShopperRef) (Cart, bool, error) {
	key := shopper.Key()
	if key == "" {
		return Cart{}, false, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			now := s.now()
			return Cart{
				ID:        key,
				Shopper:   shopper,
				Items:     []domain.CartItem{},
				CreatedAt: now,
				UpdatedAt: now,
			}, false, nil
		}
		return Cart{}, false, s.translateRepoError(err)
	}

	cart.ID = key
	cart.Shopper = shopper
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart, true, nil
}

// save recomputes snapshots and totals, then persists with an optimistic lock
// on the previously observed update time.
func (s *cartService) save(ctx context.Context, cart Cart, existed bool) (Cart, error) {
	if err := s.refresh(ctx, &cart); err != nil {
		return Cart{}, err
	}

	var expected *time.Time
	if existed && !cart.UpdatedAt.IsZero() {
		ts := cart.UpdatedAt.UTC()
		expected = &ts
	}
	cart.UpdatedAt = s.now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}

	saved, err := s.carts.UpsertCart(ctx, cart, expected)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// refresh re-reads variant price/stock for every line and recomputes totals.
// Lines whose variants vanished from the catalog are dropped; lines that can
// no longer be satisfied are flagged OutOfStock but kept so the shopper can
// adjust them.
func (s *cartService) refresh(ctx context.Context, cart *Cart) error {
	if len(cart.Items) > 0 {
		ids := make([]string, 0, len(cart.Items))
		for _, item := range cart.Items {
			ids = append(ids, item.VariantID)
		}
		variants, err := s.variants.GetMany(ctx, ids)
		if err != nil {
			return s.translateRepoError(err)
		}

		kept := cart.Items[:0]
		for _, item := range cart.Items {
			variant, ok := variants[item.VariantID]
			if !ok {
				continue
			}
			item.ProductID = variant.ProductID
			item.SKU = variant.SKU
			item.Name = variant.Name
			item.Size = variant.Size
			item.Color = variant.Color
			item.UnitPrice = variant.Price
			item.LineTotal = variant.Price * int64(item.Quantity)
			item.OutOfStock = !variant.Active || variant.Stock < item.Quantity
			kept = append(kept, item)
		}
		cart.Items = kept
	}

	cart.Subtotal = lineSubtotal(cart.Items)

	cart.Discount = 0
	if cart.CouponCode != "" {
		_, discount, err := s.coupons.Resolve(ctx, cart.CouponCode, cart.Subtotal)
		switch {
		case err == nil:
			cart.Discount = discount
		case errors.Is(err, ErrCouponNotFound), errors.Is(err, ErrCouponNotApplicable), errors.Is(err, ErrCouponInvalidCode):
			// The coupon stopped applying since it was attached; drop it
			// rather than failing every cart read.
			s.logger(ctx, "cart.coupon_dropped", map[string]any{
				"cartKey": cart.ID,
				"coupon":  cart.CouponCode,
			})
			cart.CouponCode = ""
		default:
			return err
		}
	}

	cart.ShippingFee = 0
	if len(cart.Items) > 0 {
		cart.ShippingFee = s.shipping.Fee(cart.Subtotal-cart.Discount, domain.Address{})
	}
	cart.Total = cart.Subtotal - cart.Discount + cart.ShippingFee
	return nil
}

// mergeLines adds the guest lines into the cart, summing quantities and
// capping each merged line at available stock.
func (s *cartService) mergeLines(ctx context.Context, cart *Cart, guestItems []domain.CartItem) error {
	ids := make([]string, 0, len(guestItems))
	for _, item := range guestItems {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.variants.GetMany(ctx, ids)
	if err != nil {
		return s.translateRepoError(err)
	}

	for _, guest := range guestItems {
		if guest.Quantity <= 0 {
			continue
		}
		variant, ok := variants[guest.VariantID]
		if !ok || !variant.Active {
			continue
		}

		quantity := guest.Quantity
		if idx := indexOfCartLine(cart.Items, guest.VariantID); idx >= 0 {
			quantity += cart.Items[idx].Quantity
			if quantity > variant.Stock {
				quantity = variant.Stock
			}
			if quantity > maxLineQuantity {
				quantity = maxLineQuantity
			}
			cart.Items[idx].Quantity = quantity
			continue
		}

		if quantity > variant.Stock {
			quantity = variant.Stock
		}
		if quantity > maxLineQuantity {
			quantity = maxLineQuantity
		}
		if quantity <= 0 {
			continue
		}
		cart.Items = append(cart.Items, cartLineFromVariant(variant, quantity))
	}
	return nil
}

func (s *cartService) lookupVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	variant, err := s.variants.Get(ctx, variantID)
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorVariantNotFound {
			return domain.Variant{}, fmt.Errorf("%w: unknown variant %s", ErrCartInvalidInput, variantID)
		}
		return domain.Variant{}, s.translateRepoError(err)
	}
	return variant, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartItemNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}

func validateQuantity(quantity int) error {
	if quantity < 1 || quantity > maxLineQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxLineQuantity)
	}
	return nil
}

func cartLineFromVariant(variant domain.Variant, quantity int) domain.CartItem {
	return domain.CartItem{
		VariantID: variant.ID,
		ProductID: variant.ProductID,
		SKU:       variant.SKU,
		Name:      variant.Name,
		Size:      variant.Size,
		Color:     variant.Color,
		UnitPrice: variant.Price,
		Quantity:  quantity,
		LineTotal: variant.Price * int64(quantity),
	}
}

func indexOfCartLine(items []domain.CartItem, variantID string) int {
	for i, item := range items {
		if item.VariantID == variantID {
			return i
		}
	}
	return -1
}

func lineSubtotal(items []domain.CartItem) domain.Money {
	var subtotal domain.Money
	for _, item := range items {
		subtotal += item.LineTotal
	}
	return subtotal
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
