package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/auth"
	"github.com/phankid/api/internal/services"
)

type stubCartService struct {
	getFn    func(ctx context.Context, shopper services.ShopperRef) (services.Cart, error)
	addFn    func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFn func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFn func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearFn  func(ctx context.Context, shopper services.ShopperRef) error
	mergeFn  func(ctx context.Context, cmd services.MergeCartCommand) (services.Cart, error)
	applyFn  func(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error)
	rmcFn    func(ctx context.Context, shopper services.ShopperRef) (services.Cart, error)
}

func (s *stubCartService) Get(ctx context.Context, shopper services.ShopperRef) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, shopper)
	}
	return services.Cart{ID: shopper.Key()}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) Clear(ctx context.Context, shopper services.ShopperRef) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, shopper)
	}
	return nil
}

func (s *stubCartService) Merge(ctx context.Context, cmd services.MergeCartCommand) (services.Cart, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, shopper services.ShopperRef) (services.Cart, error) {
	if s.rmcFn != nil {
		return s.rmcFn(ctx, shopper)
	}
	return services.Cart{}, nil
}

var _ services.CartService = (*stubCartService)(nil)

func newCartRouter(svc services.CartService) chi.Router {
	h := NewCartHandlers(nil, svc)
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)
	return r
}

func asUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func asGuest(req *http.Request, sessionID string) *http.Request {
	return req.WithContext(auth.WithSessionID(req.Context(), sessionID))
}

func TestCartGetReturnsCartForGuestSession(t *testing.T) {
	var seen services.ShopperRef
	svc := &stubCartService{
		getFn: func(_ context.Context, shopper services.ShopperRef) (services.Cart, error) {
			seen = shopper
			return services.Cart{
				ID: shopper.Key(),
				Items: []domain.CartItem{{
					VariantID: "var-tee-red-3t",
					Name:      "Áo thun bé trai",
					UnitPrice: 250_000,
					Quantity:  2,
					LineTotal: 500_000,
				}},
				Subtotal:    500_000,
				ShippingFee: 30_000,
				Total:       530_000,
			}, nil
		},
	}

	req := asGuest(httptest.NewRequest(http.MethodGet, "/cart", nil), "sess-abc12345")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.SessionID != "sess-abc12345" || seen.UserID != "" {
		t.Fatalf("unexpected shopper %+v", seen)
	}

	var body struct {
		Cart struct {
			Total      int64  `json:"total"`
			Currency   string `json:"currency"`
			ItemsCount int    `json:"items_count"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Cart.Total != 530_000 || body.Cart.Currency != "VND" || body.Cart.ItemsCount != 1 {
		t.Fatalf("unexpected cart payload %+v", body.Cart)
	}
}

func TestCartGetRequiresShopper(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartAddItemForwardsCommand(t *testing.T) {
	var seen services.AddCartItemCommand
	svc := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			seen = cmd
			return services.Cart{}, nil
		},
	}

	payload := `{"variant_id":"var-dress-4t","quantity":2}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.VariantID != "var-dress-4t" || seen.Quantity != 2 || seen.Shopper.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", seen)
	}
}

func TestCartAddItemOutOfStock(t *testing.T) {
	svc := &stubCartService{
		addFn: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: var-dress-4t", services.ErrCartOutOfStock)
		},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"variant_id":"var-dress-4t","quantity":9}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "out_of_stock") {
		t.Fatalf("expected out_of_stock code, got %s", rr.Body.String())
	}
}

func TestCartUpdateItemUsesPathVariant(t *testing.T) {
	var seen services.UpdateCartItemCommand
	svc := &stubCartService{
		updateFn: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			seen = cmd
			return services.Cart{}, nil
		},
	}

	req := asUser(httptest.NewRequest(http.MethodPatch, "/cart/items/var-tee-red-3t", strings.NewReader(`{"quantity":3}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.VariantID != "var-tee-red-3t" || seen.Quantity != 3 {
		t.Fatalf("unexpected command %+v", seen)
	}
}

func TestCartRemoveItemNotFound(t *testing.T) {
	svc := &stubCartService{
		removeFn: func(context.Context, services.RemoveCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartItemNotFound
		},
	}

	req := asUser(httptest.NewRequest(http.MethodDelete, "/cart/items/var-gone", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCartClearRespondsNoContent(t *testing.T) {
	cleared := false
	svc := &stubCartService{
		clearFn: func(context.Context, services.ShopperRef) error {
			cleared = true
			return nil
		},
	}

	req := asGuest(httptest.NewRequest(http.MethodDelete, "/cart", nil), "sess-abc12345")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatal("expected clear to be invoked")
	}
}

func TestCartMergeRequiresIdentity(t *testing.T) {
	req := asGuest(httptest.NewRequest(http.MethodPost, "/cart/merge", strings.NewReader(`{"guest_session_id":"sess-abc12345"}`)), "sess-abc12345")
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartMergeForwardsGuestSession(t *testing.T) {
	var seen services.MergeCartCommand
	svc := &stubCartService{
		mergeFn: func(_ context.Context, cmd services.MergeCartCommand) (services.Cart, error) {
			seen = cmd
			return services.Cart{ID: cmd.User.Key()}, nil
		},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/merge", strings.NewReader(`{"guest_session_id":"sess-abc12345"}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.GuestSessionID != "sess-abc12345" || seen.User.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", seen)
	}
}

func TestCartApplyCouponErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unknown coupon", err: services.ErrCouponNotFound, status: http.StatusNotFound},
		{name: "not applicable", err: services.ErrCouponNotApplicable, status: http.StatusUnprocessableEntity},
		{name: "empty cart", err: fmt.Errorf("%w: cannot apply a coupon to an empty cart", services.ErrCartInvalidInput), status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{
				applyFn: func(context.Context, services.ApplyCouponCommand) (services.Cart, error) {
					return services.Cart{}, tc.err
				},
			}

			req := asUser(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"HE10"}`)), "user-1")
			rr := httptest.NewRecorder()
			newCartRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCartInvalidJSONBody(t *testing.T) {
	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader("{not json")), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
