package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/phankid/api/internal/domain"
	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/platform/pagination"
	"github.com/phankid/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore. Orders are immutable
// snapshots except for status, payment and cancellation fields, so the whole
// document is rewritten on update.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.Code) == "" {
		return errors.New("order repository: order code is required")
	}

	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update rewrites the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, order.ID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads the order identified by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode loads the order carrying the given human-facing code.
func (r *OrderRepository) FindByCode(ctx context.Context, orderCode string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	code := strings.ToUpper(strings.TrimSpace(orderCode))
	if code == "" {
		return domain.Order{}, errors.New("order repository: order code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByCode", fmt.Sprintf("order %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List pages through orders newest first, applying the supplied filters.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultMaxPageSize
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if key := strings.TrimSpace(filter.ShopperKey); key != "" {
		query = query.Where("shopperKey", "==", key)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if len(filter.PaymentMethod) > 0 {
		methods := make([]string, 0, len(filter.PaymentMethod))
		for _, m := range filter.PaymentMethod {
			methods = append(methods, string(m))
		}
		query = query.Where("paymentMethod", "in", methods)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		query = query.Where("searchKeywords", "array-contains", strings.ToLower(keyword))
	}
	if filter.DateRange.From != nil {
		query = query.Where("placedAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("placedAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.
		OrderBy("placedAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		startAfter, err := decodeOrderCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		if startAfter != nil {
			query = query.StartAfter(startAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.PlacedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// decodeOrderCursor turns the JSON cursor values back into Firestore-typed
// boundary values. Timestamps survive the token round trip as RFC3339 strings.
func decodeOrderCursor(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, pagination.ErrInvalidPageToken
	}
	rawPlacedAt, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, pagination.ErrInvalidPageToken
	}
	placedAt, err := time.Parse(time.RFC3339Nano, rawPlacedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	orderID, ok := cursor.StartAfter[1].(string)
	if !ok || strings.TrimSpace(orderID) == "" {
		return nil, pagination.ErrInvalidPageToken
	}
	return []any{placedAt, orderID}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	Code            string               `firestore:"code"`
	ShopperKey      string               `firestore:"shopperKey,omitempty"`
	UserID          string               `firestore:"userId,omitempty"`
	SessionID       string               `firestore:"sessionId,omitempty"`
	Contact         orderContactDocument `firestore:"contact"`
	ShippingAddress addressDocument      `firestore:"shippingAddress"`
	Items           []orderItemDocument  `firestore:"items"`
	Subtotal        int64                `firestore:"subtotal"`
	Discount        int64                `firestore:"discount"`
	ShippingFee     int64                `firestore:"shippingFee"`
	Total           int64                `firestore:"total"`
	Status          string               `firestore:"status"`
	PaymentStatus   string               `firestore:"paymentStatus"`
	PaymentMethod   string               `firestore:"paymentMethod"`
	TransactionID   string               `firestore:"transactionId,omitempty"`
	CouponCode      string               `firestore:"couponCode,omitempty"`
	Note            string               `firestore:"note,omitempty"`
	CancelReason    string               `firestore:"cancelReason,omitempty"`
	SearchKeywords  []string             `firestore:"searchKeywords,omitempty"`
	PlacedAt        time.Time            `firestore:"placedAt"`
	PaidAt          *time.Time           `firestore:"paidAt,omitempty"`
	ProcessingAt    *time.Time           `firestore:"processingAt,omitempty"`
	ShippedAt       *time.Time           `firestore:"shippedAt,omitempty"`
	CompletedAt     *time.Time           `firestore:"completedAt,omitempty"`
	CancelledAt     *time.Time           `firestore:"cancelledAt,omitempty"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
}

type orderContactDocument struct {
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
	Email    string `firestore:"email,omitempty"`
}

type addressDocument struct {
	Line1    string `firestore:"line1"`
	Ward     string `firestore:"ward,omitempty"`
	District string `firestore:"district"`
	Province string `firestore:"province"`
	Country  string `firestore:"country"`
}

type orderItemDocument struct {
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

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			VariantID: strings.TrimSpace(item.VariantID),
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Size:      strings.TrimSpace(item.Size),
			Color:     strings.TrimSpace(item.Color),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}

	return orderDocument{
		Code:       strings.ToUpper(strings.TrimSpace(order.Code)),
		ShopperKey: order.Shopper.Key(),
		UserID:     strings.TrimSpace(order.Shopper.UserID),
		SessionID:  strings.TrimSpace(order.Shopper.SessionID),
		Contact: orderContactDocument{
			FullName: strings.TrimSpace(order.Contact.FullName),
			Phone:    strings.TrimSpace(order.Contact.Phone),
			Email:    strings.TrimSpace(order.Contact.Email),
		},
		ShippingAddress: addressDocument{
			Line1:    strings.TrimSpace(order.ShippingAddress.Line1),
			Ward:     strings.TrimSpace(order.ShippingAddress.Ward),
			District: strings.TrimSpace(order.ShippingAddress.District),
			Province: strings.TrimSpace(order.ShippingAddress.Province),
			Country:  strings.TrimSpace(order.ShippingAddress.Country),
		},
		Items:          items,
		Subtotal:       order.Amounts.Subtotal,
		Discount:       order.Amounts.Discount,
		ShippingFee:    order.Amounts.ShippingFee,
		Total:          order.Amounts.Total,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		TransactionID:  strings.TrimSpace(order.TransactionID),
		CouponCode:     strings.TrimSpace(order.CouponCode),
		Note:           strings.TrimSpace(order.Note),
		CancelReason:   strings.TrimSpace(order.CancelReason),
		SearchKeywords: order.SearchKeywords,
		PlacedAt:       order.PlacedAt.UTC(),
		PaidAt:         utcOrNil(order.PaidAt),
		ProcessingAt:   utcOrNil(order.ProcessingAt),
		ShippedAt:      utcOrNil(order.ShippedAt),
		CompletedAt:    utcOrNil(order.CompletedAt),
		CancelledAt:    utcOrNil(order.CancelledAt),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			VariantID: item.VariantID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}

	return domain.Order{
		ID:   id,
		Code: d.Code,
		Shopper: domain.ShopperRef{
			UserID:    d.UserID,
			SessionID: d.SessionID,
		},
		Contact: domain.OrderContact{
			FullName: d.Contact.FullName,
			Phone:    d.Contact.Phone,
			Email:    d.Contact.Email,
		},
		ShippingAddress: domain.Address{
			Line1:    d.ShippingAddress.Line1,
			Ward:     d.ShippingAddress.Ward,
			District: d.ShippingAddress.District,
			Province: d.ShippingAddress.Province,
			Country:  d.ShippingAddress.Country,
		},
		Items: items,
		Amounts: domain.OrderAmounts{
			Subtotal:    d.Subtotal,
			Discount:    d.Discount,
			ShippingFee: d.ShippingFee,
			Total:       d.Total,
		},
		Status:         domain.OrderStatus(d.Status),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		TransactionID:  d.TransactionID,
		CouponCode:     d.CouponCode,
		Note:           d.Note,
		CancelReason:   d.CancelReason,
		SearchKeywords: d.SearchKeywords,
		PlacedAt:       d.PlacedAt,
		PaidAt:         d.PaidAt,
		ProcessingAt:   d.ProcessingAt,
		ShippedAt:      d.ShippedAt,
		CompletedAt:    d.CompletedAt,
		CancelledAt:    d.CancelledAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
