package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/phankid/api/internal/domain"
	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/repositories"
)

const paymentAttemptCollection = "paymentAttempts"

// PaymentAttemptRepository stores individual payment attempts. Attempts carry
// the gateway reference used in redirect URLs and callbacks, so lookups by that
// reference must be exact.
type PaymentAttemptRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[paymentAttemptDocument]
}

// NewPaymentAttemptRepository constructs a Firestore-backed attempt repository.
func NewPaymentAttemptRepository(provider *pfirestore.Provider) (*PaymentAttemptRepository, error) {
	if provider == nil {
		return nil, errors.New("payment attempt repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentAttemptDocument](provider, paymentAttemptCollection, nil, nil)
	return &PaymentAttemptRepository{provider: provider, base: base}, nil
}

// Insert creates the attempt document, failing when the ID already exists.
func (r *PaymentAttemptRepository) Insert(ctx context.Context, attempt domain.PaymentAttempt) error {
	if r == nil || r.base == nil {
		return errors.New("payment attempt repository not initialised")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return errors.New("payment attempt repository: attempt id is required")
	}
	if strings.TrimSpace(attempt.OrderID) == "" {
		return errors.New("payment attempt repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, attempt.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newPaymentAttemptDocument(attempt)); err != nil {
		return pfirestore.WrapError("paymentAttempts.insert", err)
	}
	return nil
}

// Update rewrites the stored attempt document.
func (r *PaymentAttemptRepository) Update(ctx context.Context, attempt domain.PaymentAttempt) error {
	if r == nil || r.base == nil {
		return errors.New("payment attempt repository not initialised")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return errors.New("payment attempt repository: attempt id is required")
	}
	if _, err := r.base.Set(ctx, attempt.ID, newPaymentAttemptDocument(attempt)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single attempt.
func (r *PaymentAttemptRepository) FindByID(ctx context.Context, attemptID string) (domain.PaymentAttempt, error) {
	if r == nil || r.base == nil {
		return domain.PaymentAttempt{}, errors.New("payment attempt repository not initialised")
	}
	id := strings.TrimSpace(attemptID)
	if id == "" {
		return domain.PaymentAttempt{}, errors.New("payment attempt repository: attempt id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.PaymentAttempt{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByGatewayRef resolves the attempt referenced by a gateway callback.
func (r *PaymentAttemptRepository) FindByGatewayRef(ctx context.Context, gatewayRef string) (domain.PaymentAttempt, error) {
	if r == nil || r.base == nil {
		return domain.PaymentAttempt{}, errors.New("payment attempt repository not initialised")
	}
	ref := strings.TrimSpace(gatewayRef)
	if ref == "" {
		return domain.PaymentAttempt{}, errors.New("payment attempt repository: gateway ref is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayRef", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.PaymentAttempt{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentAttempt{}, pfirestore.NewNotFoundError("paymentAttempts.findByGatewayRef", fmt.Sprintf("payment attempt for %s not found", ref))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByOrder returns every attempt recorded for the order, oldest first.
func (r *PaymentAttemptRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentAttempt, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment attempt repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("payment attempt repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.PaymentAttempt, 0, len(docs))
	for _, doc := range docs {
		attempts = append(attempts, doc.Data.toDomain(doc.ID))
	}
	return attempts, nil
}

// ListExpired returns pending attempts whose deadline has passed.
func (r *PaymentAttemptRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment attempt repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.AttemptStatusPending)).
			Where("expiresAt", "<=", cutoff.UTC()).
			OrderBy("expiresAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.PaymentAttempt, 0, len(docs))
	for _, doc := range docs {
		attempts = append(attempts, doc.Data.toDomain(doc.ID))
	}
	return attempts, nil
}

// Helper structures ---------------------------------------------------------

type paymentAttemptDocument struct {
	OrderID      string     `firestore:"orderId"`
	OrderCode    string     `firestore:"orderCode"`
	Method       string     `firestore:"method"`
	Amount       int64      `firestore:"amount"`
	Status       string     `firestore:"status"`
	GatewayRef   string     `firestore:"gatewayRef,omitempty"`
	GatewayTxnID string     `firestore:"gatewayTxnId,omitempty"`
	FailureCode  string     `firestore:"failureCode,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	CompletedAt  *time.Time `firestore:"completedAt,omitempty"`
	ExpiresAt    *time.Time `firestore:"expiresAt,omitempty"`
}

func newPaymentAttemptDocument(attempt domain.PaymentAttempt) paymentAttemptDocument {
	return paymentAttemptDocument{
		OrderID:      strings.TrimSpace(attempt.OrderID),
		OrderCode:    strings.ToUpper(strings.TrimSpace(attempt.OrderCode)),
		Method:       string(attempt.Method),
		Amount:       attempt.Amount,
		Status:       string(attempt.Status),
		GatewayRef:   strings.TrimSpace(attempt.GatewayRef),
		GatewayTxnID: strings.TrimSpace(attempt.GatewayTxnID),
		FailureCode:  strings.TrimSpace(attempt.FailureCode),
		CreatedAt:    attempt.CreatedAt.UTC(),
		CompletedAt:  utcOrNil(attempt.CompletedAt),
		ExpiresAt:    utcOrNil(attempt.ExpiresAt),
	}
}

func (d paymentAttemptDocument) toDomain(id string) domain.PaymentAttempt {
	return domain.PaymentAttempt{
		ID:           id,
		OrderID:      d.OrderID,
		OrderCode:    d.OrderCode,
		Method:       domain.PaymentMethod(d.Method),
		Amount:       d.Amount,
		Status:       domain.AttemptStatus(d.Status),
		GatewayRef:   d.GatewayRef,
		GatewayTxnID: d.GatewayTxnID,
		FailureCode:  d.FailureCode,
		CreatedAt:    d.CreatedAt,
		CompletedAt:  d.CompletedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}

var _ repositories.PaymentAttemptRepository = (*PaymentAttemptRepository)(nil)
