package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/phankid/api/internal/domain"
	pfirestore "github.com/phankid/api/internal/platform/firestore"
	"github.com/phankid/api/internal/repositories"
)

const variantCollection = "variants"

// VariantRepository reads catalog variants and mutates their stock counters.
// Stock moves only inside Firestore transactions so that an order either takes
// every line it needs or takes nothing.
type VariantRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[variantDocument](provider, variantCollection, nil, nil)
	return &VariantRepository{provider: provider, base: base}, nil
}

// Get loads a single variant by ID.
func (r *VariantRepository) Get(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.base == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	id := strings.TrimSpace(variantID)
	if id == "" {
		return domain.Variant{}, repositories.NewStockError(repositories.StockErrorVariantNotFound, "variant id is required", nil)
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Variant{}, repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found", id), err)
		}
		return domain.Variant{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetMany loads the given variants in a single round trip. Missing IDs are
// simply absent from the result map; callers decide whether that is an error.
func (r *VariantRepository) GetMany(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("variant repository not initialised")
	}

	variants := make(map[string]domain.Variant, len(variantIDs))
	if len(variantIDs) == 0 {
		return variants, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(variantIDs))
	seen := make(map[string]struct{}, len(variantIDs))
	for _, id := range variantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(variantCollection).Doc(id))
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("variants.getMany", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode variant %s: %w", snap.Ref.ID, err)
		}
		variants[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return variants, nil
}

// DecrementStock takes stock for every line in a single transaction. When any
// line cannot be satisfied nothing is written and the returned StockError
// names the blocking variants.
func (r *VariantRepository) DecrementStock(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("variant repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorUnknown, "stock decrement: at least one line is required", nil)
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.StockDecrementResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc variantDocument
			qty int
		}

		writes := make([]pending, 0, len(req.Lines))
		insufficient := make([]string, 0)
		stock := make(map[string]int, len(req.Lines))

		// All reads happen before any write inside a Firestore transaction.
		for _, line := range req.Lines {
			id := strings.TrimSpace(line.VariantID)
			if id == "" {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, "stock decrement: variant id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock decrement: quantity for %s must be > 0", id), nil)
			}

			ref, err := r.base.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found", id), err)
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", id, err)
			}
			if !doc.Active {
				return repositories.NewStockError(repositories.StockErrorVariantInactive, fmt.Sprintf("variant %s is not for sale", id), nil)
			}
			if doc.Stock < line.Quantity {
				insufficient = append(insufficient, id)
				continue
			}
			doc.Stock -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc, qty: line.Quantity})
			stock[id] = doc.Stock
		}

		if len(insufficient) > 0 {
			sort.Strings(insufficient)
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", strings.Join(insufficient, ", ")), nil)
			stockErr.Insufficient = insufficient
			return stockErr
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		result = repositories.StockDecrementResult{Stock: stock}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return repositories.StockDecrementResult{Insufficient: stockErr.Insufficient}, wrapStockError("variants.decrementStock", err)
		}
		return repositories.StockDecrementResult{}, wrapStockError("variants.decrementStock", err)
	}
	return result, nil
}

// IncrementStock restores previously taken stock, e.g. on cancellation.
func (r *VariantRepository) IncrementStock(ctx context.Context, req repositories.StockIncrementRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("variant repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.NewStockError(repositories.StockErrorUnknown, "stock increment: at least one line is required", nil)
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc variantDocument
		}

		writes := make([]pending, 0, len(req.Lines))
		for _, line := range req.Lines {
			id := strings.TrimSpace(line.VariantID)
			if id == "" {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, "stock increment: variant id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock increment: quantity for %s must be > 0", id), nil)
			}

			ref, err := r.base.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found", id), err)
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", id, err)
			}
			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("variants.incrementStock", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type variantDocument struct {
	ProductID string    `firestore:"productId"`
	SKU       string    `firestore:"sku"`
	Name      string    `firestore:"name"`
	Size      string    `firestore:"size,omitempty"`
	Color     string    `firestore:"color,omitempty"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	return domain.Variant{
		ID:        id,
		ProductID: strings.TrimSpace(d.ProductID),
		SKU:       strings.TrimSpace(d.SKU),
		Name:      strings.TrimSpace(d.Name),
		Size:      strings.TrimSpace(d.Size),
		Color:     strings.TrimSpace(d.Color),
		Price:     d.Price,
		Stock:     d.Stock,
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.VariantRepository = (*VariantRepository)(nil)
