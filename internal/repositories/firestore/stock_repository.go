package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const (
	stockCollection = "stockLevels"
)

// StockRepository manages per-center stock documents. Multi-line decrements
// are all-or-nothing: any line short on stock fails the whole mutation.
type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: stocks}, nil
}

// Decrement subtracts the requested quantities. When the caller already
// holds a unit-of-work transaction the mutation joins it; otherwise a
// dedicated transaction is opened.
func (r *StockRepository) Decrement(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(req.CenterID) == "" {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "stock decrement: center id is required", nil)
	}
	if len(req.Lines) == 0 {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "stock decrement: at least one line is required", nil)
	}

	now := time.Now().UTC()
	var result repositories.StockDecrementResult

	// All reads happen before any write: the Firestore client rejects a
	// transactional read once a write is buffered, and the placement unit
	// of work issues its own writes after this call returns.
	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc stockDocument
		}
		pending := make([]pendingWrite, 0, len(req.Lines))
		remaining := make(map[string]int, len(req.Lines))
		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorInvalidInput, "stock decrement: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("stock decrement: quantity for %s must be > 0", productID), nil)
			}

			ref, err := r.stocks.DocumentRef(ctx, stockDocID(req.CenterID, productID))
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock for %s not found at %s", productID, req.CenterID), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			if doc.OnHand < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.OnHand -= line.Quantity
			doc.UpdatedAt = now
			pending = append(pending, pendingWrite{ref: ref, doc: doc})
			remaining[productID] = doc.OnHand
		}
		for _, write := range pending {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		result = repositories.StockDecrementResult{
			CenterID:  req.CenterID,
			Remaining: remaining,
			AppliedAt: now,
		}
		return nil
	}

	var err error
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		err = apply(ctx, tx)
	} else {
		err = r.provider.RunTransaction(ctx, apply)
	}
	if err != nil {
		return repositories.StockDecrementResult{}, wrapStockError("stock.decrement", err)
	}
	return result, nil
}

// Restore returns previously decremented quantities to the center.
func (r *StockRepository) Restore(ctx context.Context, req repositories.StockRestoreRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(req.CenterID) == "" {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, "stock restore: center id is required", nil)
	}
	if len(req.Lines) == 0 {
		return nil
	}

	now := time.Now().UTC()
	// Same read-then-write split as Decrement so cancellations can update
	// the order document after restoring its lines.
	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc stockDocument
		}
		pending := make([]pendingWrite, 0, len(req.Lines))
		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			ref, err := r.stocks.DocumentRef(ctx, stockDocID(req.CenterID, productID))
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			var doc stockDocument
			switch {
			case err == nil:
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode stock %s: %w", productID, err)
				}
			case status.Code(err) == codes.NotFound:
				doc = stockDocument{CenterID: req.CenterID, ProductID: productID}
			default:
				return err
			}
			doc.OnHand += line.Quantity
			doc.CenterID = req.CenterID
			doc.ProductID = productID
			doc.UpdatedAt = now
			pending = append(pending, pendingWrite{ref: ref, doc: doc})
		}
		for _, write := range pending {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		err = apply(ctx, tx)
	} else {
		err = r.provider.RunTransaction(ctx, apply)
	}
	return wrapStockError("stock.restore", err)
}

// GetLevel loads the stock document for one product at one center.
func (r *StockRepository) GetLevel(ctx context.Context, centerID string, productID string) (domain.StockLevel, error) {
	if r == nil || r.stocks == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	centerID = strings.TrimSpace(centerID)
	productID = strings.TrimSpace(productID)
	if centerID == "" || productID == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "stock get: center and product ids are required", nil)
	}

	doc, err := r.stocks.Get(ctx, stockDocID(centerID, productID))
	if err != nil {
		return domain.StockLevel{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(centerID, productID), nil
}

// ListLowStock pages stock documents at or below the threshold for one center.
func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
	if r == nil || r.stocks == nil {
		return domain.CursorPage[domain.StockLevel]{}, errors.New("stock repository not initialised")
	}
	centerID := strings.TrimSpace(query.CenterID)
	if centerID == "" {
		return domain.CursorPage[domain.StockLevel]{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "stock list: center id is required", nil)
	}

	pageSize := query.Pagination.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}

	cursor, err := decodeStockPageToken(query.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.StockLevel]{}, err
	}

	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("centerId", "==", centerID).
			Where("onHand", "<=", query.Threshold).
			OrderBy("onHand", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if cursor != nil {
			q = q.StartAfter(cursor.OnHand, cursor.DocID)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.StockLevel]{}, wrapStockError("stock.list", err)
	}

	page := domain.CursorPage[domain.StockLevel]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := encodeStockPageToken(stockPageCursor{OnHand: docs[i-1].Data.OnHand, DocID: docs[i-1].ID})
			if err != nil {
				return domain.CursorPage[domain.StockLevel]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.Data.CenterID, doc.Data.ProductID))
	}
	return page, nil
}

func stockDocID(centerID, productID string) string {
	return fmt.Sprintf("%s__%s", strings.TrimSpace(centerID), strings.TrimSpace(productID))
}

type stockDocument struct {
	CenterID  string    `firestore:"centerId"`
	ProductID string    `firestore:"productId"`
	OnHand    int       `firestore:"onHand"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain(centerID, productID string) domain.StockLevel {
	if d.CenterID != "" {
		centerID = d.CenterID
	}
	if d.ProductID != "" {
		productID = d.ProductID
	}
	return domain.StockLevel{
		CenterID:  centerID,
		ProductID: productID,
		OnHand:    d.OnHand,
		UpdatedAt: d.UpdatedAt,
	}
}

type stockPageCursor struct {
	OnHand int    `json:"onHand"`
	DocID  string `json:"docId"`
}

func encodeStockPageToken(cursor stockPageCursor) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(cursor); err != nil {
		return "", fmt.Errorf("encode stock page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeStockPageToken(token string) (*stockPageCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, repositories.NewStockError(repositories.StockErrorInvalidInput, "invalid page token", err)
	}
	var cursor stockPageCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, repositories.NewStockError(repositories.StockErrorInvalidInput, "invalid page token", err)
	}
	return &cursor, nil
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

var _ repositories.StockRepository = (*StockRepository)(nil)
