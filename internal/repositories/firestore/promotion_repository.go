package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const (
	promotionsCollection     = "promotions"
	promotionUsageCollection = "promotionUsage"
)

// PromotionRepository maintains promotion definitions keyed by normalised code.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil, nil)
	return &PromotionRepository{base: base}, nil
}

// Insert stores a new promotion.
func (r *PromotionRepository) Insert(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	promoID := strings.TrimSpace(promotion.ID)
	if promoID == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	ref, err := r.base.DocumentRef(ctx, promoID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodePromotion(promotion)); err != nil {
		return pfirestore.WrapError("promotions.insert", err)
	}
	return nil
}

// Update replaces the persisted promotion state.
func (r *PromotionRepository) Update(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	promoID := strings.TrimSpace(promotion.ID)
	if promoID == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	if _, err := r.base.Set(ctx, promoID, encodePromotion(promotion)); err != nil {
		return err
	}
	return nil
}

// FindByCode resolves a promotion by its user-facing code, case-insensitive.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	if r == nil || r.base == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return domain.Promotion{}, errors.New("promotion repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.NewNotFoundError("promotions.find_by_code", fmt.Sprintf("promotion %s not found", normalised))
	}
	return decodePromotion(docs[0].ID, docs[0].Data), nil
}

// List pages promotion definitions for operations tooling.
func (r *PromotionRepository) List(ctx context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Promotion]{}, errors.New("promotion repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if tokenTime, tokenID, err := decodeOrderListToken(token); err == nil {
				q = q.StartAfter(tokenTime, tokenID)
			}
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Promotion]{}, err
	}

	nextToken := ""
	if len(docs) > limit {
		last := docs[limit-1]
		nextToken = encodeOrderListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:limit]
	}
	items := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodePromotion(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Promotion]{Items: items, NextPageToken: nextToken}, nil
}

type promotionDocument struct {
	Code           string    `firestore:"code"`
	Type           string    `firestore:"type"`
	AppliesTo      string    `firestore:"appliesTo,omitempty"`
	PercentOff     int       `firestore:"percentOff,omitempty"`
	AmountOff      int64     `firestore:"amountOff,omitempty"`
	MinOrderAmount int64     `firestore:"minOrderAmount"`
	PerUserLimit   int       `firestore:"perUserLimit"`
	StartsAt       time.Time `firestore:"startsAt"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
	Active         bool      `firestore:"active"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func encodePromotion(p domain.Promotion) promotionDocument {
	return promotionDocument{
		Code:           strings.ToUpper(strings.TrimSpace(p.Code)),
		Type:           string(p.Type),
		AppliesTo:      string(p.Scope()),
		PercentOff:     p.PercentOff,
		AmountOff:      p.AmountOff,
		MinOrderAmount: p.MinOrderAmount,
		PerUserLimit:   p.PerUserLimit,
		StartsAt:       p.StartsAt.UTC(),
		ExpiresAt:      p.ExpiresAt.UTC(),
		Active:         p.Active,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
}

func decodePromotion(id string, doc promotionDocument) domain.Promotion {
	return domain.Promotion{
		ID:             id,
		Code:           doc.Code,
		Type:           domain.PromotionType(doc.Type),
		AppliesTo:      domain.PromotionScope(doc.AppliesTo),
		PercentOff:     doc.PercentOff,
		AmountOff:      doc.AmountOff,
		MinOrderAmount: doc.MinOrderAmount,
		PerUserLimit:   doc.PerUserLimit,
		StartsAt:       doc.StartsAt,
		ExpiresAt:      doc.ExpiresAt,
		Active:         doc.Active,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)
