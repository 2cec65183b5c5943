package firestore

import (
	"context"
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

// PromotionUsageRepository records per-user redemption counts. Increments
// join the order placement transaction so usage and order commit together.
type PromotionUsageRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[promotionUsageDocument]
}

// NewPromotionUsageRepository constructs a Firestore-backed usage ledger.
func NewPromotionUsageRepository(provider *pfirestore.Provider) (*PromotionUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion usage repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[promotionUsageDocument](provider, promotionUsageCollection, nil, nil)
	return &PromotionUsageRepository{provider: provider, base: base}, nil
}

// GetUsage returns the ledger entry for one user and promotion. A missing
// document decodes as zero usage.
func (r *PromotionUsageRepository) GetUsage(ctx context.Context, promoID string, userID string) (domain.PromotionUsage, error) {
	if r == nil || r.base == nil {
		return domain.PromotionUsage{}, errors.New("promotion usage repository not initialised")
	}
	docID, err := usageDocID(promoID, userID)
	if err != nil {
		return domain.PromotionUsage{}, err
	}

	doc, err := r.base.Get(ctx, docID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.PromotionUsage{PromotionID: promoID, UserID: userID}, nil
		}
		return domain.PromotionUsage{}, err
	}
	return doc.Data.toDomain(promoID, userID), nil
}

// IncrementUsage bumps the redemption count, creating the ledger entry on
// first use. Joins an ambient transaction when one is open.
func (r *PromotionUsageRepository) IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (domain.PromotionUsage, error) {
	if r == nil || r.provider == nil {
		return domain.PromotionUsage{}, errors.New("promotion usage repository not initialised")
	}
	docID, err := usageDocID(promoID, userID)
	if err != nil {
		return domain.PromotionUsage{}, err
	}
	now = now.UTC()

	// Inside the placement unit of work the bump is a blind merge with a
	// server-side increment: the transaction has already buffered writes
	// by the time usage is recorded, and the client rejects further reads.
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return domain.PromotionUsage{}, err
		}
		err = tx.Set(ref, map[string]any{
			"promotionId": strings.TrimSpace(promoID),
			"userId":      strings.TrimSpace(userID),
			"times":       firestore.Increment(1),
			"lastUsedAt":  now,
		}, firestore.MergeAll)
		if err != nil {
			return domain.PromotionUsage{}, pfirestore.WrapError("promotionUsage.increment", err)
		}
		return domain.PromotionUsage{PromotionID: promoID, UserID: userID, LastUsedAt: now}, nil
	}

	var result domain.PromotionUsage
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}
		var doc promotionUsageDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode promotion usage %s: %w", docID, err)
			}
		case status.Code(err) == codes.NotFound:
			doc = promotionUsageDocument{PromotionID: strings.TrimSpace(promoID), UserID: strings.TrimSpace(userID)}
		default:
			return err
		}
		doc.Times++
		doc.LastUsedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(promoID, userID)
		return nil
	})
	if err != nil {
		return domain.PromotionUsage{}, pfirestore.WrapError("promotionUsage.increment", err)
	}
	return result, nil
}

// RemoveUsage decrements the ledger entry, used when a placement transaction
// was superseded by an out-of-band cancellation refunding the redemption.
func (r *PromotionUsageRepository) RemoveUsage(ctx context.Context, promoID string, userID string) error {
	if r == nil || r.provider == nil {
		return errors.New("promotion usage repository not initialised")
	}
	docID, err := usageDocID(promoID, userID)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var doc promotionUsageDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode promotion usage %s: %w", docID, err)
		}
		if doc.Times <= 1 {
			return tx.Delete(ref)
		}
		doc.Times--
		return tx.Set(ref, doc)
	})
	return pfirestore.WrapError("promotionUsage.remove", err)
}

func usageDocID(promoID, userID string) (string, error) {
	promoID = strings.TrimSpace(promoID)
	userID = strings.TrimSpace(userID)
	if promoID == "" || userID == "" {
		return "", errors.New("promotion usage repository: promotion and user ids are required")
	}
	return fmt.Sprintf("%s__%s", promoID, userID), nil
}

type promotionUsageDocument struct {
	PromotionID string    `firestore:"promotionId"`
	UserID      string    `firestore:"userId"`
	Times       int       `firestore:"times"`
	LastUsedAt  time.Time `firestore:"lastUsedAt"`
}

func (d promotionUsageDocument) toDomain(promoID, userID string) domain.PromotionUsage {
	if d.PromotionID != "" {
		promoID = d.PromotionID
	}
	if d.UserID != "" {
		userID = d.UserID
	}
	return domain.PromotionUsage{
		PromotionID: promoID,
		UserID:      userID,
		Times:       d.Times,
		LastUsedAt:  d.LastUsedAt,
	}
}

var _ repositories.PromotionUsageRepository = (*PromotionUsageRepository)(nil)
