package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/repositories"
	"github.com/oklog/ulid/v2"
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Usage      repositories.PromotionUsageRepository
	Clock      func() time.Time
}

type promotionService struct {
	repo  repositories.PromotionRepository
	usage repositories.PromotionUsageRepository
	clock func() time.Time
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil || deps.Usage == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promotionService{
		repo:  deps.Promotions,
		usage: deps.Usage,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Validate checks the code through its gates in order: existence and window,
// then per-user limit, then minimum order amount. The gates are ordered so the
// caller always learns the first failing condition.
func (s *promotionService) Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	if s == nil || s.repo == nil {
		return PromotionValidationResult{}, ErrPromotionRepositoryMissing
	}

	normalized := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if normalized == "" {
		return PromotionValidationResult{}, ErrPromotionInvalid
	}

	promotion, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return PromotionValidationResult{}, ErrPromotionInvalid
		}
		return PromotionValidationResult{}, err
	}

	now := s.clock()
	if !promotion.Active {
		return PromotionValidationResult{}, ErrPromotionInvalid
	}
	if !promotion.StartsAt.IsZero() && now.Before(promotion.StartsAt) {
		return PromotionValidationResult{}, ErrPromotionInvalid
	}
	if !promotion.ExpiresAt.IsZero() && now.After(promotion.ExpiresAt) {
		return PromotionValidationResult{}, ErrPromotionInvalid
	}

	if promotion.PerUserLimit > 0 && strings.TrimSpace(cmd.UserID) != "" {
		usage, err := s.usage.GetUsage(ctx, promotion.ID, cmd.UserID)
		if err != nil {
			return PromotionValidationResult{}, err
		}
		if usage.Times >= promotion.PerUserLimit {
			return PromotionValidationResult{}, ErrPromotionExhausted
		}
	}

	if promotion.MinOrderAmount > 0 && cmd.Subtotal < promotion.MinOrderAmount {
		return PromotionValidationResult{}, ErrPromotionMinOrder
	}

	base := cmd.Subtotal
	switch promotion.Scope() {
	case domain.PromoScopeService:
		base = cmd.ServiceFee
	case domain.PromoScopeDelivery:
		base = cmd.DeliveryFee
	}

	return PromotionValidationResult{
		Promotion: promotion,
		Discount:  PromotionDiscount(promotion, base),
	}, nil
}

// PromotionDiscount computes the discount a promotion grants against its
// scoped base amount, capped at the base so no component goes negative.
func PromotionDiscount(promotion Promotion, base int64) int64 {
	if base <= 0 {
		return 0
	}
	var discount int64
	switch promotion.Type {
	case domain.PromotionPercent:
		discount = (base*int64(promotion.PercentOff) + 50) / 100
	case domain.PromotionFixed:
		discount = promotion.AmountOff
	}
	if discount < 0 {
		discount = 0
	}
	if discount > base {
		discount = base
	}
	return discount
}

func (s *promotionService) RecordUsage(ctx context.Context, promotionID string, userID string) error {
	if s == nil || s.usage == nil {
		return ErrPromotionRepositoryMissing
	}
	_, err := s.usage.IncrementUsage(ctx, promotionID, userID, s.clock())
	return err
}

func (s *promotionService) ReleaseUsage(ctx context.Context, promotionID string, userID string) error {
	if s == nil || s.usage == nil {
		return ErrPromotionRepositoryMissing
	}
	return s.usage.RemoveUsage(ctx, promotionID, userID)
}

func (s *promotionService) CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	promotion := cmd.Promotion
	promotion.Code = strings.ToUpper(strings.TrimSpace(promotion.Code))
	if promotion.Code == "" {
		return Promotion{}, fmt.Errorf("promotion service: code is required")
	}
	if err := validatePromotionShape(promotion); err != nil {
		return Promotion{}, err
	}
	if strings.TrimSpace(promotion.ID) == "" {
		promotion.ID = "promo_" + strings.ToLower(ulid.Make().String())
	}
	now := s.clock()
	promotion.CreatedAt = now
	promotion.UpdatedAt = now
	if err := s.repo.Insert(ctx, promotion); err != nil {
		return Promotion{}, err
	}
	return promotion, nil
}

func (s *promotionService) UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	if s == nil || s.repo == nil {
		return Promotion{}, ErrPromotionRepositoryMissing
	}
	promotion := cmd.Promotion
	if strings.TrimSpace(promotion.ID) == "" {
		return Promotion{}, fmt.Errorf("promotion service: promotion id is required")
	}
	promotion.Code = strings.ToUpper(strings.TrimSpace(promotion.Code))
	if err := validatePromotionShape(promotion); err != nil {
		return Promotion{}, err
	}
	promotion.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, promotion); err != nil {
		return Promotion{}, err
	}
	return promotion, nil
}

func (s *promotionService) ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Promotion]{}, ErrPromotionRepositoryMissing
	}
	return s.repo.List(ctx, filter)
}

// A promotion carries exactly one discount component.
func validatePromotionShape(promotion Promotion) error {
	switch promotion.Type {
	case domain.PromotionPercent:
		if promotion.PercentOff <= 0 || promotion.PercentOff > 100 {
			return fmt.Errorf("promotion service: percent off must be within (0, 100]")
		}
		if promotion.AmountOff != 0 {
			return fmt.Errorf("promotion service: percent promotion cannot carry a fixed amount")
		}
	case domain.PromotionFixed:
		if promotion.AmountOff <= 0 {
			return fmt.Errorf("promotion service: amount off must be positive")
		}
		if promotion.PercentOff != 0 {
			return fmt.Errorf("promotion service: fixed promotion cannot carry a percentage")
		}
	default:
		return fmt.Errorf("promotion service: unknown promotion type %q", promotion.Type)
	}
	return nil
}
