package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/repositories"
)

func TestPromotionService_Validate_PercentDiscount(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:           "promo_spring",
			Code:         "SPRING10",
			Type:         domain.PromotionPercent,
			PercentOff:   10,
			PerUserLimit: 3,
			StartsAt:     now.Add(-time.Hour),
			ExpiresAt:    now.Add(2 * time.Hour),
			Active:       true,
		},
	}
	usage := &stubPromotionUsageRepository{}

	svc := mustPromotionService(t, repo, usage, now)

	result, err := svc.Validate(context.Background(), ValidatePromotionCommand{
		Code:     " spring10 ",
		UserID:   "user-1",
		Subtotal: 2000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Discount != 200 {
		t.Fatalf("expected discount 200 got %d", result.Discount)
	}
	if repo.lastCode != "SPRING10" {
		t.Fatalf("repository looked up wrong code %s", repo.lastCode)
	}
}

func TestPromotionService_Validate_UnknownOrInactiveCode(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

	repo := &stubPromotionRepository{err: &stubPromotionRepoError{notFound: true}}
	svc := mustPromotionService(t, repo, &stubPromotionUsageRepository{}, now)
	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "MISSING", Subtotal: 1000}); !errors.Is(err, ErrPromotionInvalid) {
		t.Fatalf("expected ErrPromotionInvalid for unknown code got %v", err)
	}

	repo = &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:     "promo_off",
			Code:   "OFFLINE",
			Type:   domain.PromotionFixed,
			Active: false,
		},
	}
	svc = mustPromotionService(t, repo, &stubPromotionUsageRepository{}, now)
	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "OFFLINE", Subtotal: 1000}); !errors.Is(err, ErrPromotionInvalid) {
		t.Fatalf("expected ErrPromotionInvalid for inactive code got %v", err)
	}
}

func TestPromotionService_Validate_OutsideWindow(t *testing.T) {
	now := time.Date(2024, time.July, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:        "promo_later",
			Code:      "LATER",
			Type:      domain.PromotionFixed,
			AmountOff: 500,
			StartsAt:  now.Add(time.Hour),
			ExpiresAt: now.Add(24 * time.Hour),
			Active:    true,
		},
	}
	svc := mustPromotionService(t, repo, &stubPromotionUsageRepository{}, now)

	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "LATER", Subtotal: 1000}); !errors.Is(err, ErrPromotionInvalid) {
		t.Fatalf("expected ErrPromotionInvalid before start got %v", err)
	}

	repo.promotion.StartsAt = now.Add(-48 * time.Hour)
	repo.promotion.ExpiresAt = now.Add(-time.Hour)
	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "LATER", Subtotal: 1000}); !errors.Is(err, ErrPromotionInvalid) {
		t.Fatalf("expected ErrPromotionInvalid after expiry got %v", err)
	}
}

func TestPromotionService_Validate_PerUserLimit(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:           "promo_once",
			Code:         "ONCE",
			Type:         domain.PromotionFixed,
			AmountOff:    300,
			PerUserLimit: 1,
			Active:       true,
		},
	}
	usage := &stubPromotionUsageRepository{usage: domain.PromotionUsage{Times: 1}}
	svc := mustPromotionService(t, repo, usage, now)

	_, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "ONCE", UserID: "user-1", Subtotal: 1000})
	if !errors.Is(err, ErrPromotionExhausted) {
		t.Fatalf("expected ErrPromotionExhausted got %v", err)
	}
}

func TestPromotionService_Validate_MinOrderGateRunsLast(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:             "promo_big",
			Code:           "BIGORDER",
			Type:           domain.PromotionFixed,
			AmountOff:      500,
			MinOrderAmount: 2500,
			PerUserLimit:   1,
			Active:         true,
		},
	}

	// Exhausted usage reports before the minimum order gate.
	usage := &stubPromotionUsageRepository{usage: domain.PromotionUsage{Times: 1}}
	svc := mustPromotionService(t, repo, usage, now)
	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "BIGORDER", UserID: "user-1", Subtotal: 1000}); !errors.Is(err, ErrPromotionExhausted) {
		t.Fatalf("expected ErrPromotionExhausted got %v", err)
	}

	svc = mustPromotionService(t, repo, &stubPromotionUsageRepository{}, now)
	if _, err := svc.Validate(context.Background(), ValidatePromotionCommand{Code: "BIGORDER", UserID: "user-1", Subtotal: 1000}); !errors.Is(err, ErrPromotionMinOrder) {
		t.Fatalf("expected ErrPromotionMinOrder got %v", err)
	}
}

func TestPromotionService_Validate_ScopedToDeliveryFee(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubPromotionRepository{
		promotion: domain.Promotion{
			ID:         "promo_ship",
			Code:       "FREESHIP",
			Type:       domain.PromotionPercent,
			AppliesTo:  domain.PromoScopeDelivery,
			PercentOff: 50,
			Active:     true,
		},
	}
	svc := mustPromotionService(t, repo, &stubPromotionUsageRepository{}, now)

	result, err := svc.Validate(context.Background(), ValidatePromotionCommand{
		Code:        "FREESHIP",
		UserID:      "user-1",
		Subtotal:    2000,
		DeliveryFee: 1100,
		ServiceFee:  350,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Discount != 550 {
		t.Fatalf("expected half the delivery fee got %d", result.Discount)
	}
}

func TestPromotionDiscountCappedAtSubtotal(t *testing.T) {
	promo := domain.Promotion{Type: domain.PromotionFixed, AmountOff: 2500}
	if got := PromotionDiscount(promo, 2000); got != 2000 {
		t.Fatalf("expected discount capped at 2000 got %d", got)
	}

	percent := domain.Promotion{Type: domain.PromotionPercent, PercentOff: 100}
	if got := PromotionDiscount(percent, 1234); got != 1234 {
		t.Fatalf("expected full-subtotal discount got %d", got)
	}
}

func mustPromotionService(t *testing.T, repo repositories.PromotionRepository, usage repositories.PromotionUsageRepository, now time.Time) PromotionService {
	t.Helper()
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: repo,
		Usage:      usage,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	return svc
}

type stubPromotionRepository struct {
	promotion domain.Promotion
	err       error
	lastCode  string
}

func (s *stubPromotionRepository) Insert(context.Context, domain.Promotion) error {
	return errors.New("not implemented")
}

func (s *stubPromotionRepository) Update(context.Context, domain.Promotion) error {
	return errors.New("not implemented")
}

func (s *stubPromotionRepository) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	s.lastCode = code
	if s.err != nil {
		return domain.Promotion{}, s.err
	}
	return s.promotion, nil
}

func (s *stubPromotionRepository) List(context.Context, repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	return domain.CursorPage[domain.Promotion]{}, errors.New("not implemented")
}

type stubPromotionUsageRepository struct {
	usage      domain.PromotionUsage
	err        error
	increments int
	removals   int
}

func (s *stubPromotionUsageRepository) GetUsage(context.Context, string, string) (domain.PromotionUsage, error) {
	if s.err != nil {
		return domain.PromotionUsage{}, s.err
	}
	return s.usage, nil
}

func (s *stubPromotionUsageRepository) IncrementUsage(_ context.Context, _ string, _ string, now time.Time) (domain.PromotionUsage, error) {
	if s.err != nil {
		return domain.PromotionUsage{}, s.err
	}
	s.increments++
	s.usage.Times++
	s.usage.LastUsedAt = now
	return s.usage, nil
}

func (s *stubPromotionUsageRepository) RemoveUsage(context.Context, string, string) error {
	if s.err != nil {
		return s.err
	}
	s.removals++
	if s.usage.Times > 0 {
		s.usage.Times--
	}
	return nil
}

type stubPromotionRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubPromotionRepoError) Error() string {
	return "promotion repo error"
}

func (e *stubPromotionRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubPromotionRepoError) IsConflict() bool    { return e.conflict }
func (e *stubPromotionRepoError) IsUnavailable() bool { return e.unavailable }
