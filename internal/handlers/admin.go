package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/platform/httpx"
	"github.com/fleetbite/api/internal/repositories"
	"github.com/fleetbite/api/internal/services"
)

const (
	maxAdminBodySize     = 32 * 1024
	defaultPromoPageSize = 50
)

// AdminHandlers exposes staff-only management endpoints.
type AdminHandlers struct {
	authn      *auth.Authenticator
	promotions services.PromotionService
	system     services.SystemService
}

// NewAdminHandlers constructs handlers restricted to staff and admin roles.
func NewAdminHandlers(authn *auth.Authenticator, promotions services.PromotionService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{
		authn:      authn,
		promotions: promotions,
		system:     system,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/promotions", h.listPromotions)
	r.Post("/promotions", h.createPromotion)
	r.Put("/promotions/{promotionID}", h.updatePromotion)
	r.Post("/counters/{counterID}/next", h.nextCounterValue)
}

func (h *AdminHandlers) listPromotions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize := defaultPromoPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		pageSize = size
	}

	page, err := h.promotions.ListPromotions(ctx, services.PromotionListFilter{
		Status: parseFilterValues(query["status"]),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writePromotionAdminError(ctx, w, err)
		return
	}

	items := make([]promotionPayload, 0, len(page.Items))
	for _, promo := range page.Items {
		items = append(items, buildPromotionPayload(promo))
	}
	writeJSONResponse(w, http.StatusOK, promotionListResponse{
		Promotions:    items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) createPromotion(w http.ResponseWriter, r *http.Request) {
	h.upsertPromotion(w, r, "")
}

func (h *AdminHandlers) updatePromotion(w http.ResponseWriter, r *http.Request) {
	promotionID := strings.TrimSpace(chi.URLParam(r, "promotionID"))
	if promotionID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "promotion id is required", http.StatusBadRequest))
		return
	}
	h.upsertPromotion(w, r, promotionID)
}

func (h *AdminHandlers) upsertPromotion(w http.ResponseWriter, r *http.Request, promotionID string) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req promotionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	promotion, err := req.toDomain()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpsertPromotionCommand{
		Promotion: promotion,
		ActorID:   identity.UID,
	}

	var saved services.Promotion
	if promotionID == "" {
		saved, err = h.promotions.CreatePromotion(ctx, cmd)
	} else {
		cmd.Promotion.ID = promotionID
		saved, err = h.promotions.UpdatePromotion(ctx, cmd)
	}
	if err != nil {
		writePromotionAdminError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if promotionID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, promotionResponse{Promotion: buildPromotionPayload(saved)})
}

func (h *AdminHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	if counterID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "counter id is required", http.StatusBadRequest))
		return
	}

	var req counterRequest
	if body, err := readLimitedBody(r, maxAdminBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      req.Step,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCounterInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrCounterExhausted):
			httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", err.Error(), http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("counter_error", "failed to advance counter", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, counterResponse{
		CounterID: counterID,
		Value:     value,
	})
}

func writePromotionAdminError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	if errors.Is(err, services.ErrPromotionRepositoryMissing) {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound))
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("promotion_conflict", "promotion code already exists", http.StatusConflict))
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("promotion_dependency_failed", "promotion store unavailable", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "failed to process promotion request", http.StatusInternalServerError))
		}
		return
	}

	// Shape validation failures surface as plain service errors.
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

type promotionRequest struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	AppliesTo      string `json:"applies_to"`
	PercentOff     int    `json:"percent_off"`
	AmountOff      int64  `json:"amount_off"`
	MinOrderAmount int64  `json:"min_order_amount"`
	PerUserLimit   int    `json:"per_user_limit"`
	StartsAt       string `json:"starts_at"`
	ExpiresAt      string `json:"expires_at"`
	Active         bool   `json:"active"`
}

func (req promotionRequest) toDomain() (domain.Promotion, error) {
	promotion := domain.Promotion{
		Code:           req.Code,
		Type:           domain.PromotionType(strings.ToLower(strings.TrimSpace(req.Type))),
		AppliesTo:      domain.PromotionScope(strings.ToLower(strings.TrimSpace(req.AppliesTo))),
		PercentOff:     req.PercentOff,
		AmountOff:      req.AmountOff,
		MinOrderAmount: req.MinOrderAmount,
		PerUserLimit:   req.PerUserLimit,
		Active:         req.Active,
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return domain.Promotion{}, errors.New("starts_at must be an RFC3339 timestamp")
		}
		promotion.StartsAt = ts
	}
	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return domain.Promotion{}, errors.New("expires_at must be an RFC3339 timestamp")
		}
		promotion.ExpiresAt = ts
	}
	return promotion, nil
}

type promotionListResponse struct {
	Promotions    []promotionPayload `json:"promotions"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

type promotionResponse struct {
	Promotion promotionPayload `json:"promotion"`
}

type promotionPayload struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Type           string `json:"type"`
	AppliesTo      string `json:"applies_to"`
	PercentOff     int    `json:"percent_off,omitempty"`
	AmountOff      int64  `json:"amount_off,omitempty"`
	MinOrderAmount int64  `json:"min_order_amount,omitempty"`
	PerUserLimit   int    `json:"per_user_limit,omitempty"`
	StartsAt       string `json:"starts_at,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func buildPromotionPayload(promotion services.Promotion) promotionPayload {
	return promotionPayload{
		ID:             promotion.ID,
		Code:           promotion.Code,
		Type:           string(promotion.Type),
		AppliesTo:      string(promotion.Scope()),
		PercentOff:     promotion.PercentOff,
		AmountOff:      promotion.AmountOff,
		MinOrderAmount: promotion.MinOrderAmount,
		PerUserLimit:   promotion.PerUserLimit,
		StartsAt:       formatTime(promotion.StartsAt),
		ExpiresAt:      formatTime(promotion.ExpiresAt),
		Active:         promotion.Active,
		CreatedAt:      formatTime(promotion.CreatedAt),
		UpdatedAt:      formatTime(promotion.UpdatedAt),
	}
}

type counterRequest struct {
	Step int64 `json:"step"`
}

type counterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}
