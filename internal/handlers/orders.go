package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/geo"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/platform/httpx"
	"github.com/fleetbite/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusAwaitingPayment:  {},
	domain.OrderStatusPending:          {},
	domain.OrderStatusConfirmed:        {},
	domain.OrderStatusReadyForDelivery: {},
	domain.OrderStatusOutForDelivery:   {},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusCancelled:        {},
	domain.OrderStatusFailed:           {},
}

// orderListCache holds rendered list responses keyed by user and query. The
// order service invalidates a user's entries after every mutation.
type orderListCache interface {
	Get(userID, key string) ([]byte, bool)
	Set(userID, key string, payload []byte)
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	listCache   orderListCache
	idempotency func(http.Handler) http.Handler
}

// OrderOption customises order handler construction.
type OrderOption func(*OrderHandlers)

// WithOrderListCache caches rendered list pages between reads.
func WithOrderListCache(cache orderListCache) OrderOption {
	return func(h *OrderHandlers) {
		h.listCache = cache
	}
}

// WithOrderIdempotency guards order placement with the idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/reorder", h.reorder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/status", h.transitionStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderFromCartCommand{
		UserID:    identity.UID,
		AddressID: req.AddressID,
		TipAmount: req.TipAmount,
		PromoCode: req.PromoCode,
		Notes:     req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req reorderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Reorder(ctx, services.ReorderCommand{
		UserID:        identity.UID,
		SourceOrderID: orderID,
		AddressID:     req.AddressID,
		TipAmount:     req.TipAmount,
		PromoCode:     req.PromoCode,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:   orderID,
		ActorID:   identity.UID,
		ActorRole: primaryRole(identity.Roles),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	statusFilters := parseFilterValues(query["status"])
	for _, raw := range statusFilters {
		if _, ok := validOrderStatuses[domain.OrderStatus(raw)]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+strconv.Quote(raw), http.StatusBadRequest))
			return
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	cacheKey := orderListCacheKey(query, pageSize)
	if h.listCache != nil {
		if cached, ok := h.listCache.Get(identity.UID, cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(identity.UID),
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	response := orderListResponse{
		Orders:        items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to encode order list", http.StatusInternalServerError))
		return
	}
	if h.listCache != nil {
		h.listCache.Set(identity.UID, cacheKey, encoded)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   orderID,
		ActorID:   identity.UID,
		ActorRole: primaryRole(identity.Roles),
		Reason:    req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	role := primaryRole(identity.Roles)
	if role == services.RoleCustomer {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "status transitions require a courier or staff role", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown target status "+strconv.Quote(req.Status), http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      identity.UID,
		ActorRole:    role,
		Reason:       req.Reason,
	}
	if strings.TrimSpace(req.ExpectedStatus) != "" {
		expected, ok := parseOrderStatus(req.ExpectedStatus)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown expected status "+strconv.Quote(req.ExpectedStatus), http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrOrderEmptyCart),
		errors.Is(err, services.ErrOrderInvalidAddress),
		errors.Is(err, services.ErrOrderBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, geo.ErrNoCenterAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_delivery_range", "address is outside the delivery area", http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPricingCartEmpty),
		errors.Is(err, services.ErrPricingProductUnavailable),
		errors.Is(err, services.ErrPromotionInvalid),
		errors.Is(err, services.ErrPromotionMinOrder),
		errors.Is(err, services.ErrPromotionExhausted):
		writePricingError(ctx, w, err)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// orderListCacheKey canonicalises the list query so reordered parameters hit
// the same entry.
func orderListCacheKey(query url.Values, pageSize int) string {
	statuses := parseFilterValues(query["status"])
	sort.Strings(statuses)

	parts := []string{
		"status=" + strings.Join(statuses, ","),
		"page_size=" + strconv.Itoa(pageSize),
		"page_token=" + strings.TrimSpace(query.Get("page_token")),
		"placed_after=" + strings.TrimSpace(query.Get("placed_after")),
		"placed_before=" + strings.TrimSpace(query.Get("placed_before")),
	}
	return strings.Join(parts, "&")
}

// primaryRole picks the most privileged role carried by the identity.
func primaryRole(roles []string) string {
	ranked := []string{services.RoleAdmin, services.RoleStaff, services.RoleCourier}
	for _, candidate := range ranked {
		for _, role := range roles {
			if strings.EqualFold(strings.TrimSpace(role), candidate) {
				return candidate
			}
		}
	}
	return services.RoleCustomer
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := validOrderStatuses[status]
	return status, ok
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseTimeParam(value string) (time.Time, error) {
	return parseRFC3339(strings.TrimSpace(value))
}

type createOrderRequest struct {
	AddressID string `json:"address_id"`
	TipAmount int64  `json:"tip_amount"`
	PromoCode string `json:"promo_code"`
	Notes     string `json:"notes"`
}

type reorderRequest struct {
	AddressID string `json:"address_id"`
	TipAmount int64  `json:"tip_amount"`
	PromoCode string `json:"promo_code"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type transitionRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	Status      string `json:"status"`
	FinalAmount int64  `json:"final_amount"`
	Currency    string `json:"currency"`
	LineCount   int    `json:"line_count"`
	PlacedAt    string `json:"placed_at,omitempty"`
}

type orderPayload struct {
	ID          string                `json:"id"`
	Number      string                `json:"number"`
	UserID      string                `json:"user_id"`
	CenterID    string                `json:"center_id,omitempty"`
	CourierID   string                `json:"courier_id,omitempty"`
	Status      string                `json:"status"`
	Lines       []orderLinePayload    `json:"lines"`
	Charges     chargesPayload        `json:"charges"`
	Currency    string                `json:"currency"`
	Address     addressPayload        `json:"address"`
	Window      *windowPayload        `json:"window,omitempty"`
	Payment     *paymentStatePayload  `json:"payment,omitempty"`
	History     []statusChangePayload `json:"history"`
	PlacedAt    string                `json:"placed_at,omitempty"`
	DeliveredAt string                `json:"delivered_at,omitempty"`
	CreatedAt   string                `json:"created_at,omitempty"`
	UpdatedAt   string                `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type windowPayload struct {
	EarliestAt string `json:"earliest_at"`
	LatestAt   string `json:"latest_at"`
}

type paymentStatePayload struct {
	IntentID    string `json:"intent_id"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ReceivedAt  string `json:"received_at,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`
}

type statusChangePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	Reason    string `json:"reason,omitempty"`
	At        string `json:"at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		Number:      order.Number,
		Status:      string(order.Status),
		FinalAmount: order.Charges.FinalAmount,
		Currency:    order.Currency,
		LineCount:   len(order.Lines),
		PlacedAt:    formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}

	history := make([]statusChangePayload, 0, len(order.History))
	for _, change := range order.History {
		history = append(history, statusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			Reason:    change.Reason,
			At:        formatTime(change.At),
		})
	}

	payload := orderPayload{
		ID:        order.ID,
		Number:    order.Number,
		UserID:    order.UserID,
		CenterID:  order.CenterID,
		CourierID: order.CourierID,
		Status:    string(order.Status),
		Lines:     lines,
		Charges:   buildChargesPayload(order.Charges),
		Currency:  order.Currency,
		Address:   buildAddressPayload(order.Address),
		History:   history,
		PlacedAt:  formatTime(order.PlacedAt),
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	if !order.Window.EarliestAt.IsZero() || !order.Window.LatestAt.IsZero() {
		payload.Window = &windowPayload{
			EarliestAt: formatTime(order.Window.EarliestAt),
			LatestAt:   formatTime(order.Window.LatestAt),
		}
	}
	if order.Payment != nil {
		state := paymentStatePayload{
			IntentID:    order.Payment.IntentID,
			Provider:    order.Payment.Provider,
			Status:      order.Payment.Status,
			Amount:      order.Payment.Amount,
			Currency:    order.Payment.Currency,
			FailureCode: order.Payment.FailureCode,
		}
		if order.Payment.ReceivedAt != nil {
			state.ReceivedAt = formatTime(*order.Payment.ReceivedAt)
		}
		payload.Payment = &state
	}
	if order.DeliveredAt != nil {
		payload.DeliveredAt = formatTime(*order.DeliveredAt)
	}

	return payload
}
