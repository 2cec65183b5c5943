package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/services"
)

func TestOrderHandlersCreateOrder(t *testing.T) {
	placed := sampleOrder("user-7")
	var got services.CreateOrderFromCartCommand
	service := &stubOrderService{
		createFunc: func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			got = cmd
			return placed, nil
		},
	}

	body := `{"address_id":"addr-1","tip_amount":500,"promo_code":"WELCOME10","notes":"leave at door"}`
	rr := serveOrders(t, service, nil, http.MethodPost, "/orders", body, customerIdentity("user-7"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-7" || got.AddressID != "addr-1" || got.TipAmount != 500 {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.PromoCode != "WELCOME10" || got.Notes != "leave at door" {
		t.Fatalf("unexpected command %+v", got)
	}

	var resp struct {
		Order struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != placed.ID || resp.Order.Number != placed.Number {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.Status != string(domain.OrderStatusAwaitingPayment) {
		t.Fatalf("unexpected status %q", resp.Order.Status)
	}
}

func TestOrderHandlersCreateOrderEmptyCart(t *testing.T) {
	service := &stubOrderService{
		createFunc: func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderEmptyCart
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		createFunc: func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInsufficientStock
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	if envelope.Error != "insufficient_stock" {
		t.Fatalf("unexpected error code %q", envelope.Error)
	}
}

func TestOrderHandlersReorder(t *testing.T) {
	var got services.ReorderCommand
	service := &stubOrderService{
		reorderFunc: func(ctx context.Context, cmd services.ReorderCommand) (services.Order, error) {
			got = cmd
			return sampleOrder("user-7"), nil
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders/ord-1/reorder", "", customerIdentity("user-7"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.SourceOrderID != "ord-1" || got.UserID != "user-7" {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	rr := serveOrders(t, service, nil, http.MethodGet, "/orders/ord-404", "", customerIdentity("user-7"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderPassesActorRole(t *testing.T) {
	var got services.GetOrderCommand
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			got = cmd
			return sampleOrder("user-7"), nil
		},
	}

	identity := &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleCustomer, auth.RoleStaff}}
	rr := serveOrders(t, service, nil, http.MethodGet, "/orders/ord-1", "", identity)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got.ActorRole != services.RoleStaff {
		t.Fatalf("expected staff role, got %q", got.ActorRole)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var got services.OrderListFilter
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("user-7")},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	rr := serveOrders(t, service, nil, http.MethodGet, "/orders?status=delivered,cancelled&page_size=10", "", customerIdentity("user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-7" || got.Pagination.PageSize != 10 {
		t.Fatalf("unexpected filter %+v", got)
	}
	if len(got.Status) != 2 || got.Status[0] != "delivered" || got.Status[1] != "cancelled" {
		t.Fatalf("unexpected status filter %v", got.Status)
	}

	var resp struct {
		Orders        []json.RawMessage `json:"orders"`
		NextPageToken string            `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected list response %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatalf("list should not be called")
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	rr := serveOrders(t, service, nil, http.MethodGet, "/orders?status=shipped", "", customerIdentity("user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersCache(t *testing.T) {
	calls := 0
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			calls++
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("user-7")}}, nil
		},
	}
	cache := newMemoryListCache()

	handler := NewOrderHandlers(nil, service, WithOrderListCache(cache))
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders?status=delivered", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), customerIdentity("user-7")))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rr.Code)
		}
		if i == 1 && rr.Header().Get("X-Cache") != "hit" {
			t.Fatalf("expected cache hit on second read")
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single service call, got %d", calls)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var got services.CancelOrderCommand
	service := &stubOrderService{
		cancelFunc: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			got = cmd
			cancelled := sampleOrder("user-7")
			cancelled.Status = domain.OrderStatusCancelled
			return cancelled, nil
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders/ord-1/cancel", `{"reason":"changed my mind"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord-1" || got.Reason != "changed my mind" {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.ActorRole != services.RoleCustomer {
		t.Fatalf("expected customer role, got %q", got.ActorRole)
	}
}

func TestOrderHandlersCancelInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFunc: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders/ord-1/cancel", "", customerIdentity("user-7"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	if envelope.Error != "invalid_transition" {
		t.Fatalf("unexpected error code %q", envelope.Error)
	}
}

func TestOrderHandlersTransitionForbiddenForCustomers(t *testing.T) {
	service := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			t.Fatalf("transition should not be called")
			return services.Order{}, nil
		},
	}

	rr := serveOrders(t, service, nil, http.MethodPost, "/orders/ord-1/status", `{"status":"confirmed"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionStatus(t *testing.T) {
	var got services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			got = cmd
			updated := sampleOrder("user-7")
			updated.Status = domain.OrderStatusOutForDelivery
			return updated, nil
		},
	}

	identity := &auth.Identity{UID: "courier-3", Roles: []string{auth.RoleCourier}}
	body := `{"status":"out_for_delivery","expected_status":"ready_for_delivery","reason":"picked up"}`
	rr := serveOrders(t, service, nil, http.MethodPost, "/orders/ord-1/status", body, identity)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TargetStatus != domain.OrderStatusOutForDelivery || got.ActorRole != services.RoleCourier {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.ExpectedStatus == nil || *got.ExpectedStatus != domain.OrderStatusReadyForDelivery {
		t.Fatalf("expected expected_status to be forwarded, got %+v", got.ExpectedStatus)
	}
}

func TestOrderHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	identity := &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
	rr := serveOrders(t, &stubOrderService{}, nil, http.MethodPost, "/orders/ord-1/status", `{"status":"teleported"}`, identity)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

// Test scaffolding ---------------------------------------------------------

func serveOrders(t *testing.T, orders services.OrderService, opts []OrderOption, method, target, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()

	handler := NewOrderHandlers(nil, orders, opts...)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleCustomer}}
}

func sampleOrder(userID string) services.Order {
	placedAt := time.Date(2024, 6, 2, 12, 30, 0, 0, time.UTC)
	return services.Order{
		ID:       "ord-1",
		Number:   "FB-2024-000123",
		UserID:   userID,
		CenterID: "center-1",
		Status:   domain.OrderStatusAwaitingPayment,
		Lines: []domain.OrderLine{
			{ProductID: "prod-1", Name: "Margherita", Quantity: 2, UnitPrice: 1000, LineTotal: 2000},
		},
		Charges: domain.ChargeBreakdown{
			ProductSubtotal: 2000,
			DeliveryFee:     1100,
			ServiceFee:      350,
			OriginalAmount:  3450,
			FinalAmount:     3450,
			DistanceKm:      12,
		},
		Currency:  "USD",
		PlacedAt:  placedAt,
		CreatedAt: placedAt,
		UpdatedAt: placedAt,
	}
}

type memoryListCache struct {
	entries map[string][]byte
}

func newMemoryListCache() *memoryListCache {
	return &memoryListCache{entries: make(map[string][]byte)}
}

func (c *memoryListCache) Get(userID, key string) ([]byte, bool) {
	payload, ok := c.entries[userID+"|"+key]
	return payload, ok
}

func (c *memoryListCache) Set(userID, key string, payload []byte) {
	c.entries[userID+"|"+key] = payload
}

type stubOrderService struct {
	createFunc     func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error)
	reorderFunc    func(ctx context.Context, cmd services.ReorderCommand) (services.Order, error)
	getFunc        func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error)
	listFunc       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFunc func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
	if s.createFunc == nil {
		return services.Order{}, nil
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) Reorder(ctx context.Context, cmd services.ReorderCommand) (services.Order, error) {
	if s.reorderFunc == nil {
		return services.Order{}, nil
	}
	return s.reorderFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, nil
	}
	return s.getFunc(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFunc == nil {
		return services.Order{}, nil
	}
	return s.transitionFunc(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, nil
	}
	return s.cancelFunc(ctx, cmd)
}
