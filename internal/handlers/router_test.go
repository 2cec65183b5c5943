package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/services"
)

func TestNewRouterHealthEndpointsAtRoot(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz payload %v", body)
	}
}

func TestNewRouterReadyzWithoutSystemService(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestNewRouterUnknownRouteEnvelope(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var envelope struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	if envelope.Error != "route_not_found" || envelope.Status != http.StatusNotFound {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestNewRouterGroupsDefaultToNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, target := range []string{"/v1/me", "/v1/cart", "/v1/orders", "/v1/admin/promotions", "/webhooks/payments"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected status 501, got %d", target, rr.Code)
		}
	}
}

func TestNewRouterMountsOrderAndPaymentRoutes(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			return sampleOrder(cmd.ActorID), nil
		},
	}
	payments := &stubPaymentService{
		initiateFunc: func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{OrderID: cmd.OrderID, IntentID: "pi_9", Provider: "stripe"}, nil
		},
	}

	orderHandlers := NewOrderHandlers(nil, orders)
	paymentHandlers := NewPaymentHandlers(nil, payments)

	router := NewRouter(
		WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			paymentHandlers.Routes(r)
		}),
		WithPaymentRoutes(paymentHandlers.IntentRoutes),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/ord-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), customerIdentity("user-7")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get order: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/orders/ord-1/payment/initiate", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), customerIdentity("user-7")))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("initiate payment: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/payments/intents/pi_9/cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), customerIdentity("user-7")))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("cancel intent: expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNewRouterMountsWebhooksOutsideVersionPrefix(t *testing.T) {
	received := false
	payments := &stubPaymentService{
		eventFunc: func(ctx context.Context, cmd services.ProviderEventCommand) error {
			received = true
			return nil
		},
	}
	webhookHandlers := NewWebhookHandlers(payments)

	router := NewRouter(WithWebhookRoutes(webhookHandlers.Routes))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !received {
		t.Fatalf("expected webhook to reach the payment service")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected webhooks to be absent under /v1, got %d", rr.Code)
	}
}
