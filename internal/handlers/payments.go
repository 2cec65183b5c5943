package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fleetbite/api/internal/payments"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/platform/httpx"
	"github.com/fleetbite/api/internal/services"
)

const maxPaymentBodySize = 8 * 1024

// PaymentHandlers exposes the order payment endpoints. Routes registers
// onto the /orders group, which already enforces Firebase authentication;
// IntentRoutes registers the intent-scoped endpoints under /payments.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{authn: authn, payments: payments}
}

// Routes registers the payment endpoints under /orders/{orderID}/payment.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{orderID}/payment/initiate", h.initiate)
	r.Post("/{orderID}/payment/confirm", h.confirm)
}

// IntentRoutes registers intent-addressed endpoints for clients that hold a
// provider intent ID rather than an order ID.
func (h *PaymentHandlers) IntentRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/intents/{intentID}/cancel", h.cancelIntent)
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
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

	var req initiatePaymentRequest
	if body, err := readLimitedBody(r, maxPaymentBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:  orderID,
		UserID:   identity.UID,
		Provider: req.Provider,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
		Payment: paymentIntentPayload{
			OrderID:      result.OrderID,
			IntentID:     result.IntentID,
			Provider:     result.Provider,
			ClientSecret: result.ClientSecret,
			Amount:       result.Amount,
			Currency:     result.Currency,
		},
	})
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
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

	var req confirmPaymentRequest
	if body, err := readLimitedBody(r, maxPaymentBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.Confirm(ctx, services.ConfirmPaymentCommand{
		OrderID:  orderID,
		UserID:   identity.UID,
		IntentID: req.IntentID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PaymentHandlers) cancelIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	intentID := strings.TrimSpace(chi.URLParam(r, "intentID"))
	if intentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "intent id is required", http.StatusBadRequest))
		return
	}

	var req cancelIntentRequest
	if body, err := readLimitedBody(r, maxPaymentBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	err := h.payments.CancelByIntent(ctx, services.CancelByIntentCommand{
		IntentID:    intentID,
		RequesterID: identity.UID,
		Reason:      req.Reason,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput), errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("already_paid", "order is already paid", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentNotSuccessful):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_settled", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		// Anything else came back from the PSP or the order store.
		httpx.WriteError(ctx, w, httpx.NewError("payment_dependency_failed", "payment provider request failed", http.StatusBadGateway))
	}
}

type initiatePaymentRequest struct {
	Provider string `json:"provider"`
}

type confirmPaymentRequest struct {
	IntentID string `json:"intent_id"`
}

type cancelIntentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type paymentIntentResponse struct {
	Payment paymentIntentPayload `json:"payment"`
}

type paymentIntentPayload struct {
	OrderID      string `json:"order_id"`
	IntentID     string `json:"intent_id"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"client_secret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}
