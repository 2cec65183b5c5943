package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fleetbite/api/internal/platform/httpx"
	"github.com/fleetbite/api/internal/services"
)

// maxWebhookBodySize caps provider payloads; Stripe events stay well under this.
const maxWebhookBodySize = 256 * 1024

const defaultWebhookProvider = "stripe"

// signatureHeaders maps a provider key to the header carrying its payload signature.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// WebhookHandlers receives payment provider callbacks. Verification happens
// in the payment service against the raw payload and signature.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentEvent)
	r.Post("/payments/{provider}", h.paymentEvent)
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		provider = defaultWebhookProvider
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	signature := ""
	if header, ok := signatureHeaders[provider]; ok {
		signature = r.Header.Get(header)
	}

	err = h.payments.OnProviderEvent(ctx, services.ProviderEventCommand{
		Provider:  provider,
		Payload:   payload,
		Signature: signature,
	})
	if err != nil {
		if errors.Is(err, services.ErrPaymentEventRejected) {
			httpx.WriteError(ctx, w, httpx.NewError("event_rejected", "event signature or payload rejected", http.StatusBadRequest))
			return
		}
		// Return 500 so the provider retries delivery.
		httpx.WriteError(ctx, w, httpx.NewError("event_processing_failed", "failed to process provider event", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
