package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives asynchronous payment gateway notifications.
type WebhookHandlers struct {
	verifier   *payments.WebhookVerifier
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(verifier *payments.WebhookVerifier, reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{verifier: verifier, reconciler: reconciler}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePaymentEvent)
}

func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, r.Header.Get(payments.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrUnhandledEvent):
		// Acknowledged but not processed; the gateway must not redeliver.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "processed": false})
		return
	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrStaleTimestamp):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook payload", http.StatusBadRequest))
		return
	}

	if err := h.reconciler.ProcessEvent(ctx, event); err != nil {
		if errors.Is(err, services.ErrReconcileInvalidEvent) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		// A 5xx asks the gateway to redeliver once the store recovers.
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_unavailable", "event processing failed, retry later", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "processed": true})
}
