package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/services"
)

const webhookTestSecret = "whsec_handlers"

func signWebhook(t *testing.T, timestamp int64, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func webhookPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_hook",
		"type": %q,
		"created": 1717243200,
		"data": {
			"object": {
				"id": "pi_hook",
				"object": "payment_intent",
				"amount": 2400,
				"currency": "eur",
				"metadata": {"orderId": "ord_1"}
			}
		}
	}`, eventType))
}

func newWebhookHandlers(t *testing.T, reconciler *fakeReconciler) *WebhookHandlers {
	t.Helper()
	verifier, err := payments.NewWebhookVerifier(webhookTestSecret)
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}
	return NewWebhookHandlers(verifier, reconciler)
}

func TestWebhookEndpointProcessesEvent(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := newWebhookHandlers(t, reconciler)

	payload := webhookPayload("payment_intent.succeeded")
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, signWebhook(t, time.Now().Unix(), payload))

	rec := serveRoutes(t, h.Routes, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(reconciler.events) != 1 {
		t.Fatalf("processed events = %d, want 1", len(reconciler.events))
	}
	event := reconciler.events[0]
	if event.ID != "evt_hook" || event.IntentID != "pi_hook" || event.OrderID != "ord_1" {
		t.Errorf("event = %+v", event)
	}
	if event.Status != payments.StatusSucceeded {
		t.Errorf("status = %s", event.Status)
	}
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := newWebhookHandlers(t, reconciler)

	payload := webhookPayload("payment_intent.succeeded")
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, "t=123,v1=deadbeef")

	rec := serveRoutes(t, h.Routes, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(reconciler.events) != 0 {
		t.Error("unverified event must not reach the reconciler")
	}
}

func TestWebhookEndpointAcknowledgesUnhandledTypes(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := newWebhookHandlers(t, reconciler)

	payload := []byte(`{"id": "evt_other", "type": "charge.updated", "created": 1717243200}`)
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, signWebhook(t, time.Now().Unix(), payload))

	rec := serveRoutes(t, h.Routes, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"processed":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if len(reconciler.events) != 0 {
		t.Error("unhandled event must not reach the reconciler")
	}
}

func TestWebhookEndpointRetriesOnStoreFailure(t *testing.T) {
	reconciler := &fakeReconciler{
		processFn: func(context.Context, payments.WebhookEvent) error {
			return fmt.Errorf("%w: firestore down", services.ErrReconcileUnavailable)
		},
	}
	h := newWebhookHandlers(t, reconciler)

	payload := webhookPayload("payment_intent.succeeded")
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, signWebhook(t, time.Now().Unix(), payload))

	rec := serveRoutes(t, h.Routes, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 so the gateway redelivers", rec.Code)
	}
}
