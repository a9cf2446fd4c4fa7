package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test"

// signPayload reproduces the Stripe-Signature scheme: t=<unix> plus a hex
// HMAC-SHA256 of "<t>.<payload>" under the endpoint secret.
func signPayload(t *testing.T, secret string, timestamp int64, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func intentEventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_123",
		"type": %q,
		"created": 1717243200,
		"data": {
			"object": {
				"id": "pi_123",
				"object": "payment_intent",
				"amount": 2333,
				"currency": "usd",
				"status": "succeeded",
				"metadata": {"orderId": "ord_abc"}
			}
		}
	}`, eventType))
}

func newTestVerifier(t *testing.T) *WebhookVerifier {
	t.Helper()
	verifier, err := NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("NewWebhookVerifier returned error: %v", err)
	}
	return verifier
}

func TestVerifyAndParseAcceptsValidSignature(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := intentEventPayload("payment_intent.succeeded")
	header := signPayload(t, testWebhookSecret, time.Now().Unix(), payload)

	event, err := verifier.VerifyAndParse(payload, header)
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("unexpected event id %s", event.ID)
	}
	if event.IntentID != "pi_123" {
		t.Errorf("unexpected intent id %s", event.IntentID)
	}
	if event.OrderID != "ord_abc" {
		t.Errorf("unexpected order id %s", event.OrderID)
	}
	if event.Status != StatusSucceeded {
		t.Errorf("unexpected status %s", event.Status)
	}
	if event.Amount != 2333 || event.Currency != "USD" {
		t.Errorf("unexpected amount/currency %d %s", event.Amount, event.Currency)
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := intentEventPayload("payment_intent.succeeded")
	header := signPayload(t, "whsec_other", time.Now().Unix(), payload)

	if _, err := verifier.VerifyAndParse(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndParseRejectsMissingHeader(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := intentEventPayload("payment_intent.succeeded")
	if _, err := verifier.VerifyAndParse(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndParseRejectsTamperedPayload(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := intentEventPayload("payment_intent.succeeded")
	header := signPayload(t, testWebhookSecret, time.Now().Unix(), payload)
	tampered := intentEventPayload("payment_intent.payment_failed")

	if _, err := verifier.VerifyAndParse(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndParseRejectsStaleTimestamp(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := intentEventPayload("payment_intent.succeeded")
	header := signPayload(t, testWebhookSecret, time.Now().Add(-10*time.Minute).Unix(), payload)

	if _, err := verifier.VerifyAndParse(payload, header); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifyAndParseSkipsUnhandledEventTypes(t *testing.T) {
	verifier := newTestVerifier(t)

	payload := []byte(`{"id": "evt_456", "type": "charge.updated", "created": 1717243200}`)
	header := signPayload(t, testWebhookSecret, time.Now().Unix(), payload)

	event, err := verifier.VerifyAndParse(payload, header)
	if !errors.Is(err, ErrUnhandledEvent) {
		t.Fatalf("expected ErrUnhandledEvent, got %v", err)
	}
	if event.ID != "evt_456" {
		t.Errorf("expected event id to survive for logging, got %s", event.ID)
	}
}

func TestVerifyAndParseEventStatuses(t *testing.T) {
	verifier := newTestVerifier(t)

	cases := map[string]Status{
		"payment_intent.succeeded":       StatusSucceeded,
		"payment_intent.payment_failed":  StatusFailed,
		"payment_intent.requires_action": StatusRequiresAction,
		"payment_intent.canceled":        StatusCancelled,
	}

	for eventType, want := range cases {
		payload := intentEventPayload(eventType)
		header := signPayload(t, testWebhookSecret, time.Now().Unix(), payload)
		event, err := verifier.VerifyAndParse(payload, header)
		if err != nil {
			t.Fatalf("%s: VerifyAndParse returned error: %v", eventType, err)
		}
		if event.Status != want {
			t.Errorf("%s: expected status %s, got %s", eventType, want, event.Status)
		}
	}
}
