package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// SignatureHeader is the HTTP header carrying the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrInvalidSignature is returned when the webhook signature does not match the payload.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrStaleTimestamp is returned when the signed timestamp falls outside the tolerance window.
	ErrStaleTimestamp = errors.New("payments: webhook timestamp outside tolerance")
	// ErrUnhandledEvent is returned for event types the reconciler does not process.
	ErrUnhandledEvent = errors.New("payments: unhandled event type")
)

// WebhookEvent is the normalised view of a gateway webhook notification.
type WebhookEvent struct {
	ID         string
	Type       string
	IntentID   string
	OrderID    string
	Status     Status
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

// WebhookVerifier authenticates and decodes incoming Stripe webhook payloads.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier validates the endpoint secret and returns a verifier.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// VerifyAndParse checks the Stripe-Signature header against the raw payload
// and returns the normalised event. Signature and timestamp validation are
// delegated to the stripe-go webhook package with its default five minute
// tolerance; the API version pin is ignored since only the payment_intent
// envelope fields are read.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, header string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrTooOld):
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrInvalidHeader):
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return WebhookEvent{}, fmt.Errorf("payments: verify webhook: %w", err)
		}
	}
	return normaliseEvent(event)
}

// normaliseEvent maps a Stripe event envelope onto the reconciler's view.
// Event types outside the payment_intent family return ErrUnhandledEvent so
// the caller can acknowledge and skip them.
func normaliseEvent(event stripe.Event) (WebhookEvent, error) {
	status, ok := eventStatus(string(event.Type))
	if !ok {
		return WebhookEvent{ID: event.ID, Type: string(event.Type)}, ErrUnhandledEvent
	}

	if event.Data == nil {
		return WebhookEvent{}, errors.New("payments: webhook event missing data")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode payment intent: %w", err)
	}

	return WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		IntentID:   intent.ID,
		OrderID:    intent.Metadata["orderId"],
		Status:     status,
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(string(intent.Currency)),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}, nil
}

func eventStatus(eventType string) (Status, bool) {
	switch eventType {
	case "payment_intent.succeeded":
		return StatusSucceeded, true
	case "payment_intent.payment_failed":
		return StatusFailed, true
	case "payment_intent.requires_action":
		return StatusRequiresAction, true
	case "payment_intent.canceled":
		return StatusCancelled, true
	default:
		return "", false
	}
}
