package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusRequiresAction indicates the customer must complete an extra step (3DS and similar).
	StatusRequiresAction Status = "requires_action"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the intent was cancelled before capture.
	StatusCancelled Status = "cancelled"
	// StatusRefunded indicates the payment has been fully refunded.
	StatusRefunded Status = "refunded"
)

// ErrIntentNotFound is returned when the gateway has no record of the intent.
var ErrIntentNotFound = errors.New("payments: intent not found")

// IntentRequest captures the payload required to open a payment intent
// for an order total.
type IntentRequest struct {
	Amount         int64
	Currency       string
	OrderID        string
	OrderNumber    string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundRequest defines a gateway refund attempt. A nil Amount refunds
// the full captured amount.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// Intent normalises gateway specific payment intent fields for storage.
type Intent struct {
	ID           string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	CapturedAt   *time.Time
	RefundedAt   *time.Time
}

// Gateway defines the contract payment providers implement.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID, idempotencyKey string) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (Intent, error)
	LookupIntent(ctx context.Context, intentID string) (Intent, error)
}
