package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const processedEventsCollection = "processedEvents"

// ProcessedEventRepository records applied webhook events keyed by the
// gateway's event id. Create joins the surrounding transaction, so marking an
// event processed commits atomically with the state it caused.
type ProcessedEventRepository struct {
	provider *pfirestore.Provider
}

// NewProcessedEventRepository constructs a Firestore-backed processed-event repository.
func NewProcessedEventRepository(provider *pfirestore.Provider) (*ProcessedEventRepository, error) {
	if provider == nil {
		return nil, errors.New("processed event repository requires firestore provider")
	}
	return &ProcessedEventRepository{provider: provider}, nil
}

type processedEventDocument struct {
	Kind        string    `firestore:"kind"`
	OrderID     string    `firestore:"orderId,omitempty"`
	ProcessedAt time.Time `firestore:"processedAt"`
}

// Create records the event, failing with a conflict when the id already exists.
func (r *ProcessedEventRepository) Create(ctx context.Context, record repositories.ProcessedEventRecord) error {
	if r == nil || r.provider == nil {
		return errors.New("processed event repository not initialised")
	}
	eventID := strings.TrimSpace(record.EventID)
	if eventID == "" {
		return errors.New("processed event create: event id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("processedEvent.create", err)
	}
	ref := client.Collection(processedEventsCollection).Doc(eventID)
	doc := processedEventDocument{
		Kind:        record.Kind,
		OrderID:     record.OrderID,
		ProcessedAt: record.ProcessedAt.UTC(),
	}
	return pfirestore.CreateDoc(ctx, ref, doc)
}

// Exists reports whether the event id was already recorded.
func (r *ProcessedEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("processed event repository not initialised")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errors.New("processed event exists: event id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, pfirestore.WrapError("processedEvent.exists", err)
	}
	_, err = pfirestore.GetDoc(ctx, client.Collection(processedEventsCollection).Doc(eventID))
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return false, nil
		}
		return false, pfirestore.WrapError("processedEvent.exists", err)
	}
	return true, nil
}
