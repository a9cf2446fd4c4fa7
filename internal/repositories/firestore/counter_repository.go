package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const countersCollection = "counters"

// CounterRepository allocates monotonically increasing sequence values, one
// document per counter. Used for human-readable order numbers.
type CounterRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, now: time.Now}, nil
}

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// Next increments the named counter by step and returns the new value. The
// counter document is created on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, wrapCounterError("counter.next", err)
	}

	ref := client.Collection(countersCollection).Doc(counterID)
	var value int64
	err = pfirestore.RunTransaction(ctx, client, func(txCtx context.Context) error {
		doc := counterDocument{}
		snap, err := pfirestore.GetDoc(txCtx, ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", counterID, err)
			}
		case pfirestore.IsNotFound(err):
			// First allocation creates the document.
		default:
			return err
		}

		doc.CurrentValue += step
		doc.UpdatedAt = r.now().UTC()
		if err := pfirestore.SetDoc(txCtx, ref, doc); err != nil {
			return err
		}
		value = doc.CurrentValue
		return nil
	})
	if err != nil {
		return 0, wrapCounterError("counter.next", err)
	}
	return value, nil
}

func wrapCounterError(op string, err error) error {
	if err == nil {
		return nil
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		if counterErr.Op == "" {
			counterErr.Op = op
		}
		return counterErr
	}
	return pfirestore.WrapError(op, err)
}
