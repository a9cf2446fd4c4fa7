package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/notify"
	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrReconcileInvalidEvent indicates the event is missing required fields.
	ErrReconcileInvalidEvent = errors.New("reconcile: invalid event")
	// ErrReconcileUnavailable indicates the store is currently unavailable; the gateway should redeliver.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")

	// errEventDuplicate aborts the transaction for an already-processed
	// event; translated to a silent no-op.
	errEventDuplicate = errors.New("reconcile: duplicate event")
)

// ReconcileServiceDeps wires the dependencies required by the payment reconciler.
type ReconcileServiceDeps struct {
	UnitOfWork      repositories.UnitOfWork
	Orders          repositories.OrderRepository
	ProcessedEvents repositories.ProcessedEventRepository
	Ledger          InventoryLedger
	Carts           Carts
	Notifier        Notifier
	IDs             IDGenerator
	Clock           func() time.Time
	Logger          Logger
}

type reconcileService struct {
	uow       repositories.UnitOfWork
	orders    repositories.OrderRepository
	processed repositories.ProcessedEventRepository
	ledger    InventoryLedger
	carts     Carts
	notifier  Notifier
	newID     IDGenerator
	now       func() time.Time
	logger    Logger
}

// NewReconcileService constructs the PaymentReconciler, validating required dependencies.
func NewReconcileService(deps ReconcileServiceDeps) (PaymentReconciler, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("reconcile service: unit of work is required")
	case deps.Orders == nil:
		return nil, errors.New("reconcile service: order repository is required")
	case deps.ProcessedEvents == nil:
		return nil, errors.New("reconcile service: processed event repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("reconcile service: inventory ledger is required")
	}
	newID := deps.IDs
	if newID == nil {
		newID = NewIDGenerator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &reconcileService{
		uow:       deps.UnitOfWork,
		orders:    deps.Orders,
		processed: deps.ProcessedEvents,
		ledger:    deps.Ledger,
		carts:     deps.Carts,
		notifier:  deps.Notifier,
		newID:     newID,
		now:       normaliseClock(deps.Clock),
		logger:    logger,
	}, nil
}

// ProcessEvent applies one signature-verified gateway event. Processing is
// idempotent: the event id is recorded in the same transaction as the order
// change, so a redelivery observes the record and becomes a no-op. Stale
// events whose transition is no longer valid are also recorded and dropped,
// never surfaced as errors back to the gateway.
func (s *reconcileService) ProcessEvent(ctx context.Context, event payments.WebhookEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("%w: event id is required", ErrReconcileInvalidEvent)
	}
	if strings.TrimSpace(event.IntentID) == "" && strings.TrimSpace(event.OrderID) == "" {
		return fmt.Errorf("%w: event carries no intent or order reference", ErrReconcileInvalidEvent)
	}

	var (
		updated      domain.Order
		from         domain.OrderStatus
		transitioned bool
		clearCart    string
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.locateOrder(txCtx, event)
		if err != nil {
			return err
		}
		duplicate, err := s.processed.Exists(txCtx, event.ID)
		if err != nil {
			return err
		}
		if duplicate {
			return errEventDuplicate
		}

		from = order.Status
		now := s.now()
		transitioned, clearCart, err = s.applyEvent(txCtx, &order, event, now)
		if err != nil {
			return err
		}

		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		// Recording the event id commits atomically with the transition;
		// a concurrent delivery of the same id fails the create and retries
		// into the duplicate path.
		if err := s.processed.Create(txCtx, repositories.ProcessedEventRecord{
			EventID:     event.ID,
			Kind:        event.Type,
			OrderID:     order.ID,
			ProcessedAt: now,
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errEventDuplicate):
		s.logger(ctx, "reconcile.duplicate_event", map[string]any{"eventId": event.ID})
		return nil
	case errors.Is(err, ErrReconcileInvalidEvent):
		return err
	default:
		return s.translateStoreError(ctx, event, err)
	}

	if transitioned {
		s.publishEvent(ctx, updated, from)
	}
	if clearCart != "" && s.carts != nil {
		if err := s.carts.Clear(ctx, clearCart); err != nil {
			s.logger(ctx, "reconcile.cart_clear_failed", map[string]any{
				"orderId": updated.ID,
				"cartRef": clearCart,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (s *reconcileService) locateOrder(ctx context.Context, event payments.WebhookEvent) (domain.Order, error) {
	var miss error
	if intentID := strings.TrimSpace(event.IntentID); intentID != "" {
		order, err := s.orders.FindByPaymentIntent(ctx, intentID)
		if err == nil {
			return order, nil
		}
		if !isStoreNotFound(err) {
			return domain.Order{}, err
		}
		miss = err
	}
	if orderID := strings.TrimSpace(event.OrderID); orderID != "" {
		return s.orders.FindByID(ctx, orderID)
	}
	// An intent this system never issued stays a repository not-found so
	// the caller logs and drops the event instead of failing the delivery.
	return domain.Order{}, miss
}

// applyEvent mutates the order per the event kind and reports whether a status
// transition happened and which cart to clear after commit.
func (s *reconcileService) applyEvent(ctx context.Context, order *domain.Order, event payments.WebhookEvent, now time.Time) (transitioned bool, clearCart string, err error) {
	switch event.Status {
	case payments.StatusSucceeded:
		order.PaymentStatus = domain.PaymentStatusSucceeded
		if order.PaymentConfirmedAt == nil {
			order.PaymentConfirmedAt = &now
		}
		transitioned, err = s.tryTransition(ctx, order, domain.OrderStatusProcessing, now)
		if err != nil {
			return false, "", err
		}
		return transitioned, order.CartRef, nil

	case payments.StatusFailed:
		order.PaymentStatus = domain.PaymentStatusFailed
		transitioned, err = s.tryTransition(ctx, order, domain.OrderStatusPaymentFailed, now)
		return transitioned, "", err

	case payments.StatusRequiresAction:
		order.PaymentStatus = domain.PaymentStatusRequiresAction
		return false, "", nil

	case payments.StatusCancelled:
		order.PaymentStatus = domain.PaymentStatusCancelled
		return s.cancelFromGateway(ctx, order, now)

	default:
		return false, "", fmt.Errorf("%w: unhandled status %q", ErrReconcileInvalidEvent, event.Status)
	}
}

// tryTransition applies the move when the table allows it; a stale event whose
// transition is no longer valid is a no-op, not an error.
func (s *reconcileService) tryTransition(ctx context.Context, order *domain.Order, target domain.OrderStatus, now time.Time) (bool, error) {
	if !domain.CanTransition(order.Status, target) {
		s.logger(ctx, "reconcile.stale_transition", map[string]any{
			"orderId": order.ID,
			"from":    string(order.Status),
			"to":      string(target),
		})
		return false, nil
	}
	history, err := transitionOrder(order, target, "", "", now, s.newID)
	if err != nil {
		return false, err
	}
	if err := s.orders.AppendHistory(ctx, history); err != nil {
		return false, err
	}
	return true, nil
}

// cancelFromGateway runs the full cancellation for an intent the gateway
// reported as canceled: release any held reservation, then transition. The
// intent was never captured, so there is no refund step.
func (s *reconcileService) cancelFromGateway(ctx context.Context, order *domain.Order, now time.Time) (bool, string, error) {
	if !domain.CanTransition(order.Status, domain.OrderStatusCancelled) {
		s.logger(ctx, "reconcile.stale_transition", map[string]any{
			"orderId": order.ID,
			"from":    string(order.Status),
			"to":      string(domain.OrderStatusCancelled),
		})
		return false, "", nil
	}

	var releases []LedgerTransactionCommand
	for i := range order.Items {
		item := &order.Items[i]
		pending := item.QuantityPending()
		if pending <= 0 {
			continue
		}
		if order.ReservationHeld {
			releases = append(releases, LedgerTransactionCommand{
				Item:           item.Item,
				Type:           domain.LedgerEntryRelease,
				QuantityChange: pending,
				OrderRef:       order.ID,
				Reference:      order.OrderNumber,
				Notes:          "payment cancelled",
			})
		}
		item.QuantityCancelled += pending
	}
	if len(releases) > 0 {
		if _, err := s.ledger.RecordEntries(ctx, releases); err != nil {
			return false, "", err
		}
	}
	order.ReservationHeld = false
	order.CancelReason = "payment cancelled"

	history, err := transitionOrder(order, domain.OrderStatusCancelled, "", "payment cancelled", now, s.newID)
	if err != nil {
		return false, "", err
	}
	if err := s.orders.AppendHistory(ctx, history); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (s *reconcileService) publishEvent(ctx context.Context, order domain.Order, from domain.OrderStatus) {
	if s.notifier == nil {
		return
	}
	event := notify.OrderEvent{
		EventID:     s.newID(eventIDPrefix),
		Type:        "order.status.changed",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  string(from),
		ToStatus:    string(order.Status),
		OccurredAt:  s.now(),
	}
	if _, err := s.notifier.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "reconcile.notify_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *reconcileService) translateStoreError(ctx context.Context, event payments.WebhookEvent, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			// Lost the create race on the event id; the other delivery applied it.
			s.logger(ctx, "reconcile.duplicate_event", map[string]any{"eventId": event.ID})
			return nil
		case repoErr.IsNotFound():
			// An event for an order this system never created. Dropping it
			// avoids the gateway's retry storm.
			s.logger(ctx, "reconcile.unknown_order", map[string]any{
				"eventId":  event.ID,
				"intentId": event.IntentID,
			})
			return nil
		}
	}
	s.logger(ctx, "reconcile.store_error", map[string]any{
		"eventId": event.ID,
		"error":   err.Error(),
	})
	return fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
}
