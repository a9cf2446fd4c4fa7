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
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderInvalidTransition indicates the status graph forbids the requested move.
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	// ErrOrderConflict indicates the order changed concurrently with the command.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidToken indicates the guest token failed verification.
	ErrOrderInvalidToken = errors.New("order: invalid guest token")
	// ErrOrderRefundFailed indicates the order was cancelled locally but the gateway refund failed.
	ErrOrderRefundFailed = errors.New("order: refund failed")
	// ErrOrderUnavailable indicates the order store is currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// transitionOrder applies one state-machine move in memory: status, the
// status-specific timestamp, and the history row returned for appending.
// Fails without side effects when the move is not in the transition table.
func transitionOrder(order *domain.Order, target domain.OrderStatus, actor, notes string, now time.Time, newID IDGenerator) (domain.OrderStatusHistory, error) {
	if !domain.ValidOrderStatus(target) {
		return domain.OrderStatusHistory{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	if !domain.CanTransition(order.Status, target) {
		return domain.OrderStatusHistory{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}
	from := order.Status
	order.Status = target
	domain.ApplyStatusTimestamp(order, target, now)
	return domain.OrderStatusHistory{
		ID:         newID(historyIDPrefix),
		OrderID:    order.ID,
		FromStatus: &from,
		ToStatus:   target,
		Actor:      actor,
		Notes:      notes,
		OccurredAt: now,
	}, nil
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Orders      repositories.OrderRepository
	Ledger      InventoryLedger
	Gateway     payments.Gateway
	GuestTokens GuestTokens
	Notifier    Notifier
	IDs         IDGenerator
	Clock       func() time.Time
	Logger      Logger
}

type orderService struct {
	uow         repositories.UnitOfWork
	orders      repositories.OrderRepository
	ledger      InventoryLedger
	gateway     payments.Gateway
	guestTokens GuestTokens
	notifier    Notifier
	newID       IDGenerator
	now         func() time.Time
	logger      Logger
}

// NewOrderService constructs the OrderService, validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: inventory ledger is required")
	case deps.Gateway == nil:
		return nil, errors.New("order service: payment gateway is required")
	case deps.GuestTokens == nil:
		return nil, errors.New("order service: guest token verifier is required")
	}
	newID := deps.IDs
	if newID == nil {
		newID = NewIDGenerator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		uow:         deps.UnitOfWork,
		orders:      deps.Orders,
		ledger:      deps.Ledger,
		gateway:     deps.Gateway,
		guestTokens: deps.GuestTokens,
		notifier:    deps.Notifier,
		newID:       newID,
		now:         normaliseClock(deps.Clock),
		logger:      logger,
	}, nil
}

// GetOrder loads one order aggregate.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	return order, nil
}

// GetByGuestToken resolves an order through its tokenized access credential.
func (s *orderService) GetByGuestToken(ctx context.Context, token string) (domain.Order, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Order{}, fmt.Errorf("%w: token is required", ErrOrderInvalidToken)
	}
	orderID, err := s.guestTokens.Verify(token)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidToken, err)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	// The stored token must match; a re-minted token for the same order id
	// does not grant access to a superseded credential.
	if order.GuestToken == "" || order.GuestToken != token {
		return domain.Order{}, fmt.Errorf("%w: token mismatch", ErrOrderInvalidToken)
	}
	return order, nil
}

// ListOrders pages through orders matching the filter.
func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	for _, status := range filter.Status {
		if !domain.ValidOrderStatus(status) {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.translateStoreError(ctx, err)
	}
	return page, nil
}

// ListHistory returns the order's audit trail in chronological order.
func (s *orderService) ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	rows, err := s.orders.ListHistory(ctx, orderID)
	if err != nil {
		return nil, s.translateStoreError(ctx, err)
	}
	return rows, nil
}

// TransitionStatus applies one guarded status move with its history row in a
// single transaction.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error) {
	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	if cmd.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated domain.Order
	var from domain.OrderStatus
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return err
		}
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected %s, found %s", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}
		from = order.Status
		now := s.now()
		history, err := transitionOrder(&order, cmd.ToStatus, cmd.Actor, cmd.Notes, now, s.newID)
		if err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.orders.AppendHistory(txCtx, history); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	s.publishEvent(ctx, updated, "order.status.changed", from, updated.Status, cmd.Actor)
	return updated, nil
}

// FulfillItems records shipped units. Requested quantities are clamped to each
// item's pending units; a reservation already held for the units is released
// as the matching sale is recorded, keeping the ledger's running sum exact.
func (s *orderService) FulfillItems(ctx context.Context, cmd FulfillItemsCommand) (domain.Order, error) {
	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	if cmd.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Quantities) == 0 {
		return domain.Order{}, fmt.Errorf("%w: no quantities given", ErrOrderInvalidInput)
	}
	for itemID, qty := range cmd.Quantities {
		if qty <= 0 {
			return domain.Order{}, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, itemID)
		}
	}

	var updated domain.Order
	var from domain.OrderStatus
	transitioned := false
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusProcessing && order.Status != domain.OrderStatusPartiallyFulfilled {
			return fmt.Errorf("%w: cannot fulfill from %s", ErrOrderInvalidTransition, order.Status)
		}
		from = order.Status
		now := s.now()

		var entries []LedgerTransactionCommand
		progressed := false
		for i := range order.Items {
			item := &order.Items[i]
			requested, ok := cmd.Quantities[item.ID]
			if !ok {
				continue
			}
			qty := requested
			if pending := item.QuantityPending(); qty > pending {
				qty = pending
			}
			if qty <= 0 {
				continue
			}

			tracked, err := s.itemTracked(txCtx, item.Item)
			if err != nil {
				return err
			}
			if tracked {
				if order.ReservationHeld {
					// Convert the reserved units: one release offsetting
					// the reservation, one sale for the shipped stock.
					entries = append(entries, LedgerTransactionCommand{
						Item:           item.Item,
						Type:           domain.LedgerEntryRelease,
						QuantityChange: qty,
						OrderRef:       order.ID,
						Reference:      order.OrderNumber,
						Notes:          cmd.Notes,
					})
					entries = append(entries, LedgerTransactionCommand{
						Item:           item.Item,
						Type:           domain.LedgerEntrySale,
						QuantityChange: -qty,
						OrderRef:       order.ID,
						Reference:      order.OrderNumber,
						Notes:          cmd.Notes,
						AllowNegative:  true,
					})
				} else {
					entries = append(entries, LedgerTransactionCommand{
						Item:           item.Item,
						Type:           domain.LedgerEntrySale,
						QuantityChange: -qty,
						OrderRef:       order.ID,
						Reference:      order.OrderNumber,
						Notes:          cmd.Notes,
					})
				}
			}

			item.QuantityFulfilled += qty
			if item.FullyFulfilled() && item.FulfilledAt == nil {
				item.FulfilledAt = &now
			}
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("%w: nothing to fulfill", ErrOrderInvalidInput)
		}

		if len(entries) > 0 {
			if _, err := s.ledger.RecordEntries(txCtx, entries); err != nil {
				return err
			}
		}

		allFulfilled := true
		anyPending := false
		for _, item := range order.Items {
			if !item.FullyFulfilled() {
				allFulfilled = false
			}
			if item.QuantityPending() > 0 {
				anyPending = true
			}
		}
		if !anyPending {
			order.ReservationHeld = false
		}

		target := domain.OrderStatusPartiallyFulfilled
		if allFulfilled {
			target = domain.OrderStatusFulfilled
		}
		if target != order.Status {
			history, err := transitionOrder(&order, target, cmd.Actor, cmd.Notes, now, s.newID)
			if err != nil {
				return err
			}
			if err := s.orders.AppendHistory(txCtx, history); err != nil {
				return err
			}
			transitioned = true
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	if transitioned {
		s.publishEvent(ctx, updated, "order.status.changed", from, updated.Status, cmd.Actor)
	}
	return updated, nil
}

// itemTracked reports whether ledger entries apply to the item. Items without
// a stock record are treated as untracked.
func (s *orderService) itemTracked(ctx context.Context, item domain.ItemKey) (bool, error) {
	level, err := s.ledger.EffectiveStock(ctx, item)
	if err != nil {
		if errors.Is(err, ErrLedgerStockNotFound) || errors.Is(err, ErrLedgerUntracked) {
			return false, nil
		}
		return false, err
	}
	return level.Tracked, nil
}

// CancelOrder transitions the order to cancelled, releasing any reservation
// still held. When payment was captured, the refund runs after the local
// commit so no lock is held across the gateway call; a refund failure leaves
// the order cancelled and is surfaced as ErrOrderRefundFailed for retry.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	if cmd.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated domain.Order
	var from domain.OrderStatus
	refundNeeded := false
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		now := s.now()

		var releases []LedgerTransactionCommand
		if order.ReservationHeld {
			for i := range order.Items {
				item := &order.Items[i]
				pending := item.QuantityPending()
				if pending <= 0 {
					continue
				}
				tracked, err := s.itemTracked(txCtx, item.Item)
				if err != nil {
					return err
				}
				if tracked {
					releases = append(releases, LedgerTransactionCommand{
						Item:           item.Item,
						Type:           domain.LedgerEntryRelease,
						QuantityChange: pending,
						OrderRef:       order.ID,
						Reference:      order.OrderNumber,
						Notes:          cmd.Reason,
					})
				}
				item.QuantityCancelled += pending
			}
		} else {
			for i := range order.Items {
				item := &order.Items[i]
				if pending := item.QuantityPending(); pending > 0 {
					item.QuantityCancelled += pending
				}
			}
		}

		// A second cancellation fails here on the transition guard, so the
		// release entries can never be emitted twice.
		history, err := transitionOrder(&order, domain.OrderStatusCancelled, cmd.Actor, cmd.Reason, now, s.newID)
		if err != nil {
			return err
		}
		if len(releases) > 0 {
			if _, err := s.ledger.RecordEntries(txCtx, releases); err != nil {
				return err
			}
		}
		order.ReservationHeld = false
		order.CancelReason = strings.TrimSpace(cmd.Reason)
		order.UpdatedAt = now
		refundNeeded = order.PaymentStatus == domain.PaymentStatusSucceeded && order.GatewayPaymentIntentID != ""
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.orders.AppendHistory(txCtx, history); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	s.publishEvent(ctx, updated, "order.status.changed", from, updated.Status, cmd.Actor)

	if refundNeeded {
		if err := s.refundAfterCancel(ctx, &updated, cmd); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func (s *orderService) refundAfterCancel(ctx context.Context, order *domain.Order, cmd CancelOrderCommand) error {
	_, err := s.gateway.Refund(ctx, payments.RefundRequest{
		IntentID:       order.GatewayPaymentIntentID,
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "order.refund_failed", map[string]any{
			"orderId":  order.ID,
			"intentId": order.GatewayPaymentIntentID,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w: order %s: %v", ErrOrderRefundFailed, order.ID, err)
	}
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, *order); err != nil {
		return s.translateStoreError(ctx, err)
	}
	return nil
}

// CompleteOrder closes out an order whose items are all fulfilled.
func (s *orderService) CompleteOrder(ctx context.Context, orderID, actor string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated domain.Order
	var from domain.OrderStatus
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			if !item.FullyFulfilled() {
				return fmt.Errorf("%w: item %s not fully fulfilled", ErrOrderInvalidTransition, item.ID)
			}
		}
		from = order.Status
		now := s.now()
		history, err := transitionOrder(&order, domain.OrderStatusCompleted, actor, "", now, s.newID)
		if err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.orders.AppendHistory(txCtx, history); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(ctx, err)
	}
	s.publishEvent(ctx, updated, "order.status.changed", from, updated.Status, actor)
	return updated, nil
}

func (s *orderService) publishEvent(ctx context.Context, order domain.Order, eventType string, from, to domain.OrderStatus, actor string) {
	if s.notifier == nil {
		return
	}
	event := notify.OrderEvent{
		EventID:     s.newID(eventIDPrefix),
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  string(from),
		ToStatus:    string(to),
		Actor:       actor,
		OccurredAt:  s.now(),
	}
	if _, err := s.notifier.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.notify_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateStoreError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrOrderInvalidInput),
		errors.Is(err, ErrOrderInvalidTransition),
		errors.Is(err, ErrOrderConflict),
		errors.Is(err, ErrLedgerInsufficientStock),
		errors.Is(err, ErrLedgerStockNotFound),
		errors.Is(err, ErrLedgerUntracked),
		errors.Is(err, ErrLedgerUnavailable):
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	s.logger(ctx, "order.store_error", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
