package domain

import "time"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusDraft indicates checkout has persisted the order but no payment intent exists yet.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaymentFailed indicates the gateway reported a failed payment attempt.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusProcessing indicates payment succeeded and fulfillment can begin.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPartiallyFulfilled indicates some but not all units have shipped.
	OrderStatusPartiallyFulfilled OrderStatus = "partially_fulfilled"
	// OrderStatusFulfilled indicates every unit has shipped.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the order is closed out after fulfillment or delivery.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal; the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal; a completed order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:              {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusPendingPayment:     {OrderStatusPaymentFailed, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusPaymentFailed:      {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusProcessing:         {OrderStatusPartiallyFulfilled, OrderStatusFulfilled, OrderStatusCancelled},
	OrderStatusPartiallyFulfilled: {OrderStatusFulfilled, OrderStatusCancelled},
	OrderStatusFulfilled:          {OrderStatusCompleted, OrderStatusDelivered},
	OrderStatusDelivered:          {OrderStatusCompleted},
	OrderStatusCompleted:          {OrderStatusRefunded},
}

// ValidOrderStatus reports whether s is a known status value.
func ValidOrderStatus(s OrderStatus) bool {
	if _, ok := orderStateTransitions[s]; ok {
		return true
	}
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// TerminalStatus reports whether no further transitions are allowed from s.
func TerminalStatus(s OrderStatus) bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransition reports whether the status graph allows moving from current to target.
func CanTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}

// ApplyStatusTimestamp assigns the status-specific lifecycle timestamp for the
// status the order just entered.
func ApplyStatusTimestamp(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case OrderStatusPendingPayment:
		if order.PlacedAt == nil {
			order.PlacedAt = &now
		}
		// A retry after payment_failed re-enters the pending state.
		order.CancelledAt = nil
	case OrderStatusFulfilled:
		order.ShippedAt = &now
	case OrderStatusDelivered:
		order.DeliveredAt = &now
	case OrderStatusCompleted:
		order.CompletedAt = &now
	case OrderStatusCancelled, OrderStatusPaymentFailed:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}
