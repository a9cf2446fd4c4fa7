package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/notify"
	"github.com/hanko-field/orders/internal/repositories"
)

// Logger is the structured logging callback services emit events through.
// The zero value (nil) is replaced with a no-op by every constructor.
type Logger func(ctx context.Context, event string, fields map[string]any)

// IDGenerator mints prefixed entity ids (ord_, itx_, evt_, addr_, ...).
type IDGenerator func(prefix string) string

// Catalog resolves live product and variant data at checkout time. Read only;
// the resolved snapshot is copied onto the order and never re-derived.
type Catalog interface {
	ResolveItem(ctx context.Context, item domain.ItemKey) (domain.CatalogItem, error)
}

// Carts is the session-cart collaborator. The core consumes a validated
// snapshot at checkout start and clears the cart once payment succeeds.
type Carts interface {
	Clear(ctx context.Context, cartRef string) error
}

// Notifier publishes fire-and-forget order lifecycle events. Publish failures
// are logged and never roll back the order transaction.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, event notify.OrderEvent) (string, error)
}

// GuestTokens mints and verifies tokenized order access credentials for
// customers without an account.
type GuestTokens interface {
	Mint(orderID string) (string, error)
	Verify(raw string) (string, error)
}

// StockLevel is the ledger's answer for an item's effective stock. Tracked is
// false for items whose inventory is not managed; OnHand is meaningless then.
type StockLevel struct {
	Item    domain.ItemKey
	Tracked bool
	OnHand  int64
}

// LedgerTransactionCommand describes one stock movement to record.
type LedgerTransactionCommand struct {
	Item           domain.ItemKey
	Type           domain.LedgerEntryType
	QuantityChange int64
	OrderRef       string
	Reference      string
	Notes          string
	// AllowNegative lets corrections drive on-hand below zero. Sales and
	// reservations leave it false so oversell is rejected atomically.
	AllowNegative bool
}

// InventoryLedger owns all stock history writes and is the sole source of
// truth for on-hand quantities.
type InventoryLedger interface {
	RecordTransaction(ctx context.Context, cmd LedgerTransactionCommand) (domain.InventoryTransaction, error)
	RecordEntries(ctx context.Context, cmds []LedgerTransactionCommand) ([]domain.InventoryTransaction, error)
	EffectiveStock(ctx context.Context, item domain.ItemKey) (StockLevel, error)
	CheckAvailability(ctx context.Context, item domain.ItemKey, requestedQty int64) (bool, error)
	ConfigureStock(ctx context.Context, cmd ConfigureStockCommand) error
	ListTransactions(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error)
	ListLowStock(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error)
}

// ConfigureStockCommand seeds or replaces an item's stock configuration.
type ConfigureStockCommand struct {
	Item           domain.ItemKey
	TrackInventory bool
	OnHand         int64
}

// CustomerInput carries the raw contact fields supplied at checkout.
type CustomerInput struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// AddressInput carries the raw postal fields supplied at checkout.
type AddressInput struct {
	FirstName  string
	LastName   string
	Company    string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
	Phone      string
}

// CheckoutCommand is the full input to the checkout saga. Cart is an explicit,
// already-validated snapshot; the saga never reads session state.
type CheckoutCommand struct {
	Cart            domain.CartSnapshot
	Customer        CustomerInput
	BillingAddress  AddressInput
	ShippingAddress AddressInput
	// UserID is set for authenticated checkouts and links the customer
	// record; guests leave it empty and receive a guest token instead.
	UserID   string
	Discount int64
	Notes    string
}

// CheckoutResult reports the persisted order and the client-side payment
// handle. ClientSecret is empty when the payment-intent step failed and the
// order was left in draft for retry.
type CheckoutResult struct {
	Order        domain.Order
	GuestToken   string
	IntentID     string
	ClientSecret string
}

// CheckoutService runs the checkout saga and the payment-intent retry path.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	RetryPaymentIntent(ctx context.Context, orderID string) (CheckoutResult, error)
}

// PaymentReconciler applies asynchronous gateway events to orders. Events are
// at-least-once and possibly out of order; processing is idempotent by event id.
type PaymentReconciler interface {
	ProcessEvent(ctx context.Context, event payments.WebhookEvent) error
}

// OrderStatusTransitionCommand requests a single guarded status move.
// ExpectedStatus, when set, rejects the command if the order moved concurrently.
type OrderStatusTransitionCommand struct {
	OrderID        string
	ToStatus       domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	Actor          string
	Notes          string
}

// FulfillItemsCommand records shipped units per order item id. Quantities are
// clamped to each item's pending units.
type FulfillItemsCommand struct {
	OrderID    string
	Quantities map[string]int64
	Actor      string
	Notes      string
}

// CancelOrderCommand cancels an order, releasing any held reservation and
// refunding captured payment.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

// OrderService exposes the order lifecycle operations composed over the state
// machine and the inventory ledger.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetByGuestToken(ctx context.Context, token string) (domain.Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error)
	FulfillItems(ctx context.Context, cmd FulfillItemsCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	CompleteOrder(ctx context.Context, orderID, actor string) (domain.Order, error)
}

// normaliseClock wraps an injectable clock so every service works in UTC.
func normaliseClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func noopLogger(context.Context, string, map[string]any) {}
