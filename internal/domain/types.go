package domain

import "time"

// Pagination carries page-size and opaque cursor parameters for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token for fetching the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CustomerDetails is the contact snapshot copied onto an order at creation time.
// It is never re-derived from the live customer record.
type CustomerDetails struct {
	CustomerID string
	Email      string
	FirstName  string
	LastName   string
	Phone      string
}

// AddressType distinguishes billing from shipping addresses.
type AddressType string

const (
	AddressTypeBilling  AddressType = "billing"
	AddressTypeShipping AddressType = "shipping"
)

// Address is an immutable postal snapshot stored on the order.
type Address struct {
	ID         string
	Type       AddressType
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

// Order is the aggregate root for the order-processing core. It is created by
// checkout, mutated only through status transitions and fulfillment operations,
// and never deleted; cancellation is a status, not removal.
type Order struct {
	ID                     string
	OrderNumber            string
	GuestToken             string
	CustomerID             string
	Status                 OrderStatus
	Currency               string
	Subtotal               Money
	Tax                    Money
	Shipping               Money
	Discount               Money
	Total                  Money
	TaxRate                float64
	TaxInclusive           bool
	GatewayPaymentIntentID string
	PaymentStatus          PaymentStatus
	PaymentConfirmedAt     *time.Time
	CustomerDetails        CustomerDetails
	BillingAddress         Address
	ShippingAddress        Address
	CartRef                string
	ReservationHeld        bool
	Items                  []OrderItem
	CreatedAt              time.Time
	UpdatedAt              time.Time
	PlacedAt               *time.Time
	ShippedAt              *time.Time
	DeliveredAt            *time.Time
	CompletedAt            *time.Time
	CancelledAt            *time.Time
	CancelReason           string
}

// ItemKey identifies the stock-keeping item an order line or ledger entry refers
// to: a simple product, or a specific variant of one.
type ItemKey struct {
	ProductID string
	VariantID string
}

// SKU returns the ledger document key for the item.
func (k ItemKey) SKU() string {
	if k.VariantID != "" {
		return k.ProductID + ":" + k.VariantID
	}
	return k.ProductID
}

// OrderItem is one order line with product and pricing snapshots decoupled from
// the live catalog.
type OrderItem struct {
	ID                string
	Item              ItemKey
	Name              string
	SKU               string
	VariantAttributes map[string]string
	Quantity          int64
	QuantityFulfilled int64
	QuantityCancelled int64
	QuantityRefunded  int64
	UnitPrice         Money
	LineTotal         Money
	TaxAmount         Money
	FulfilledAt       *time.Time
}

// QuantityPending returns the units not yet fulfilled or cancelled.
func (i OrderItem) QuantityPending() int64 {
	return i.Quantity - i.QuantityFulfilled - i.QuantityCancelled
}

// FullyFulfilled reports whether every non-cancelled unit has been fulfilled.
func (i OrderItem) FullyFulfilled() bool {
	return i.QuantityFulfilled+i.QuantityCancelled >= i.Quantity
}

// OrderStatusHistory is one immutable audit row per status transition.
// A nil FromStatus marks order creation; an empty Actor marks the system.
type OrderStatusHistory struct {
	ID         string
	OrderID    string
	FromStatus *OrderStatus
	ToStatus   OrderStatus
	Actor      string
	Notes      string
	OccurredAt time.Time
}

// PaymentStatus mirrors the gateway's view of the payment attached to an order.
type PaymentStatus string

const (
	PaymentStatusNone           PaymentStatus = ""
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusCancelled      PaymentStatus = "cancelled"
	PaymentStatusRefunded       PaymentStatus = "refunded"
)

// LedgerEntryType enumerates stock-affecting event kinds.
type LedgerEntryType string

const (
	LedgerEntrySale        LedgerEntryType = "sale"
	LedgerEntryReturn      LedgerEntryType = "return"
	LedgerEntryRestock     LedgerEntryType = "restock"
	LedgerEntryAdjustment  LedgerEntryType = "adjustment"
	LedgerEntryReservation LedgerEntryType = "reservation"
	LedgerEntryRelease     LedgerEntryType = "release"
)

// ValidLedgerEntryType reports whether t is a known entry type.
func ValidLedgerEntryType(t LedgerEntryType) bool {
	switch t {
	case LedgerEntrySale, LedgerEntryReturn, LedgerEntryRestock,
		LedgerEntryAdjustment, LedgerEntryReservation, LedgerEntryRelease:
		return true
	}
	return false
}

// InventoryTransaction is one immutable ledger entry for a stock-keeping item.
// Entries ordered by creation form a running sum: each QuantityAfter equals the
// previous QuantityAfter plus this QuantityChange.
type InventoryTransaction struct {
	ID             string
	Item           ItemKey
	Type           LedgerEntryType
	QuantityChange int64
	QuantityAfter  int64
	OrderRef       string
	Reference      string
	Notes          string
	CreatedAt      time.Time
}

// StockItem is the cached per-item projection maintained alongside the ledger.
// OnHand always equals the latest ledger entry's QuantityAfter.
type StockItem struct {
	Item           ItemKey
	TrackInventory bool
	OnHand         int64
	UpdatedAt      time.Time
}

// CartLine is one validated line of the cart snapshot consumed at checkout.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int64
	UnitPrice int64
}

// CartSnapshot is the explicit, validated cart value passed into checkout.
// The core consumes it once and never mutates session state.
type CartSnapshot struct {
	CartRef  string
	Currency string
	Lines    []CartLine
}

// CatalogItemStatus is the publication state reported by the catalog collaborator.
type CatalogItemStatus string

const (
	CatalogItemPublished CatalogItemStatus = "published"
	CatalogItemDraft     CatalogItemStatus = "draft"
	CatalogItemArchived  CatalogItemStatus = "archived"
)

// CatalogItem is the read-only resolution of a product or variant at checkout
// time. Name, SKU and attributes are snapshotted onto the order line.
type CatalogItem struct {
	Item              ItemKey
	Name              string
	SKU               string
	VariantAttributes map[string]string
	Price             int64
	CostPrice         int64
	ComparePrice      int64
	TrackInventory    bool
	Status            CatalogItemStatus
}
