package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one transactional boundary.
// Every mutating operation on an order aggregate (status change, history
// append, item updates and the ledger writes it triggers) runs inside one
// transaction so state never diverges on a mid-operation crash.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate. Insert and Update expect to run
// inside a UnitOfWork transaction when history rows accompany them.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error)
	FindByGuestToken(ctx context.Context, token string) (domain.Order, error)
	AppendHistory(ctx context.Context, row domain.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// LedgerAppendRequest carries one or more ledger entries to append atomically.
// All entries commit or none do; per-item on-hand reads are serialized against
// concurrent appends by the storage transaction.
type LedgerAppendRequest struct {
	Entries []LedgerEntry
	Now     time.Time
}

// LedgerEntry is the write-side command for a single ledger row. QuantityAfter
// is computed by the repository from the item's current on-hand value.
type LedgerEntry struct {
	ID             string
	Item           domain.ItemKey
	Type           domain.LedgerEntryType
	QuantityChange int64
	OrderRef       string
	Reference      string
	Notes          string
	// AllowNegative permits the resulting on-hand to go below zero. Stock
	// take-downs (sale, reservation) leave it false so oversell is rejected
	// inside the transaction.
	AllowNegative bool
}

// LedgerAppendResult reports the persisted entries and updated stock projections.
type LedgerAppendResult struct {
	Entries []domain.InventoryTransaction
	Stocks  map[string]domain.StockItem
}

// InventoryRepository owns the append-only stock ledger and the cached on-hand
// counter. Append persists ledger rows and counter updates in one atomic unit.
type InventoryRepository interface {
	Append(ctx context.Context, req LedgerAppendRequest) (LedgerAppendResult, error)
	GetStock(ctx context.Context, item domain.ItemKey) (domain.StockItem, error)
	ListStockByProduct(ctx context.Context, productID string) ([]domain.StockItem, error)
	ListTransactions(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error)
	ListLowStock(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error)
	ConfigureStock(ctx context.Context, stock domain.StockItem) error
}

// CustomerRecord is the persisted customer row managed by the directory.
type CustomerRecord struct {
	ID        string
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	IsGuest   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerRepository stores customer contact records keyed by email.
type CustomerRepository interface {
	FindByEmail(ctx context.Context, email string) (CustomerRecord, error)
	FindByUserID(ctx context.Context, userID string) (CustomerRecord, error)
	Insert(ctx context.Context, record CustomerRecord) error
	Update(ctx context.Context, record CustomerRecord) error
}

// AddressRepository stores reusable customer addresses.
type AddressRepository interface {
	FindMatching(ctx context.Context, customerID string, addr domain.Address) (domain.Address, error)
	Insert(ctx context.Context, customerID string, addr domain.Address) (domain.Address, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Address, error)
}

// ProcessedEventRecord marks an external gateway event as applied.
type ProcessedEventRecord struct {
	EventID     string
	Kind        string
	OrderID     string
	ProcessedAt time.Time
}

// ProcessedEventRepository provides create-if-absent dedup for webhook events.
// Create fails with a conflict error when the event id was already recorded.
type ProcessedEventRepository interface {
	Create(ctx context.Context, record ProcessedEventRecord) error
	Exists(ctx context.Context, eventID string) (bool, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
