package services

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/notify"
	"github.com/hanko-field/orders/internal/repositories"
)

// In-memory fakes shared across the service tests. Overridable func fields
// follow the same pattern as the gateway fakes in internal/payments.

type stubError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubError) Error() string       { return e.msg }
func (e *stubError) IsNotFound() bool    { return e.notFound }
func (e *stubError) IsConflict() bool    { return e.conflict }
func (e *stubError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error { return &stubError{msg: msg, notFound: true} }
func conflictErr(msg string) error { return &stubError{msg: msg, conflict: true} }

type memUnitOfWork struct{}

func (memUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	history []domain.OrderStatusHistory

	findByIDErr error
	updateErr   error
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]domain.Order)}
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return conflictErr("order exists")
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if m.findByIDErr != nil {
		return domain.Order{}, m.findByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order " + orderID)
	}
	return order, nil
}

func (m *memOrders) FindByPaymentIntent(_ context.Context, intentID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.GatewayPaymentIntentID == intentID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("intent " + intentID)
}

func (m *memOrders) FindByGuestToken(_ context.Context, token string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.GuestToken == token {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("guest token")
}

func (m *memOrders) AppendHistory(_ context.Context, row domain.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, row)
	return nil
}

func (m *memOrders) ListHistory(_ context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.OrderStatusHistory
	for _, row := range m.history {
		if row.OrderID == orderID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (m *memOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				if order.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, order)
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (m *memOrders) historyFor(orderID string) []domain.OrderStatusHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.OrderStatusHistory
	for _, row := range m.history {
		if row.OrderID == orderID {
			rows = append(rows, row)
		}
	}
	return rows
}

type memInventory struct {
	mu      sync.Mutex
	stocks  map[string]domain.StockItem
	entries []domain.InventoryTransaction
}

func newMemInventory() *memInventory {
	return &memInventory{stocks: make(map[string]domain.StockItem)}
}

func (m *memInventory) seed(item domain.ItemKey, tracked bool, onHand int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[item.SKU()] = domain.StockItem{Item: item, TrackInventory: tracked, OnHand: onHand}
}

func (m *memInventory) Append(_ context.Context, req repositories.LedgerAppendRequest) (repositories.LedgerAppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every entry against a scratch copy before committing any.
	scratch := make(map[string]domain.StockItem, len(m.stocks))
	for sku, stock := range m.stocks {
		scratch[sku] = stock
	}
	result := repositories.LedgerAppendResult{Stocks: make(map[string]domain.StockItem)}
	for _, entry := range req.Entries {
		sku := entry.Item.SKU()
		stock, ok := scratch[sku]
		if !ok {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorStockNotFound, "stock "+sku+" not found", nil)
		}
		if !stock.TrackInventory {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUntracked, "stock "+sku+" untracked", nil)
		}
		after := stock.OnHand + entry.QuantityChange
		if after < 0 && !entry.AllowNegative {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", sku), nil)
		}
		stock.OnHand = after
		stock.UpdatedAt = req.Now
		scratch[sku] = stock
		result.Entries = append(result.Entries, domain.InventoryTransaction{
			ID:             entry.ID,
			Item:           entry.Item,
			Type:           entry.Type,
			QuantityChange: entry.QuantityChange,
			QuantityAfter:  after,
			OrderRef:       entry.OrderRef,
			Reference:      entry.Reference,
			Notes:          entry.Notes,
			CreatedAt:      req.Now,
		})
	}
	for sku, stock := range scratch {
		m.stocks[sku] = stock
		result.Stocks[sku] = stock
	}
	m.entries = append(m.entries, result.Entries...)
	return result, nil
}

func (m *memInventory) GetStock(_ context.Context, item domain.ItemKey) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stocks[item.SKU()]
	if !ok {
		return domain.StockItem{}, repositories.NewLedgerError(repositories.LedgerErrorStockNotFound, "stock "+item.SKU()+" not found", nil)
	}
	return stock, nil
}

func (m *memInventory) ListStockByProduct(_ context.Context, productID string) ([]domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockItem
	for _, stock := range m.stocks {
		if stock.Item.ProductID == productID {
			out = append(out, stock)
		}
	}
	return out, nil
}

func (m *memInventory) ListTransactions(_ context.Context, item domain.ItemKey, _ domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryTransaction
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Item.SKU() == item.SKU() {
			out = append(out, m.entries[i])
		}
	}
	return domain.CursorPage[domain.InventoryTransaction]{Items: out}, nil
}

func (m *memInventory) ListLowStock(_ context.Context, threshold int64, _ domain.Pagination) (domain.CursorPage[domain.StockItem], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockItem
	for _, stock := range m.stocks {
		if stock.TrackInventory && stock.OnHand <= threshold {
			out = append(out, stock)
		}
	}
	return domain.CursorPage[domain.StockItem]{Items: out}, nil
}

func (m *memInventory) ConfigureStock(_ context.Context, stock domain.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[stock.Item.SKU()] = stock
	return nil
}

func (m *memInventory) entriesFor(item domain.ItemKey) []domain.InventoryTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryTransaction
	for _, entry := range m.entries {
		if entry.Item.SKU() == item.SKU() {
			out = append(out, entry)
		}
	}
	return out
}

type memCustomers struct {
	mu      sync.Mutex
	records map[string]repositories.CustomerRecord
}

func newMemCustomers() *memCustomers {
	return &memCustomers{records: make(map[string]repositories.CustomerRecord)}
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (repositories.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.Email == email {
			return record, nil
		}
	}
	return repositories.CustomerRecord{}, notFoundErr("customer " + email)
}

func (m *memCustomers) FindByUserID(_ context.Context, userID string) (repositories.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.UserID == userID {
			return record, nil
		}
	}
	return repositories.CustomerRecord{}, notFoundErr("user " + userID)
}

func (m *memCustomers) Insert(_ context.Context, record repositories.CustomerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return conflictErr("customer exists")
	}
	m.records[record.ID] = record
	return nil
}

func (m *memCustomers) Update(_ context.Context, record repositories.CustomerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

type memAddresses struct {
	mu    sync.Mutex
	store map[string][]domain.Address
}

func newMemAddresses() *memAddresses {
	return &memAddresses{store: make(map[string][]domain.Address)}
}

func (m *memAddresses) FindMatching(_ context.Context, customerID string, addr domain.Address) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.store[customerID] {
		if stored.Line1 == addr.Line1 && stored.PostalCode == addr.PostalCode && stored.City == addr.City {
			return stored, nil
		}
	}
	return domain.Address{}, notFoundErr("no matching address")
}

func (m *memAddresses) Insert(_ context.Context, customerID string, addr domain.Address) (domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[customerID] = append(m.store[customerID], addr)
	return addr, nil
}

func (m *memAddresses) ListByCustomer(_ context.Context, customerID string) ([]domain.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store[customerID], nil
}

type memCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemCounters() *memCounters {
	return &memCounters{values: make(map[string]int64)}
}

func (m *memCounters) Next(_ context.Context, counterID string, step int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[counterID] += step
	return m.values[counterID], nil
}

type memProcessedEvents struct {
	mu   sync.Mutex
	seen map[string]repositories.ProcessedEventRecord

	existsFn func(ctx context.Context, eventID string) (bool, error)
}

func newMemProcessedEvents() *memProcessedEvents {
	return &memProcessedEvents{seen: make(map[string]repositories.ProcessedEventRecord)}
}

func (m *memProcessedEvents) Create(_ context.Context, record repositories.ProcessedEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[record.EventID]; ok {
		return conflictErr("event " + record.EventID + " already processed")
	}
	m.seen[record.EventID] = record
	return nil
}

func (m *memProcessedEvents) Exists(ctx context.Context, eventID string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[eventID]
	return ok, nil
}

type fakeCatalog struct {
	resolveFn func(ctx context.Context, item domain.ItemKey) (domain.CatalogItem, error)
}

func (f *fakeCatalog) ResolveItem(ctx context.Context, item domain.ItemKey) (domain.CatalogItem, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, item)
	}
	return domain.CatalogItem{}, notFoundErr("item " + item.SKU())
}

type fakeGateway struct {
	createFn func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	cancelFn func(ctx context.Context, intentID, idempotencyKey string) (payments.Intent, error)
	refundFn func(ctx context.Context, req payments.RefundRequest) (payments.Intent, error)
	lookupFn func(ctx context.Context, intentID string) (payments.Intent, error)
}

func (f *fakeGateway) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return payments.Intent{ID: "pi_test", ClientSecret: "secret_test", Status: payments.StatusPending, Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakeGateway) CancelIntent(ctx context.Context, intentID, idempotencyKey string) (payments.Intent, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, intentID, idempotencyKey)
	}
	return payments.Intent{ID: intentID, Status: payments.StatusCancelled}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.Intent, error) {
	if f.refundFn != nil {
		return f.refundFn(ctx, req)
	}
	return payments.Intent{ID: req.IntentID, Status: payments.StatusRefunded}, nil
}

func (f *fakeGateway) LookupIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, intentID)
	}
	return payments.Intent{ID: intentID}, nil
}

type fakeCarts struct {
	mu      sync.Mutex
	cleared []string
	clearFn func(ctx context.Context, cartRef string) error
}

func (f *fakeCarts) Clear(ctx context.Context, cartRef string) error {
	if f.clearFn != nil {
		return f.clearFn(ctx, cartRef)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, cartRef)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.OrderEvent
	err    error
}

func (f *fakeNotifier) PublishOrderEvent(_ context.Context, event notify.OrderEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return fmt.Sprintf("msg-%d", len(f.events)), nil
}

type fakeGuestTokens struct {
	mintFn   func(orderID string) (string, error)
	verifyFn func(raw string) (string, error)
}

func (f *fakeGuestTokens) Mint(orderID string) (string, error) {
	if f.mintFn != nil {
		return f.mintFn(orderID)
	}
	return "guest-" + orderID, nil
}

func (f *fakeGuestTokens) Verify(raw string) (string, error) {
	if f.verifyFn != nil {
		return f.verifyFn(raw)
	}
	if len(raw) > 6 && raw[:6] == "guest-" {
		return raw[6:], nil
	}
	return "", fmt.Errorf("bad token")
}
