package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

type fakeCheckoutService struct {
	checkoutFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
	retryFn    func(ctx context.Context, orderID string) (services.CheckoutResult, error)
}

func (f *fakeCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if f.checkoutFn != nil {
		return f.checkoutFn(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (f *fakeCheckoutService) RetryPaymentIntent(ctx context.Context, orderID string) (services.CheckoutResult, error) {
	if f.retryFn != nil {
		return f.retryFn(ctx, orderID)
	}
	return services.CheckoutResult{}, nil
}

type fakeOrderService struct {
	getFn        func(ctx context.Context, orderID string) (domain.Order, error)
	getByTokenFn func(ctx context.Context, token string) (domain.Order, error)
	listFn       func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	historyFn    func(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
	transitionFn func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error)
	fulfillFn    func(ctx context.Context, cmd services.FulfillItemsCommand) (domain.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
	completeFn   func(ctx context.Context, orderID, actor string) (domain.Order, error)
}

func (f *fakeOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if f.getFn != nil {
		return f.getFn(ctx, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (f *fakeOrderService) GetByGuestToken(ctx context.Context, token string) (domain.Order, error) {
	if f.getByTokenFn != nil {
		return f.getByTokenFn(ctx, token)
	}
	return domain.Order{}, services.ErrOrderInvalidToken
}

func (f *fakeOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (f *fakeOrderService) ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, orderID)
	}
	return nil, nil
}

func (f *fakeOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
	if f.transitionFn != nil {
		return f.transitionFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (f *fakeOrderService) FulfillItems(ctx context.Context, cmd services.FulfillItemsCommand) (domain.Order, error) {
	if f.fulfillFn != nil {
		return f.fulfillFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (f *fakeOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (f *fakeOrderService) CompleteOrder(ctx context.Context, orderID, actor string) (domain.Order, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, orderID, actor)
	}
	return domain.Order{}, nil
}

type fakeLedgerService struct {
	recordFn        func(ctx context.Context, cmd services.LedgerTransactionCommand) (domain.InventoryTransaction, error)
	effectiveFn     func(ctx context.Context, item domain.ItemKey) (services.StockLevel, error)
	configureFn     func(ctx context.Context, cmd services.ConfigureStockCommand) error
	transactionsFn  func(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error)
	lowStockFn      func(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error)
	availabilityFn  func(ctx context.Context, item domain.ItemKey, qty int64) (bool, error)
	recordEntriesFn func(ctx context.Context, cmds []services.LedgerTransactionCommand) ([]domain.InventoryTransaction, error)
}

func (f *fakeLedgerService) RecordTransaction(ctx context.Context, cmd services.LedgerTransactionCommand) (domain.InventoryTransaction, error) {
	if f.recordFn != nil {
		return f.recordFn(ctx, cmd)
	}
	return domain.InventoryTransaction{}, nil
}

func (f *fakeLedgerService) RecordEntries(ctx context.Context, cmds []services.LedgerTransactionCommand) ([]domain.InventoryTransaction, error) {
	if f.recordEntriesFn != nil {
		return f.recordEntriesFn(ctx, cmds)
	}
	return nil, nil
}

func (f *fakeLedgerService) EffectiveStock(ctx context.Context, item domain.ItemKey) (services.StockLevel, error) {
	if f.effectiveFn != nil {
		return f.effectiveFn(ctx, item)
	}
	return services.StockLevel{}, services.ErrLedgerStockNotFound
}

func (f *fakeLedgerService) CheckAvailability(ctx context.Context, item domain.ItemKey, qty int64) (bool, error) {
	if f.availabilityFn != nil {
		return f.availabilityFn(ctx, item, qty)
	}
	return true, nil
}

func (f *fakeLedgerService) ConfigureStock(ctx context.Context, cmd services.ConfigureStockCommand) error {
	if f.configureFn != nil {
		return f.configureFn(ctx, cmd)
	}
	return nil
}

func (f *fakeLedgerService) ListTransactions(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error) {
	if f.transactionsFn != nil {
		return f.transactionsFn(ctx, item, pager)
	}
	return domain.CursorPage[domain.InventoryTransaction]{}, nil
}

func (f *fakeLedgerService) ListLowStock(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error) {
	if f.lowStockFn != nil {
		return f.lowStockFn(ctx, threshold, pager)
	}
	return domain.CursorPage[domain.StockItem]{}, nil
}

type fakeReconciler struct {
	processFn func(ctx context.Context, event payments.WebhookEvent) error
	events    []payments.WebhookEvent
}

func (f *fakeReconciler) ProcessEvent(ctx context.Context, event payments.WebhookEvent) error {
	f.events = append(f.events, event)
	if f.processFn != nil {
		return f.processFn(ctx, event)
	}
	return nil
}

func serveRoutes(t *testing.T, registrar RouteRegistrar, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	registrar(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
