package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
)

type checkoutFixture struct {
	orders    *memOrders
	inventory *memInventory
	customers *memCustomers
	addresses *memAddresses
	counters  *memCounters
	catalog   *fakeCatalog
	gateway   *fakeGateway
	notifier  *fakeNotifier
	service   CheckoutService
}

func newCheckoutFixture(t *testing.T, pricing PricingConfig) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		orders:    newMemOrders(),
		inventory: newMemInventory(),
		customers: newMemCustomers(),
		addresses: newMemAddresses(),
		counters:  newMemCounters(),
		catalog:   &fakeCatalog{},
		gateway:   &fakeGateway{},
		notifier:  &fakeNotifier{},
	}
	f.catalog.resolveFn = func(_ context.Context, item domain.ItemKey) (domain.CatalogItem, error) {
		stock, ok := f.inventory.stocks[item.SKU()]
		if !ok {
			return domain.CatalogItem{
				Item:   item,
				Name:   "Item " + item.SKU(),
				SKU:    item.SKU(),
				Status: domain.CatalogItemPublished,
			}, nil
		}
		return domain.CatalogItem{
			Item:           item,
			Name:           "Item " + item.SKU(),
			SKU:            item.SKU(),
			TrackInventory: stock.TrackInventory,
			Status:         domain.CatalogItemPublished,
		}, nil
	}

	ledger, err := NewLedgerService(LedgerServiceDeps{Inventory: f.inventory})
	if err != nil {
		t.Fatalf("NewLedgerService: %v", err)
	}
	f.service, err = NewCheckoutService(CheckoutServiceDeps{
		UnitOfWork:  memUnitOfWork{},
		Orders:      f.orders,
		Customers:   f.customers,
		Addresses:   f.addresses,
		Counters:    f.counters,
		Ledger:      ledger,
		Catalog:     f.catalog,
		Gateway:     f.gateway,
		GuestTokens: &fakeGuestTokens{},
		Notifier:    f.notifier,
		Pricing:     pricing,
		Clock:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return f
}

func guestCheckoutCommand(lines ...domain.CartLine) CheckoutCommand {
	return CheckoutCommand{
		Cart: domain.CartSnapshot{
			CartRef:  "cart-1",
			Currency: "EUR",
			Lines:    lines,
		},
		Customer: CustomerInput{
			Email:     "alice@example.com",
			FirstName: "Alice",
			LastName:  "Martin",
		},
		BillingAddress: AddressInput{
			Line1:      "1 High Street",
			City:       "Bristol",
			PostalCode: "BS1 4ST",
			Country:    "GB",
		},
		ShippingAddress: AddressInput{
			Line1:      "1 High Street",
			City:       "Bristol",
			PostalCode: "BS1 4ST",
			Country:    "GB",
		},
	}
}

func TestCheckoutInclusiveTaxTotals(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 2, UnitPrice: 1000})

	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	order := result.Order
	if order.Subtotal.Amount != 2000 {
		t.Errorf("subtotal = %d, want 2000", order.Subtotal.Amount)
	}
	if order.Tax.Amount != 333 {
		t.Errorf("tax = %d, want 333", order.Tax.Amount)
	}
	if order.Total.Amount != 2000 {
		t.Errorf("total = %d, want 2000 (inclusive tax stays in subtotal)", order.Total.Amount)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Errorf("status = %s, want pending_payment", order.Status)
	}
	if result.ClientSecret == "" || result.IntentID == "" {
		t.Error("expected intent id and client secret on success")
	}
	if result.GuestToken == "" {
		t.Error("guest checkout should mint a guest token")
	}
	if !strings.HasPrefix(order.OrderNumber, "ORD-2026-") {
		t.Errorf("order number = %q", order.OrderNumber)
	}
}

func TestCheckoutExclusiveTaxTotals(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: false, ShippingFlatFee: 500})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 2, UnitPrice: 1000})

	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	order := result.Order
	if order.Tax.Amount != 400 {
		t.Errorf("tax = %d, want 400", order.Tax.Amount)
	}
	if want := int64(2000 + 500 + 400); order.Total.Amount != want {
		t.Errorf("total = %d, want %d", order.Total.Amount, want)
	}
}

func TestCheckoutReservesTrackedStock(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	item := domain.ItemKey{ProductID: "prod-1"}
	f.inventory.seed(item, true, 5)
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 2, UnitPrice: 1000})

	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !result.Order.ReservationHeld {
		t.Error("ReservationHeld should be set for tracked items")
	}
	entries := f.inventory.entriesFor(item)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1 reservation", len(entries))
	}
	if entries[0].Type != domain.LedgerEntryReservation || entries[0].QuantityChange != -2 || entries[0].QuantityAfter != 3 {
		t.Fatalf("reservation entry = %+v", entries[0])
	}
	if entries[0].OrderRef != result.Order.ID {
		t.Errorf("reservation OrderRef = %q, want %q", entries[0].OrderRef, result.Order.ID)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	f.inventory.seed(domain.ItemKey{ProductID: "prod-1"}, true, 1)
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 2, UnitPrice: 1000})

	_, err := f.service.Checkout(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutInsufficientStock) {
		t.Fatalf("err = %v, want ErrCheckoutInsufficientStock", err)
	}
	if !strings.Contains(err.Error(), "prod-1") {
		t.Errorf("error should name the offending item: %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Error("no order should be persisted for a failed checkout")
	}
}

func TestCheckoutLastUnitRace(t *testing.T) {
	// Availability passes for both commands; the reservation append inside
	// the persistence transaction keeps the second one from overselling.
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	item := domain.ItemKey{ProductID: "prod-1"}
	f.inventory.seed(item, true, 1)
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})

	if _, err := f.service.Checkout(context.Background(), cmd); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	_, err := f.service.Checkout(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutInsufficientStock) {
		t.Fatalf("second checkout err = %v, want ErrCheckoutInsufficientStock", err)
	}
	entries := f.inventory.entriesFor(item)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want exactly 1 successful reservation", len(entries))
	}
}

func TestCheckoutUnpublishedItem(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	f.catalog.resolveFn = func(_ context.Context, item domain.ItemKey) (domain.CatalogItem, error) {
		return domain.CatalogItem{Item: item, SKU: item.SKU(), Status: domain.CatalogItemDraft}, nil
	}
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})

	_, err := f.service.Checkout(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutItemUnavailable) {
		t.Fatalf("err = %v, want ErrCheckoutItemUnavailable", err)
	}
}

func TestCheckoutGatewayFailureLeavesDraft(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	f.gateway.createFn = func(context.Context, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, fmt.Errorf("gateway down")
	}
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})

	result, err := f.service.Checkout(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("err = %v, want ErrCheckoutPaymentFailed", err)
	}
	if result.Order.ID == "" {
		t.Fatal("result should carry the persisted draft for retry")
	}
	stored, findErr := f.orders.FindByID(context.Background(), result.Order.ID)
	if findErr != nil {
		t.Fatalf("draft not persisted: %v", findErr)
	}
	if stored.Status != domain.OrderStatusDraft {
		t.Fatalf("status = %s, want draft", stored.Status)
	}

	// Retry only the payment step.
	f.gateway.createFn = nil
	retried, err := f.service.RetryPaymentIntent(context.Background(), result.Order.ID)
	if err != nil {
		t.Fatalf("RetryPaymentIntent: %v", err)
	}
	if retried.Order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("status after retry = %s, want pending_payment", retried.Order.Status)
	}
	if retried.ClientSecret == "" {
		t.Error("retry should return the client secret")
	}
}

func TestCheckoutRetryRejectsNonDraft(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})
	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := f.service.RetryPaymentIntent(context.Background(), result.Order.ID); !errors.Is(err, ErrCheckoutNotRetryable) {
		t.Fatalf("err = %v, want ErrCheckoutNotRetryable", err)
	}
}

func TestCheckoutCustomerIdempotentByEmail(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})

	first, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	cmd.Customer.Phone = "+44 117 000 000"
	second, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if first.Order.CustomerID != second.Order.CustomerID {
		t.Fatalf("same email resolved two customers: %s vs %s", first.Order.CustomerID, second.Order.CustomerID)
	}
	if len(f.customers.records) != 1 {
		t.Fatalf("customer records = %d, want 1", len(f.customers.records))
	}
	if second.Order.CustomerDetails.Phone != "+44 117 000 000" {
		t.Errorf("contact fields should refresh on the existing record")
	}
	addrs, _ := f.addresses.ListByCustomer(context.Background(), first.Order.CustomerID)
	if len(addrs) != 1 {
		t.Fatalf("addresses = %d, want 1 reused across both orders", len(addrs))
	}
}

func TestCheckoutHistoryRows(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})
	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	rows := f.orders.historyFor(result.Order.ID)
	if len(rows) != 2 {
		t.Fatalf("history rows = %d, want 2 (creation + pending_payment)", len(rows))
	}
	if rows[0].FromStatus != nil || rows[0].ToStatus != domain.OrderStatusDraft {
		t.Errorf("creation row = %+v", rows[0])
	}
	if rows[1].FromStatus == nil || *rows[1].FromStatus != domain.OrderStatusDraft || rows[1].ToStatus != domain.OrderStatusPendingPayment {
		t.Errorf("transition row = %+v", rows[1])
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	base := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})

	cases := []struct {
		name   string
		mutate func(cmd *CheckoutCommand)
	}{
		{"empty cart", func(cmd *CheckoutCommand) { cmd.Cart.Lines = nil }},
		{"zero quantity", func(cmd *CheckoutCommand) { cmd.Cart.Lines[0].Quantity = 0 }},
		{"missing email", func(cmd *CheckoutCommand) { cmd.Customer.Email = "" }},
		{"bad email", func(cmd *CheckoutCommand) { cmd.Customer.Email = "not-an-email" }},
		{"missing line1", func(cmd *CheckoutCommand) { cmd.ShippingAddress.Line1 = "" }},
		{"missing country", func(cmd *CheckoutCommand) { cmd.BillingAddress.Country = "" }},
		{"negative discount", func(cmd *CheckoutCommand) { cmd.Discount = -1 }},
		{"bad currency", func(cmd *CheckoutCommand) { cmd.Cart.Currency = "EURO" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			cmd.Cart.Lines = append([]domain.CartLine(nil), base.Cart.Lines...)
			tc.mutate(&cmd)
			if _, err := f.service.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("err = %v, want ErrCheckoutInvalidInput", err)
			}
		})
	}
}

func TestCheckoutSanitisesNotes(t *testing.T) {
	f := newCheckoutFixture(t, PricingConfig{Currency: "EUR", TaxRate: 0.20, TaxInclusive: true})
	cmd := guestCheckoutCommand(domain.CartLine{ProductID: "prod-1", Quantity: 1, UnitPrice: 1000})
	cmd.Notes = `<script>alert(1)</script>leave at the door`

	result, err := f.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	rows := f.orders.historyFor(result.Order.ID)
	if len(rows) == 0 {
		t.Fatal("no history rows")
	}
	if strings.Contains(rows[0].Notes, "<script>") {
		t.Fatalf("notes not sanitised: %q", rows[0].Notes)
	}
	if !strings.Contains(rows[0].Notes, "leave at the door") {
		t.Fatalf("plain text stripped from notes: %q", rows[0].Notes)
	}
}
