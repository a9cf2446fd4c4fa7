package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/notify"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oit_"
	historyIDPrefix   = "osh_"
	customerIDPrefix  = "cus_"
	addressIDPrefix   = "addr_"
	eventIDPrefix     = "evt_"

	orderCounterPrefix = "orders"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout input.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutItemUnavailable indicates a cart line references an unknown or unpublished item.
	ErrCheckoutItemUnavailable = errors.New("checkout: item unavailable")
	// ErrCheckoutInsufficientStock indicates on-hand stock cannot cover a cart line.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentFailed indicates the payment intent could not be created; the order stays in draft.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment intent failed")
	// ErrCheckoutNotRetryable indicates the order is past the draft stage and cannot re-run the payment step.
	ErrCheckoutNotRetryable = errors.New("checkout: not retryable")
	// ErrCheckoutNotFound indicates the order to retry does not exist.
	ErrCheckoutNotFound = errors.New("checkout: order not found")
	// ErrCheckoutUnavailable indicates a checkout dependency is currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// PricingConfig carries the single-jurisdiction pricing parameters applied to
// every checkout.
type PricingConfig struct {
	Currency        string
	TaxRate         float64
	TaxInclusive    bool
	ShippingFlatFee int64
}

// CheckoutServiceDeps wires the dependencies required by the checkout saga.
type CheckoutServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Orders      repositories.OrderRepository
	Customers   repositories.CustomerRepository
	Addresses   repositories.AddressRepository
	Counters    repositories.CounterRepository
	Ledger      InventoryLedger
	Catalog     Catalog
	Gateway     payments.Gateway
	GuestTokens GuestTokens
	Notifier    Notifier
	Pricing     PricingConfig
	IDs         IDGenerator
	Clock       func() time.Time
	Logger      Logger
}

type checkoutService struct {
	uow         repositories.UnitOfWork
	orders      repositories.OrderRepository
	customers   repositories.CustomerRepository
	addresses   repositories.AddressRepository
	counters    repositories.CounterRepository
	ledger      InventoryLedger
	catalog     Catalog
	gateway     payments.Gateway
	guestTokens GuestTokens
	notifier    Notifier
	pricing     PricingConfig
	sanitize    *bluemonday.Policy
	newID       IDGenerator
	now         func() time.Time
	logger      Logger
}

// NewCheckoutService constructs the CheckoutService, validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Customers == nil:
		return nil, errors.New("checkout service: customer repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("checkout service: address repository is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout service: inventory ledger is required")
	case deps.Catalog == nil:
		return nil, errors.New("checkout service: catalog is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	case deps.GuestTokens == nil:
		return nil, errors.New("checkout service: guest token minter is required")
	}
	if _, err := domain.NewMoney(0, deps.Pricing.Currency); err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	newID := deps.IDs
	if newID == nil {
		newID = NewIDGenerator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &checkoutService{
		uow:         deps.UnitOfWork,
		orders:      deps.Orders,
		customers:   deps.Customers,
		addresses:   deps.Addresses,
		counters:    deps.Counters,
		ledger:      deps.Ledger,
		catalog:     deps.Catalog,
		gateway:     deps.Gateway,
		guestTokens: deps.GuestTokens,
		notifier:    deps.Notifier,
		pricing:     deps.Pricing,
		sanitize:    bluemonday.StrictPolicy(),
		newID:       newID,
		now:         normaliseClock(deps.Clock),
		logger:      logger,
	}, nil
}

// Checkout runs the saga: stock validation, customer and address resolution,
// totals, draft persistence with stock reservation, then the payment-intent
// request. A gateway failure leaves the persisted draft retryable through
// RetryPaymentIntent without repeating the earlier steps.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd, err := s.normaliseCommand(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	resolved, err := s.validateStock(ctx, cmd.Cart)
	if err != nil {
		return CheckoutResult{}, err
	}

	customer, err := s.resolveCustomer(ctx, cmd)
	if err != nil {
		return CheckoutResult{}, err
	}
	billing, err := s.resolveAddress(ctx, customer.ID, domain.AddressTypeBilling, cmd.BillingAddress)
	if err != nil {
		return CheckoutResult{}, err
	}
	shipping, err := s.resolveAddress(ctx, customer.ID, domain.AddressTypeShipping, cmd.ShippingAddress)
	if err != nil {
		return CheckoutResult{}, err
	}

	order, err := s.buildDraftOrder(ctx, cmd, resolved, customer, billing, shipping)
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := s.persistDraft(ctx, &order, resolved, cmd.Notes); err != nil {
		return CheckoutResult{}, err
	}
	s.publishEvent(ctx, order, "order.created", "", order.Status, "")

	result := CheckoutResult{Order: order, GuestToken: order.GuestToken}
	intent, err := s.requestPaymentIntent(ctx, &order)
	if err != nil {
		// The draft is committed; surface the failure with the order so
		// the caller can retry only the payment step.
		result.Order = order
		return result, err
	}
	result.Order = order
	result.IntentID = intent.ID
	result.ClientSecret = intent.ClientSecret
	s.publishEvent(ctx, order, "order.status.changed", domain.OrderStatusDraft, order.Status, "")
	return result, nil
}

// RetryPaymentIntent re-runs the payment-intent step for an order stuck in draft.
func (s *checkoutService) RetryPaymentIntent(ctx context.Context, orderID string) (CheckoutResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutResult{}, s.translateStoreError(ctx, err)
	}
	if order.Status != domain.OrderStatusDraft {
		return CheckoutResult{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutNotRetryable, orderID, order.Status)
	}

	result := CheckoutResult{Order: order, GuestToken: order.GuestToken}
	intent, err := s.requestPaymentIntent(ctx, &order)
	if err != nil {
		result.Order = order
		return result, err
	}
	result.Order = order
	result.IntentID = intent.ID
	result.ClientSecret = intent.ClientSecret
	s.publishEvent(ctx, order, "order.status.changed", domain.OrderStatusDraft, order.Status, "")
	return result, nil
}

func (s *checkoutService) normaliseCommand(cmd CheckoutCommand) (CheckoutCommand, error) {
	if len(cmd.Cart.Lines) == 0 {
		return cmd, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	for i, line := range cmd.Cart.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return cmd, fmt.Errorf("%w: line %d missing product id", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return cmd, fmt.Errorf("%w: line %d quantity must be positive", ErrCheckoutInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return cmd, fmt.Errorf("%w: line %d unit price must be >= 0", ErrCheckoutInvalidInput, i)
		}
	}
	if cmd.Discount < 0 {
		return cmd, fmt.Errorf("%w: discount must be >= 0", ErrCheckoutInvalidInput)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Cart.Currency))
	if currency == "" {
		currency = s.pricing.Currency
	}
	if _, err := domain.NewMoney(0, currency); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	cmd.Cart.Currency = currency

	cmd.Customer.Email = strings.ToLower(strings.TrimSpace(cmd.Customer.Email))
	if cmd.Customer.Email == "" || !strings.Contains(cmd.Customer.Email, "@") {
		return cmd, fmt.Errorf("%w: a valid email is required", ErrCheckoutInvalidInput)
	}
	if err := validateAddressInput("billing", cmd.BillingAddress); err != nil {
		return cmd, err
	}
	if err := validateAddressInput("shipping", cmd.ShippingAddress); err != nil {
		return cmd, err
	}

	cmd.Notes = strings.TrimSpace(s.sanitize.Sanitize(cmd.Notes))
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	return cmd, nil
}

func validateAddressInput(kind string, addr AddressInput) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s address missing %s", ErrCheckoutInvalidInput, kind, field)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return missing("line1")
	}
	if strings.TrimSpace(addr.City) == "" {
		return missing("city")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return missing("postal code")
	}
	if strings.TrimSpace(addr.Country) == "" {
		return missing("country")
	}
	return nil
}

// validateStock resolves every cart line against the live catalog and checks
// availability for tracked items.
func (s *checkoutService) validateStock(ctx context.Context, cart domain.CartSnapshot) (map[string]domain.CatalogItem, error) {
	resolved := make(map[string]domain.CatalogItem, len(cart.Lines))
	for _, line := range cart.Lines {
		key := domain.ItemKey{ProductID: line.ProductID, VariantID: line.VariantID}
		item, err := s.catalog.ResolveItem(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutItemUnavailable, key.SKU())
		}
		if item.Status != domain.CatalogItemPublished {
			return nil, fmt.Errorf("%w: %s is not published", ErrCheckoutItemUnavailable, key.SKU())
		}
		resolved[key.SKU()] = item

		if !item.TrackInventory {
			continue
		}
		ok, err := s.ledger.CheckAvailability(ctx, key, line.Quantity)
		if err != nil {
			if errors.Is(err, ErrLedgerStockNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, key.SKU())
			}
			return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, key.SKU())
		}
	}
	return resolved, nil
}

// resolveCustomer finds or creates the customer record. All branches are
// idempotent with respect to email.
func (s *checkoutService) resolveCustomer(ctx context.Context, cmd CheckoutCommand) (repositories.CustomerRecord, error) {
	now := s.now()

	if cmd.UserID != "" {
		record, err := s.customers.FindByUserID(ctx, cmd.UserID)
		switch {
		case err == nil:
			return s.refreshCustomerContact(ctx, record, cmd.Customer)
		case isStoreNotFound(err):
			// First order for this account.
		default:
			return repositories.CustomerRecord{}, s.translateStoreError(ctx, err)
		}
		record = repositories.CustomerRecord{
			ID:        s.newID(customerIDPrefix),
			UserID:    cmd.UserID,
			Email:     cmd.Customer.Email,
			FirstName: cmd.Customer.FirstName,
			LastName:  cmd.Customer.LastName,
			Phone:     cmd.Customer.Phone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.customers.Insert(ctx, record); err != nil {
			return repositories.CustomerRecord{}, s.translateStoreError(ctx, err)
		}
		return record, nil
	}

	record, err := s.customers.FindByEmail(ctx, cmd.Customer.Email)
	switch {
	case err == nil:
		return s.refreshCustomerContact(ctx, record, cmd.Customer)
	case isStoreNotFound(err):
		// New guest.
	default:
		return repositories.CustomerRecord{}, s.translateStoreError(ctx, err)
	}

	record = repositories.CustomerRecord{
		ID:        s.newID(customerIDPrefix),
		Email:     cmd.Customer.Email,
		FirstName: cmd.Customer.FirstName,
		LastName:  cmd.Customer.LastName,
		Phone:     cmd.Customer.Phone,
		IsGuest:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.customers.Insert(ctx, record); err != nil {
		return repositories.CustomerRecord{}, s.translateStoreError(ctx, err)
	}
	return record, nil
}

func (s *checkoutService) refreshCustomerContact(ctx context.Context, record repositories.CustomerRecord, input CustomerInput) (repositories.CustomerRecord, error) {
	changed := false
	update := func(dst *string, value string) {
		value = strings.TrimSpace(value)
		if value != "" && *dst != value {
			*dst = value
			changed = true
		}
	}
	update(&record.FirstName, input.FirstName)
	update(&record.LastName, input.LastName)
	update(&record.Phone, input.Phone)
	if !changed {
		return record, nil
	}
	record.UpdatedAt = s.now()
	if err := s.customers.Update(ctx, record); err != nil {
		return repositories.CustomerRecord{}, s.translateStoreError(ctx, err)
	}
	return record, nil
}

func (s *checkoutService) resolveAddress(ctx context.Context, customerID string, addrType domain.AddressType, input AddressInput) (domain.Address, error) {
	candidate := domain.Address{
		Type:       addrType,
		FirstName:  strings.TrimSpace(input.FirstName),
		LastName:   strings.TrimSpace(input.LastName),
		Company:    strings.TrimSpace(input.Company),
		Line1:      strings.TrimSpace(input.Line1),
		Line2:      strings.TrimSpace(input.Line2),
		City:       strings.TrimSpace(input.City),
		Region:     strings.TrimSpace(input.Region),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(input.Country)),
		Phone:      strings.TrimSpace(input.Phone),
	}

	existing, err := s.addresses.FindMatching(ctx, customerID, candidate)
	switch {
	case err == nil:
		existing.Type = addrType
		return existing, nil
	case isStoreNotFound(err):
		// Store a new address below.
	default:
		return domain.Address{}, s.translateStoreError(ctx, err)
	}

	candidate.ID = s.newID(addressIDPrefix)
	stored, err := s.addresses.Insert(ctx, customerID, candidate)
	if err != nil {
		return domain.Address{}, s.translateStoreError(ctx, err)
	}
	return stored, nil
}

func (s *checkoutService) buildDraftOrder(ctx context.Context, cmd CheckoutCommand, resolved map[string]domain.CatalogItem, customer repositories.CustomerRecord, billing, shipping domain.Address) (domain.Order, error) {
	now := s.now()
	orderNumber, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	totals := domain.ComputeTotals(cmd.Cart, s.pricing.TaxRate, s.pricing.TaxInclusive, s.pricing.ShippingFlatFee, cmd.Discount)

	order := domain.Order{
		ID:           s.newID(orderIDPrefix),
		OrderNumber:  orderNumber,
		CustomerID:   customer.ID,
		Status:       domain.OrderStatusDraft,
		Currency:     cmd.Cart.Currency,
		Subtotal:     totals.Subtotal,
		Tax:          totals.Tax,
		Shipping:     totals.Shipping,
		Discount:     totals.Discount,
		Total:        totals.Total,
		TaxRate:      s.pricing.TaxRate,
		TaxInclusive: s.pricing.TaxInclusive,
		CustomerDetails: domain.CustomerDetails{
			CustomerID: customer.ID,
			Email:      customer.Email,
			FirstName:  customer.FirstName,
			LastName:   customer.LastName,
			Phone:      customer.Phone,
		},
		BillingAddress:  billing,
		ShippingAddress: shipping,
		CartRef:         strings.TrimSpace(cmd.Cart.CartRef),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for i, line := range cmd.Cart.Lines {
		key := domain.ItemKey{ProductID: line.ProductID, VariantID: line.VariantID}
		item := resolved[key.SKU()]
		unitPrice := domain.Money{Amount: line.UnitPrice, Currency: order.Currency}
		order.Items = append(order.Items, domain.OrderItem{
			ID:                s.newID(orderItemIDPrefix),
			Item:              key,
			Name:              item.Name,
			SKU:               item.SKU,
			VariantAttributes: item.VariantAttributes,
			Quantity:          line.Quantity,
			UnitPrice:         unitPrice,
			LineTotal:         unitPrice.MulInt(line.Quantity),
			TaxAmount:         totals.LineTax[i],
		})
	}

	if cmd.UserID == "" {
		token, err := s.guestTokens.Mint(order.ID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: mint guest token: %v", ErrCheckoutUnavailable, err)
		}
		order.GuestToken = token
	}
	return order, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := fmt.Sprintf("%s-%d", orderCounterPrefix, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", s.translateStoreError(ctx, err)
	}
	return fmt.Sprintf("ORD-%d-%06d", now.Year(), seq), nil
}

// persistDraft commits the draft order, its creation history row, and the
// stock reservation entries in one transaction. The ledger rejects oversell
// inside the same transaction, so a concurrent checkout racing for the last
// unit fails cleanly with insufficient stock.
func (s *checkoutService) persistDraft(ctx context.Context, order *domain.Order, resolved map[string]domain.CatalogItem, notes string) error {
	reservations := make([]LedgerTransactionCommand, 0, len(order.Items))
	for _, item := range order.Items {
		catalogItem := resolved[item.Item.SKU()]
		if !catalogItem.TrackInventory {
			continue
		}
		reservations = append(reservations, LedgerTransactionCommand{
			Item:           item.Item,
			Type:           domain.LedgerEntryReservation,
			QuantityChange: -item.Quantity,
			OrderRef:       order.ID,
			Reference:      order.OrderNumber,
		})
	}
	order.ReservationHeld = len(reservations) > 0

	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		// Ledger reads must precede the order writes inside the transaction.
		if len(reservations) > 0 {
			if _, err := s.ledger.RecordEntries(txCtx, reservations); err != nil {
				return err
			}
		}
		if err := s.orders.Insert(txCtx, *order); err != nil {
			return err
		}
		return s.orders.AppendHistory(txCtx, domain.OrderStatusHistory{
			ID:         s.newID(historyIDPrefix),
			OrderID:    order.ID,
			ToStatus:   domain.OrderStatusDraft,
			Notes:      notes,
			OccurredAt: order.CreatedAt,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrLedgerInsufficientStock), errors.Is(err, ErrLedgerStockNotFound):
			return fmt.Errorf("%w: %v", ErrCheckoutInsufficientStock, err)
		case errors.Is(err, ErrLedgerUntracked):
			return fmt.Errorf("%w: %v", ErrCheckoutItemUnavailable, err)
		default:
			return s.translateStoreError(ctx, err)
		}
	}
	return nil
}

// requestPaymentIntent calls the gateway outside any transaction, then
// records the intent and moves the order to pending_payment.
func (s *checkoutService) requestPaymentIntent(ctx context.Context, order *domain.Order) (payments.Intent, error) {
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:        order.Total.Amount,
		Currency:      order.Currency,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerDetails.Email,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		IdempotencyKey: "intent-" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_intent_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return payments.Intent{}, fmt.Errorf("%w: order %s: %v", ErrCheckoutPaymentFailed, order.ID, err)
	}

	now := s.now()
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		current.GatewayPaymentIntentID = intent.ID
		current.PaymentStatus = domain.PaymentStatusPending
		history, err := transitionOrder(&current, domain.OrderStatusPendingPayment, "", "", now, s.newID)
		if err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return err
		}
		if err := s.orders.AppendHistory(txCtx, history); err != nil {
			return err
		}
		*order = current
		return nil
	})
	if err != nil {
		return payments.Intent{}, s.translateStoreError(ctx, err)
	}
	return intent, nil
}

func (s *checkoutService) publishEvent(ctx context.Context, order domain.Order, eventType string, from, to domain.OrderStatus, actor string) {
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
		s.logger(ctx, "checkout.notify_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) translateStoreError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCheckoutNotFound, err)
	}
	s.logger(ctx, "checkout.store_error", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func isStoreNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
