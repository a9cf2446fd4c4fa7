package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/config"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/guesttoken"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/notify"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	fsrepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/services"
)

// Container wires the platform clients, repositories, services, and the HTTP
// router into a single runtime unit. Everything hangs off the shared Firestore
// provider, so Close tears the whole graph down in one call.
type Container struct {
	Config config.Config
	Logger *zap.Logger

	Checkout   services.CheckoutService
	Orders     services.OrderService
	Ledger     services.InventoryLedger
	Reconciler services.PaymentReconciler

	Handler http.Handler

	provider *pfirestore.Provider
	events   *pubsub.Client
}

// NewContainer assembles the production dependency graph from configuration.
// It fails fast on missing credentials rather than serving requests that can
// only error at runtime.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cfg.Stripe.APIKey == "":
		return nil, errors.New("di: stripe api key is required")
	case cfg.Stripe.WebhookSecret == "":
		return nil, errors.New("di: stripe webhook secret is required")
	case cfg.GuestToken.SigningSecret == "":
		return nil, errors.New("di: guest token signing secret is required")
	}

	provider, err := pfirestore.NewProvider(pfirestore.Config{
		ProjectID:    cfg.Firestore.ProjectID,
		DatabaseID:   cfg.Firestore.DatabaseID,
		EmulatorHost: cfg.Firestore.EmulatorHost,
	})
	if err != nil {
		return nil, fmt.Errorf("di: firestore provider: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		provider: provider,
	}

	if err := c.build(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.Config

	uow, err := pfirestore.NewUnitOfWork(c.provider, pfirestore.WithTxTimeout(cfg.Firestore.TxTimeout))
	if err != nil {
		return fmt.Errorf("di: unit of work: %w", err)
	}

	orders, err := fsrepo.NewOrderRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: order repository: %w", err)
	}
	customers, err := fsrepo.NewCustomerRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: customer repository: %w", err)
	}
	addresses, err := fsrepo.NewAddressRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: address repository: %w", err)
	}
	counters, err := fsrepo.NewCounterRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: counter repository: %w", err)
	}
	inventory, err := fsrepo.NewInventoryRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: inventory repository: %w", err)
	}
	processed, err := fsrepo.NewProcessedEventRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: processed event repository: %w", err)
	}
	catalog, err := fsrepo.NewCatalogRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: catalog repository: %w", err)
	}
	carts, err := fsrepo.NewCartRepository(c.provider)
	if err != nil {
		return fmt.Errorf("di: cart repository: %w", err)
	}

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey: cfg.Stripe.APIKey,
		Logger: payments.StripeLogger(serviceLogger(c.Logger)),
	})
	if err != nil {
		return fmt.Errorf("di: stripe gateway: %w", err)
	}
	verifier, err := payments.NewWebhookVerifier(cfg.Stripe.WebhookSecret)
	if err != nil {
		return fmt.Errorf("di: webhook verifier: %w", err)
	}
	minter, err := guesttoken.NewMinter(cfg.GuestToken.SigningSecret, cfg.GuestToken.TTL, time.Now)
	if err != nil {
		return fmt.Errorf("di: guest token minter: %w", err)
	}

	var notifier services.Notifier
	if cfg.Events.Enabled && cfg.Events.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return fmt.Errorf("di: pubsub client: %w", err)
		}
		c.events = client
		publisher, err := notify.NewPubSubPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			return fmt.Errorf("di: event publisher: %w", err)
		}
		notifier = publisher
	}

	ids := services.NewIDGenerator()
	logFn := serviceLogger(c.Logger)

	ledger, err := services.NewLedgerService(services.LedgerServiceDeps{
		Inventory: inventory,
		IDs:       ids,
		Clock:     time.Now,
		Logger:    logFn,
	})
	if err != nil {
		return fmt.Errorf("di: ledger service: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		UnitOfWork:  uow,
		Orders:      orders,
		Customers:   customers,
		Addresses:   addresses,
		Counters:    counters,
		Ledger:      ledger,
		Catalog:     catalog,
		Gateway:     gateway,
		GuestTokens: minter,
		Notifier:    notifier,
		Pricing: services.PricingConfig{
			Currency:        cfg.Pricing.Currency,
			TaxRate:         cfg.Pricing.TaxRate,
			TaxInclusive:    cfg.Pricing.TaxInclusive,
			ShippingFlatFee: cfg.Pricing.ShippingFlatFee,
		},
		IDs:    ids,
		Clock:  time.Now,
		Logger: logFn,
	})
	if err != nil {
		return fmt.Errorf("di: checkout service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		UnitOfWork:  uow,
		Orders:      orders,
		Ledger:      ledger,
		Gateway:     gateway,
		GuestTokens: minter,
		Notifier:    notifier,
		IDs:         ids,
		Clock:       time.Now,
		Logger:      logFn,
	})
	if err != nil {
		return fmt.Errorf("di: order service: %w", err)
	}

	reconciler, err := services.NewReconcileService(services.ReconcileServiceDeps{
		UnitOfWork:      uow,
		Orders:          orders,
		ProcessedEvents: processed,
		Ledger:          ledger,
		Carts:           carts,
		Notifier:        notifier,
		IDs:             ids,
		Clock:           time.Now,
		Logger:          logFn,
	})
	if err != nil {
		return fmt.Errorf("di: reconcile service: %w", err)
	}

	fsClient, err := c.provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("di: firestore client: %w", err)
	}
	checkoutGuard := idempotency.Middleware(
		idempotency.NewFirestoreStore(fsClient, idempotency.WithCollection(c.Config.Idempotency.Collection)),
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(c.Logger.Named("idempotency"))),
	)

	c.Ledger = ledger
	c.Checkout = checkout
	c.Orders = orderSvc
	c.Reconciler = reconciler
	c.Handler = c.buildRouter(verifier, checkoutGuard)
	return nil
}

func (c *Container) buildRouter(verifier *payments.WebhookVerifier, checkoutGuard func(http.Handler) http.Handler) http.Handler {
	health := handlers.NewHealthHandlers(map[string]handlers.ReadinessCheck{
		"firestore": func(ctx context.Context) error {
			_, err := c.provider.Client(ctx)
			return err
		},
	})

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.Logger),
			observability.TraceMiddleware(c.Config.Firestore.ProjectID),
			observability.MetricsMiddleware(),
			observability.RecoveryMiddleware(c.Logger),
			observability.RequestLoggerMiddleware(c.Config.Firestore.ProjectID),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(c.Checkout).Routes),
		handlers.WithCheckoutMiddlewares(checkoutGuard),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(c.Orders).Routes),
		handlers.WithAdminRoutes(handlers.NewInventoryHandlers(
			c.Ledger,
			handlers.WithLowStockThreshold(c.Config.Inventory.LowStockThreshold),
		).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(verifier, c.Reconciler).Routes),
	)
}

// Close releases the Firestore client and the Pub/Sub connection. Safe to call
// on a partially built container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// serviceLogger adapts the zap logger to the structured event callback the
// services accept, preferring the request-scoped logger when the context
// carries one.
func serviceLogger(base *zap.Logger) services.Logger {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zfields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		logger.Info(event, zfields...)
	}
}
