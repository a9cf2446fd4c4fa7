package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultCurrency         = "USD"
	defaultTaxRate          = 0.0
	defaultShippingFlatFee  = 0
	defaultGuestTokenTTL    = 30 * 24 * time.Hour
	defaultLowStockLevel    = 5
	defaultEventTopic       = "order-events"
	defaultPaymentTxTimeout = 15 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Stripe      StripeConfig
	Pricing     PricingConfig
	Inventory   InventoryConfig
	GuestToken  GuestTokenConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
	TxTimeout    time.Duration
}

// StripeConfig collects payment gateway credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// PricingConfig holds the store-wide pricing policy applied at checkout.
type PricingConfig struct {
	Currency        string
	TaxRate         float64
	TaxInclusive    bool
	ShippingFlatFee int64
}

// InventoryConfig tunes stock tracking behaviour.
type InventoryConfig struct {
	LowStockThreshold int64
}

// GuestTokenConfig controls guest order access tokens.
type GuestTokenConfig struct {
	SigningSecret string
	TTL           time.Duration
}

// EventsConfig names the Pub/Sub destination for order lifecycle events.
type EventsConfig struct {
	ProjectID string
	Topic     string
	Enabled   bool
}

// IdempotencyConfig tunes the Idempotency-Key guard on checkout requests.
type IdempotencyConfig struct {
	Header     string
	Collection string
	TTL        time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   stringWithDefault(lookup, "ORDERS_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
			TxTimeout:    durationWithDefault(lookup, "ORDERS_FIRESTORE_TX_TIMEOUT", defaultPaymentTxTimeout),
		},
		Stripe: StripeConfig{
			APIKey:        stringWithDefault(lookup, "ORDERS_STRIPE_API_KEY", ""),
			WebhookSecret: stringWithDefault(lookup, "ORDERS_STRIPE_WEBHOOK_SECRET", ""),
		},
		Pricing: PricingConfig{
			Currency:        strings.ToUpper(stringWithDefault(lookup, "ORDERS_PRICING_CURRENCY", defaultCurrency)),
			TaxRate:         floatWithDefault(lookup, "ORDERS_PRICING_TAX_RATE", defaultTaxRate),
			TaxInclusive:    boolWithDefault(lookup, "ORDERS_PRICING_TAX_INCLUSIVE", false),
			ShippingFlatFee: int64WithDefault(lookup, "ORDERS_PRICING_SHIPPING_FLAT_FEE", defaultShippingFlatFee),
		},
		Inventory: InventoryConfig{
			LowStockThreshold: int64WithDefault(lookup, "ORDERS_INVENTORY_LOW_STOCK_THRESHOLD", defaultLowStockLevel),
		},
		GuestToken: GuestTokenConfig{
			SigningSecret: stringWithDefault(lookup, "ORDERS_GUEST_TOKEN_SECRET", ""),
			TTL:           durationWithDefault(lookup, "ORDERS_GUEST_TOKEN_TTL", defaultGuestTokenTTL),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "ORDERS_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "ORDERS_EVENTS_TOPIC", defaultEventTopic),
			Enabled:   boolWithDefault(lookup, "ORDERS_EVENTS_ENABLED", true),
		},
		Idempotency: IdempotencyConfig{
			Header:     stringWithDefault(lookup, "ORDERS_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			Collection: stringWithDefault(lookup, "ORDERS_IDEMPOTENCY_COLLECTION", "checkout_idempotency"),
			TTL:        durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	// Events publishing shares the Firestore project unless overridden.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []*string{
		&cfg.Stripe.APIKey,
		&cfg.Stripe.WebhookSecret,
		&cfg.GuestToken.SigningSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Pricing.Currency == "" {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.TaxRate < 0 || cfg.Pricing.TaxRate >= 1 {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Pricing.ShippingFlatFee < 0 {
		missing = append(missing, "Pricing.ShippingFlatFee")
	}
	if cfg.GuestToken.TTL <= 0 {
		missing = append(missing, "GuestToken.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
