package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const ledgerEntryIDPrefix = "itx_"

var (
	// ErrLedgerInvalidInput indicates the caller supplied a malformed command.
	ErrLedgerInvalidInput = errors.New("ledger: invalid input")
	// ErrLedgerInsufficientStock indicates the entry would drive tracked stock below zero.
	ErrLedgerInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrLedgerStockNotFound indicates no stock record exists for the item.
	ErrLedgerStockNotFound = errors.New("ledger: stock not found")
	// ErrLedgerUntracked indicates the item does not track inventory.
	ErrLedgerUntracked = errors.New("ledger: item not tracked")
	// ErrLedgerUnavailable indicates the ledger store is currently unavailable.
	ErrLedgerUnavailable = errors.New("ledger: unavailable")
)

// LedgerServiceDeps wires the dependencies required by the inventory ledger.
type LedgerServiceDeps struct {
	Inventory repositories.InventoryRepository
	IDs       IDGenerator
	Clock     func() time.Time
	Logger    Logger
}

type ledgerService struct {
	inventory repositories.InventoryRepository
	newID     IDGenerator
	now       func() time.Time
	logger    Logger
}

// NewLedgerService constructs the InventoryLedger, validating required dependencies.
func NewLedgerService(deps LedgerServiceDeps) (InventoryLedger, error) {
	if deps.Inventory == nil {
		return nil, errors.New("ledger service: inventory repository is required")
	}
	newID := deps.IDs
	if newID == nil {
		newID = NewIDGenerator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &ledgerService{
		inventory: deps.Inventory,
		newID:     newID,
		now:       normaliseClock(deps.Clock),
		logger:    logger,
	}, nil
}

// RecordTransaction appends a single ledger entry.
func (s *ledgerService) RecordTransaction(ctx context.Context, cmd LedgerTransactionCommand) (domain.InventoryTransaction, error) {
	entries, err := s.RecordEntries(ctx, []LedgerTransactionCommand{cmd})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	return entries[0], nil
}

// RecordEntries appends a batch of ledger entries atomically. All entries
// commit or none do.
func (s *ledgerService) RecordEntries(ctx context.Context, cmds []LedgerTransactionCommand) ([]domain.InventoryTransaction, error) {
	if s == nil || s.inventory == nil {
		return nil, ErrLedgerUnavailable
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrLedgerInvalidInput)
	}

	req := repositories.LedgerAppendRequest{
		Entries: make([]repositories.LedgerEntry, 0, len(cmds)),
		Now:     s.now(),
	}
	for _, cmd := range cmds {
		if cmd.Item.SKU() == "" {
			return nil, fmt.Errorf("%w: item key is required", ErrLedgerInvalidInput)
		}
		if !domain.ValidLedgerEntryType(cmd.Type) {
			return nil, fmt.Errorf("%w: unknown entry type %q", ErrLedgerInvalidInput, cmd.Type)
		}
		if cmd.QuantityChange == 0 {
			return nil, fmt.Errorf("%w: quantity change must be non-zero", ErrLedgerInvalidInput)
		}
		req.Entries = append(req.Entries, repositories.LedgerEntry{
			ID:             s.newID(ledgerEntryIDPrefix),
			Item:           cmd.Item,
			Type:           cmd.Type,
			QuantityChange: cmd.QuantityChange,
			OrderRef:       strings.TrimSpace(cmd.OrderRef),
			Reference:      strings.TrimSpace(cmd.Reference),
			Notes:          strings.TrimSpace(cmd.Notes),
			AllowNegative:  cmd.AllowNegative,
		})
	}

	result, err := s.inventory.Append(ctx, req)
	if err != nil {
		return nil, s.translateLedgerError(ctx, err)
	}
	return result.Entries, nil
}

// EffectiveStock reports an item's stock level. A product-level key on a
// variant-bearing product sums the on-hand across its variants.
func (s *ledgerService) EffectiveStock(ctx context.Context, item domain.ItemKey) (StockLevel, error) {
	if s == nil || s.inventory == nil {
		return StockLevel{}, ErrLedgerUnavailable
	}
	if item.SKU() == "" {
		return StockLevel{}, fmt.Errorf("%w: item key is required", ErrLedgerInvalidInput)
	}

	stock, err := s.inventory.GetStock(ctx, item)
	if err == nil {
		return StockLevel{Item: item, Tracked: stock.TrackInventory, OnHand: stock.OnHand}, nil
	}
	translated := s.translateLedgerError(ctx, err)
	if !errors.Is(translated, ErrLedgerStockNotFound) || item.VariantID != "" {
		return StockLevel{}, translated
	}

	// No product-level record; aggregate the variants.
	variants, err := s.inventory.ListStockByProduct(ctx, item.ProductID)
	if err != nil {
		return StockLevel{}, s.translateLedgerError(ctx, err)
	}
	if len(variants) == 0 {
		return StockLevel{}, fmt.Errorf("%w: %s", ErrLedgerStockNotFound, item.SKU())
	}
	level := StockLevel{Item: item}
	for _, variant := range variants {
		if !variant.TrackInventory {
			continue
		}
		level.Tracked = true
		level.OnHand += variant.OnHand
	}
	return level, nil
}

// CheckAvailability reports whether the requested quantity can be taken.
// Untracked items are always available.
func (s *ledgerService) CheckAvailability(ctx context.Context, item domain.ItemKey, requestedQty int64) (bool, error) {
	if requestedQty <= 0 {
		return false, fmt.Errorf("%w: requested quantity must be positive", ErrLedgerInvalidInput)
	}
	level, err := s.EffectiveStock(ctx, item)
	if err != nil {
		return false, err
	}
	if !level.Tracked {
		return true, nil
	}
	return level.OnHand >= requestedQty, nil
}

// ConfigureStock seeds or replaces the item's stock configuration.
func (s *ledgerService) ConfigureStock(ctx context.Context, cmd ConfigureStockCommand) error {
	if s == nil || s.inventory == nil {
		return ErrLedgerUnavailable
	}
	if cmd.Item.SKU() == "" {
		return fmt.Errorf("%w: item key is required", ErrLedgerInvalidInput)
	}
	if cmd.OnHand < 0 {
		return fmt.Errorf("%w: on hand must be >= 0", ErrLedgerInvalidInput)
	}
	err := s.inventory.ConfigureStock(ctx, domain.StockItem{
		Item:           cmd.Item,
		TrackInventory: cmd.TrackInventory,
		OnHand:         cmd.OnHand,
		UpdatedAt:      s.now(),
	})
	if err != nil {
		return s.translateLedgerError(ctx, err)
	}
	return nil
}

// ListTransactions pages through an item's ledger history.
func (s *ledgerService) ListTransactions(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error) {
	if s == nil || s.inventory == nil {
		return domain.CursorPage[domain.InventoryTransaction]{}, ErrLedgerUnavailable
	}
	if item.SKU() == "" {
		return domain.CursorPage[domain.InventoryTransaction]{}, fmt.Errorf("%w: item key is required", ErrLedgerInvalidInput)
	}
	page, err := s.inventory.ListTransactions(ctx, item, pager)
	if err != nil {
		return domain.CursorPage[domain.InventoryTransaction]{}, s.translateLedgerError(ctx, err)
	}
	return page, nil
}

// ListLowStock pages through tracked items at or below the threshold.
func (s *ledgerService) ListLowStock(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error) {
	if s == nil || s.inventory == nil {
		return domain.CursorPage[domain.StockItem]{}, ErrLedgerUnavailable
	}
	if threshold < 0 {
		return domain.CursorPage[domain.StockItem]{}, fmt.Errorf("%w: threshold must be >= 0", ErrLedgerInvalidInput)
	}
	page, err := s.inventory.ListLowStock(ctx, threshold, pager)
	if err != nil {
		return domain.CursorPage[domain.StockItem]{}, s.translateLedgerError(ctx, err)
	}
	return page, nil
}

func (s *ledgerService) translateLedgerError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.LedgerErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrLedgerInsufficientStock, ledgerErr.Message)
		case repositories.LedgerErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrLedgerStockNotFound, ledgerErr.Message)
		case repositories.LedgerErrorUntracked:
			return fmt.Errorf("%w: %s", ErrLedgerUntracked, ledgerErr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrLedgerInvalidInput, ledgerErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return fmt.Errorf("%w: %v", ErrLedgerStockNotFound, err)
		}
	}
	s.logger(ctx, "ledger.store_error", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}
