package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func newTestLedger(t *testing.T, inv *memInventory) InventoryLedger {
	t.Helper()
	ledger, err := NewLedgerService(LedgerServiceDeps{
		Inventory: inv,
		Clock:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewLedgerService: %v", err)
	}
	return ledger
}

func TestLedgerRunningSum(t *testing.T) {
	inv := newMemInventory()
	item := domain.ItemKey{ProductID: "prod-1"}
	inv.seed(item, true, 0)
	ledger := newTestLedger(t, inv)
	ctx := context.Background()

	moves := []struct {
		entryType domain.LedgerEntryType
		change    int64
		allowNeg  bool
	}{
		{domain.LedgerEntryRestock, 10, false},
		{domain.LedgerEntrySale, -3, false},
		{domain.LedgerEntryReturn, 2, false},
		{domain.LedgerEntryAdjustment, -1, true},
	}
	var running int64
	for _, move := range moves {
		entry, err := ledger.RecordTransaction(ctx, LedgerTransactionCommand{
			Item:           item,
			Type:           move.entryType,
			QuantityChange: move.change,
			AllowNegative:  move.allowNeg,
		})
		if err != nil {
			t.Fatalf("RecordTransaction(%s): %v", move.entryType, err)
		}
		running += move.change
		if entry.QuantityAfter != running {
			t.Fatalf("QuantityAfter = %d, want %d", entry.QuantityAfter, running)
		}
	}

	level, err := ledger.EffectiveStock(ctx, item)
	if err != nil {
		t.Fatalf("EffectiveStock: %v", err)
	}
	if !level.Tracked || level.OnHand != running {
		t.Fatalf("EffectiveStock = %+v, want tracked on-hand %d", level, running)
	}

	// Replaying every change from zero reproduces the on-hand value.
	var replayed int64
	for _, entry := range inv.entriesFor(item) {
		replayed += entry.QuantityChange
	}
	if replayed != level.OnHand {
		t.Fatalf("replayed sum = %d, want %d", replayed, level.OnHand)
	}
}

func TestLedgerRejectsOversell(t *testing.T) {
	inv := newMemInventory()
	item := domain.ItemKey{ProductID: "prod-1", VariantID: "var-1"}
	inv.seed(item, true, 2)
	ledger := newTestLedger(t, inv)

	_, err := ledger.RecordTransaction(context.Background(), LedgerTransactionCommand{
		Item:           item,
		Type:           domain.LedgerEntrySale,
		QuantityChange: -3,
	})
	if !errors.Is(err, ErrLedgerInsufficientStock) {
		t.Fatalf("err = %v, want ErrLedgerInsufficientStock", err)
	}

	level, err := ledger.EffectiveStock(context.Background(), item)
	if err != nil {
		t.Fatalf("EffectiveStock: %v", err)
	}
	if level.OnHand != 2 {
		t.Fatalf("on-hand = %d after rejected entry, want 2", level.OnHand)
	}
	if entries := inv.entriesFor(item); len(entries) != 0 {
		t.Fatalf("ledger has %d entries after rejected append, want 0", len(entries))
	}
}

func TestLedgerBatchIsAtomic(t *testing.T) {
	inv := newMemInventory()
	a := domain.ItemKey{ProductID: "prod-a"}
	b := domain.ItemKey{ProductID: "prod-b"}
	inv.seed(a, true, 5)
	inv.seed(b, true, 1)
	ledger := newTestLedger(t, inv)

	_, err := ledger.RecordEntries(context.Background(), []LedgerTransactionCommand{
		{Item: a, Type: domain.LedgerEntrySale, QuantityChange: -2},
		{Item: b, Type: domain.LedgerEntrySale, QuantityChange: -2},
	})
	if !errors.Is(err, ErrLedgerInsufficientStock) {
		t.Fatalf("err = %v, want ErrLedgerInsufficientStock", err)
	}
	levelA, _ := ledger.EffectiveStock(context.Background(), a)
	if levelA.OnHand != 5 {
		t.Fatalf("item a on-hand = %d after failed batch, want 5", levelA.OnHand)
	}
}

func TestLedgerUntrackedItem(t *testing.T) {
	inv := newMemInventory()
	item := domain.ItemKey{ProductID: "prod-soft"}
	inv.seed(item, false, 0)
	ledger := newTestLedger(t, inv)
	ctx := context.Background()

	level, err := ledger.EffectiveStock(ctx, item)
	if err != nil {
		t.Fatalf("EffectiveStock: %v", err)
	}
	if level.Tracked {
		t.Fatal("untracked item reported as tracked")
	}

	ok, err := ledger.CheckAvailability(ctx, item, 1000)
	if err != nil || !ok {
		t.Fatalf("CheckAvailability = %v, %v; want available", ok, err)
	}

	_, err = ledger.RecordTransaction(ctx, LedgerTransactionCommand{
		Item:           item,
		Type:           domain.LedgerEntrySale,
		QuantityChange: -1,
	})
	if !errors.Is(err, ErrLedgerUntracked) {
		t.Fatalf("err = %v, want ErrLedgerUntracked", err)
	}
}

func TestLedgerEffectiveStockSumsVariants(t *testing.T) {
	inv := newMemInventory()
	inv.seed(domain.ItemKey{ProductID: "prod-1", VariantID: "s"}, true, 3)
	inv.seed(domain.ItemKey{ProductID: "prod-1", VariantID: "m"}, true, 4)
	inv.seed(domain.ItemKey{ProductID: "prod-1", VariantID: "l"}, false, 99)
	ledger := newTestLedger(t, inv)

	level, err := ledger.EffectiveStock(context.Background(), domain.ItemKey{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("EffectiveStock: %v", err)
	}
	if !level.Tracked || level.OnHand != 7 {
		t.Fatalf("EffectiveStock = %+v, want tracked 7 (untracked variant excluded)", level)
	}
}

func TestLedgerCheckAvailability(t *testing.T) {
	inv := newMemInventory()
	item := domain.ItemKey{ProductID: "prod-1"}
	inv.seed(item, true, 5)
	ledger := newTestLedger(t, inv)
	ctx := context.Background()

	ok, err := ledger.CheckAvailability(ctx, item, 5)
	if err != nil || !ok {
		t.Fatalf("CheckAvailability(5) = %v, %v; want available", ok, err)
	}
	ok, err = ledger.CheckAvailability(ctx, item, 6)
	if err != nil || ok {
		t.Fatalf("CheckAvailability(6) = %v, %v; want unavailable", ok, err)
	}
	if _, err := ledger.CheckAvailability(ctx, item, 0); !errors.Is(err, ErrLedgerInvalidInput) {
		t.Fatalf("CheckAvailability(0) err = %v, want ErrLedgerInvalidInput", err)
	}
}

func TestLedgerStockNotFound(t *testing.T) {
	ledger := newTestLedger(t, newMemInventory())
	_, err := ledger.EffectiveStock(context.Background(), domain.ItemKey{ProductID: "ghost"})
	if !errors.Is(err, ErrLedgerStockNotFound) {
		t.Fatalf("err = %v, want ErrLedgerStockNotFound", err)
	}
}
