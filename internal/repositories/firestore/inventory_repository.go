package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	stockCollection     = "stock"
	ledgerSubcollection = "ledger"
)

// InventoryRepository implements repositories.InventoryRepository on top of a
// stock projection document per item and an append-only ledger subcollection.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

// Append atomically persists the requested ledger entries and updates each
// item's on-hand projection. All stock documents are read before any write so
// the operation composes inside an enclosing transaction.
func (r *InventoryRepository) Append(ctx context.Context, req repositories.LedgerAppendRequest) (repositories.LedgerAppendResult, error) {
	if r == nil || r.provider == nil {
		return repositories.LedgerAppendResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Entries) == 0 {
		return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "ledger append: at least one entry is required", nil)
	}
	for _, entry := range req.Entries {
		if entry.ID == "" {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "ledger append: entry id is required", nil)
		}
		if entry.Item.SKU() == "" {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "ledger append: item key is required", nil)
		}
		if !domain.ValidLedgerEntryType(entry.Type) {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, fmt.Sprintf("ledger append: unknown entry type %q", entry.Type), nil)
		}
		if entry.QuantityChange == 0 {
			return repositories.LedgerAppendResult{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "ledger append: quantity change must be non-zero", nil)
		}
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.LedgerAppendResult{}, wrapLedgerError("ledger.append", err)
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.LedgerAppendResult
	err = pfirestore.RunTransaction(ctx, client, func(txCtx context.Context) error {
		// Firestore requires all reads before the first write, so load
		// every touched stock document up front.
		docs := make(map[string]*stockDocument)
		for _, entry := range req.Entries {
			sku := entry.Item.SKU()
			if _, loaded := docs[sku]; loaded {
				continue
			}
			ref := client.Collection(stockCollection).Doc(sku)
			snap, err := pfirestore.GetDoc(txCtx, ref)
			if err != nil {
				if pfirestore.IsNotFound(err) {
					return repositories.NewLedgerError(repositories.LedgerErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", sku, err)
			}
			docs[sku] = &doc
		}

		result = repositories.LedgerAppendResult{
			Entries: make([]domain.InventoryTransaction, 0, len(req.Entries)),
			Stocks:  make(map[string]domain.StockItem, len(docs)),
		}

		for _, entry := range req.Entries {
			sku := entry.Item.SKU()
			doc := docs[sku]
			if !doc.TrackInventory {
				return repositories.NewLedgerError(repositories.LedgerErrorUntracked, fmt.Sprintf("stock %s does not track inventory", sku), nil)
			}

			after := doc.OnHand + entry.QuantityChange
			if after < 0 && !entry.AllowNegative {
				return repositories.NewLedgerError(repositories.LedgerErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s: on hand %d, requested %d", sku, doc.OnHand, -entry.QuantityChange), nil)
			}
			doc.OnHand = after
			doc.UpdatedAt = now

			ledgerRef := client.Collection(stockCollection).Doc(sku).Collection(ledgerSubcollection).Doc(entry.ID)
			ledgerDoc := ledgerDocument{
				Type:           string(entry.Type),
				QuantityChange: entry.QuantityChange,
				QuantityAfter:  after,
				OrderRef:       strings.TrimSpace(entry.OrderRef),
				Reference:      strings.TrimSpace(entry.Reference),
				Notes:          strings.TrimSpace(entry.Notes),
				CreatedAt:      now,
			}
			if err := pfirestore.CreateDoc(txCtx, ledgerRef, ledgerDoc); err != nil {
				return err
			}

			result.Entries = append(result.Entries, ledgerDoc.toDomain(entry.ID, entry.Item))
		}

		for sku, doc := range docs {
			ref := client.Collection(stockCollection).Doc(sku)
			if err := pfirestore.SetDoc(txCtx, ref, *doc); err != nil {
				return err
			}
			result.Stocks[sku] = doc.toDomain()
		}
		return nil
	})
	if err != nil {
		return repositories.LedgerAppendResult{}, wrapLedgerError("ledger.append", err)
	}
	return result, nil
}

// GetStock returns the on-hand projection for a single item.
func (r *InventoryRepository) GetStock(ctx context.Context, item domain.ItemKey) (domain.StockItem, error) {
	if r == nil || r.provider == nil {
		return domain.StockItem{}, errors.New("inventory repository not initialised")
	}
	sku := item.SKU()
	if sku == "" {
		return domain.StockItem{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "stock get: item key is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.StockItem{}, wrapLedgerError("stock.get", err)
	}

	snap, err := pfirestore.GetDoc(ctx, client.Collection(stockCollection).Doc(sku))
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.StockItem{}, repositories.NewLedgerError(repositories.LedgerErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
		}
		return domain.StockItem{}, wrapLedgerError("stock.get", err)
	}

	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.StockItem{}, fmt.Errorf("decode stock %s: %w", sku, err)
	}
	return doc.toDomain(), nil
}

// ListStockByProduct returns the stock rows for every variant of a product.
func (r *InventoryRepository) ListStockByProduct(ctx context.Context, productID string) ([]domain.StockItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "stock list: product id is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapLedgerError("stock.listByProduct", err)
	}

	query := client.Collection(stockCollection).Query.
		Where("productId", "==", productID).
		OrderBy("sku", firestore.Asc)

	docs, err := pfirestore.DecodeAll("stock.listByProduct", pfirestore.Docs(ctx, query), decodeStockSnapshot)
	if err != nil {
		return nil, wrapLedgerError("stock.listByProduct", err)
	}
	return docs, nil
}

// ListTransactions pages through an item's ledger, newest first.
func (r *InventoryRepository) ListTransactions(ctx context.Context, item domain.ItemKey, pager domain.Pagination) (domain.CursorPage[domain.InventoryTransaction], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.InventoryTransaction]{}, errors.New("inventory repository not initialised")
	}
	sku := item.SKU()
	if sku == "" {
		return domain.CursorPage[domain.InventoryTransaction]{}, repositories.NewLedgerError(repositories.LedgerErrorUnknown, "ledger list: item key is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.InventoryTransaction]{}, wrapLedgerError("ledger.list", err)
	}

	pageSize := normalisePageSize(pager.PageSize)
	query := client.Collection(stockCollection).Doc(sku).Collection(ledgerSubcollection).Query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodePageToken(token)
		if err != nil {
			return domain.CursorPage[domain.InventoryTransaction]{}, wrapLedgerError("ledger.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	entries, err := pfirestore.DecodeAll("ledger.list", pfirestore.Docs(ctx, query), func(snap *firestore.DocumentSnapshot) (domain.InventoryTransaction, error) {
		var doc ledgerDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.InventoryTransaction{}, fmt.Errorf("decode ledger entry %s: %w", snap.Ref.ID, err)
		}
		return doc.toDomain(snap.Ref.ID, item), nil
	})
	if err != nil {
		return domain.CursorPage[domain.InventoryTransaction]{}, wrapLedgerError("ledger.list", err)
	}

	page := domain.CursorPage[domain.InventoryTransaction]{Items: entries}
	if len(entries) > pageSize {
		page.Items = entries[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := encodePageToken(pageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.InventoryTransaction]{}, wrapLedgerError("ledger.list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ListLowStock pages through tracked items at or below the threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, threshold int64, pager domain.Pagination) (domain.CursorPage[domain.StockItem], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockItem]{}, errors.New("inventory repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockItem]{}, wrapLedgerError("stock.lowStock", err)
	}

	pageSize := normalisePageSize(pager.PageSize)
	query := client.Collection(stockCollection).Query.
		Where("trackInventory", "==", true).
		Where("onHand", "<=", threshold).
		OrderBy("onHand", firestore.Asc).
		OrderBy("sku", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodePageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockItem]{}, wrapLedgerError("stock.lowStock", err)
		}
		query = query.StartAfter(decoded.OnHand, decoded.ID)
	}

	stocks, err := pfirestore.DecodeAll("stock.lowStock", pfirestore.Docs(ctx, query), decodeStockSnapshot)
	if err != nil {
		return domain.CursorPage[domain.StockItem]{}, wrapLedgerError("stock.lowStock", err)
	}

	page := domain.CursorPage[domain.StockItem]{Items: stocks}
	if len(stocks) > pageSize {
		page.Items = stocks[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := encodePageToken(pageToken{ID: last.Item.SKU(), OnHand: last.OnHand})
		if err != nil {
			return domain.CursorPage[domain.StockItem]{}, wrapLedgerError("stock.lowStock", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ConfigureStock creates or replaces the stock projection for an item. Seeding
// on-hand this way bypasses the ledger, so it is reserved for initial setup;
// ongoing corrections go through Append with an adjustment entry.
func (r *InventoryRepository) ConfigureStock(ctx context.Context, stock domain.StockItem) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	sku := stock.Item.SKU()
	if sku == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorUnknown, "stock configure: item key is required", nil)
	}
	if stock.OnHand < 0 {
		return repositories.NewLedgerError(repositories.LedgerErrorUnknown, "stock configure: on hand must be >= 0", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapLedgerError("stock.configure", err)
	}

	updatedAt := stock.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	doc := stockDocument{
		SKU:            sku,
		ProductID:      stock.Item.ProductID,
		VariantID:      stock.Item.VariantID,
		TrackInventory: stock.TrackInventory,
		OnHand:         stock.OnHand,
		UpdatedAt:      updatedAt,
	}
	if err := pfirestore.SetDoc(ctx, client.Collection(stockCollection).Doc(sku), doc); err != nil {
		return wrapLedgerError("stock.configure", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	SKU            string    `firestore:"sku"`
	ProductID      string    `firestore:"productId"`
	VariantID      string    `firestore:"variantId,omitempty"`
	TrackInventory bool      `firestore:"trackInventory"`
	OnHand         int64     `firestore:"onHand"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain() domain.StockItem {
	return domain.StockItem{
		Item:           domain.ItemKey{ProductID: s.ProductID, VariantID: s.VariantID},
		TrackInventory: s.TrackInventory,
		OnHand:         s.OnHand,
		UpdatedAt:      s.UpdatedAt,
	}
}

func decodeStockSnapshot(snap *firestore.DocumentSnapshot) (domain.StockItem, error) {
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.StockItem{}, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(), nil
}

type ledgerDocument struct {
	Type           string    `firestore:"type"`
	QuantityChange int64     `firestore:"qtyChange"`
	QuantityAfter  int64     `firestore:"qtyAfter"`
	OrderRef       string    `firestore:"orderRef,omitempty"`
	Reference      string    `firestore:"reference,omitempty"`
	Notes          string    `firestore:"notes,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func (d ledgerDocument) toDomain(id string, item domain.ItemKey) domain.InventoryTransaction {
	return domain.InventoryTransaction{
		ID:             id,
		Item:           item,
		Type:           domain.LedgerEntryType(d.Type),
		QuantityChange: d.QuantityChange,
		QuantityAfter:  d.QuantityAfter,
		OrderRef:       d.OrderRef,
		Reference:      d.Reference,
		Notes:          d.Notes,
		CreatedAt:      d.CreatedAt,
	}
}

type pageToken struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	OnHand    int64     `json:"onHand,omitempty"`
}

func encodePageToken(token pageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodePageToken(encoded string) (pageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return pageToken{}, fmt.Errorf("decode page token: %w", err)
	}
	var token pageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return pageToken{}, fmt.Errorf("decode page token json: %w", err)
	}
	return token, nil
}

func normalisePageSize(size int) int {
	if size <= 0 {
		return 50
	}
	if size > 200 {
		return 200
	}
	return size
}

func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	return pfirestore.WrapError(op, err)
}
