package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const defaultLowStockThreshold = 5

// InventoryHandlers exposes the stock ledger to back-office tooling.
type InventoryHandlers struct {
	ledger            services.InventoryLedger
	lowStockThreshold int64
}

// InventoryOption customises the handler set.
type InventoryOption func(*InventoryHandlers)

// WithLowStockThreshold overrides the default threshold used when the
// low-stock listing is requested without an explicit one.
func WithLowStockThreshold(threshold int64) InventoryOption {
	return func(h *InventoryHandlers) {
		if threshold >= 0 {
			h.lowStockThreshold = threshold
		}
	}
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(ledger services.InventoryLedger, opts ...InventoryOption) *InventoryHandlers {
	h := &InventoryHandlers{
		ledger:            ledger,
		lowStockThreshold: defaultLowStockThreshold,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the inventory endpoints under the admin group.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/inventory/low-stock", h.listLowStock)
	r.Get("/inventory/{productID}/stock", h.getStock)
	r.Get("/inventory/{productID}/transactions", h.listTransactions)
	r.Put("/inventory/{productID}/stock", h.configureStock)
	r.Post("/inventory/{productID}/adjust", h.recordAdjustment)
}

type stockPayload struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	TrackInventory bool   `json:"track_inventory"`
	OnHand         int64  `json:"on_hand"`
}

type transactionPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	QuantityChange int64  `json:"quantity_change"`
	QuantityAfter  int64  `json:"quantity_after"`
	OrderRef       string `json:"order_ref,omitempty"`
	Reference      string `json:"reference,omitempty"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func itemFromRequest(r *http.Request) domain.ItemKey {
	return domain.ItemKey{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(r.URL.Query().Get("variant_id")),
	}
}

func (h *InventoryHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeLedgerUnavailable(ctx, w)
		return
	}

	level, err := h.ledger.EffectiveStock(ctx, itemFromRequest(r))
	if err != nil {
		writeLedgerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockPayload{
		ProductID:      level.Item.ProductID,
		VariantID:      level.Item.VariantID,
		TrackInventory: level.Tracked,
		OnHand:         level.OnHand,
	})
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeLedgerUnavailable(ctx, w)
		return
	}

	threshold := h.lowStockThreshold
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	page, err := h.ledger.ListLowStock(ctx, threshold, paginationFromQuery(r))
	if err != nil {
		writeLedgerError(ctx, w, err)
		return
	}

	items := make([]stockPayload, 0, len(page.Items))
	for _, stock := range page.Items {
		items = append(items, stockPayload{
			ProductID:      stock.Item.ProductID,
			VariantID:      stock.Item.VariantID,
			TrackInventory: stock.TrackInventory,
			OnHand:         stock.OnHand,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *InventoryHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeLedgerUnavailable(ctx, w)
		return
	}

	page, err := h.ledger.ListTransactions(ctx, itemFromRequest(r), paginationFromQuery(r))
	if err != nil {
		writeLedgerError(ctx, w, err)
		return
	}

	items := make([]transactionPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, transactionPayload{
			ID:             entry.ID,
			Type:           string(entry.Type),
			QuantityChange: entry.QuantityChange,
			QuantityAfter:  entry.QuantityAfter,
			OrderRef:       entry.OrderRef,
			Reference:      entry.Reference,
			Notes:          entry.Notes,
			CreatedAt:      formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"next_page_token": page.NextPageToken,
	})
}

type configureStockRequest struct {
	TrackInventory bool  `json:"track_inventory"`
	OnHand         int64 `json:"on_hand"`
}

func (h *InventoryHandlers) configureStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeLedgerUnavailable(ctx, w)
		return
	}

	var req configureStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	item := itemFromRequest(r)
	if err := h.ledger.ConfigureStock(ctx, services.ConfigureStockCommand{
		Item:           item,
		TrackInventory: req.TrackInventory,
		OnHand:         req.OnHand,
	}); err != nil {
		writeLedgerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockPayload{
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		TrackInventory: req.TrackInventory,
		OnHand:         req.OnHand,
	})
}

type adjustmentRequest struct {
	Type           string `json:"type"`
	QuantityChange int64  `json:"quantity_change"`
	Reference      string `json:"reference,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

func (h *InventoryHandlers) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeLedgerUnavailable(ctx, w)
		return
	}

	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	entryType := domain.LedgerEntryType(strings.TrimSpace(req.Type))
	switch entryType {
	case domain.LedgerEntryRestock, domain.LedgerEntryAdjustment, domain.LedgerEntryReturn:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "type must be restock, adjustment or return", http.StatusBadRequest))
		return
	}

	entry, err := h.ledger.RecordTransaction(ctx, services.LedgerTransactionCommand{
		Item:           itemFromRequest(r),
		Type:           entryType,
		QuantityChange: req.QuantityChange,
		Reference:      req.Reference,
		Notes:          req.Notes,
		// Manual corrections may drive on-hand below zero.
		AllowNegative: entryType == domain.LedgerEntryAdjustment,
	})
	if err != nil {
		writeLedgerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, transactionPayload{
		ID:             entry.ID,
		Type:           string(entry.Type),
		QuantityChange: entry.QuantityChange,
		QuantityAfter:  entry.QuantityAfter,
		OrderRef:       entry.OrderRef,
		Reference:      entry.Reference,
		Notes:          entry.Notes,
		CreatedAt:      formatTime(entry.CreatedAt),
	})
}

func paginationFromQuery(r *http.Request) domain.Pagination {
	pager := domain.Pagination{
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			pager.PageSize = size
		}
	}
	return pager
}

func writeLedgerUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "inventory ledger unavailable", http.StatusServiceUnavailable))
}

func writeLedgerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLedgerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLedgerStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "no stock record for item", http.StatusNotFound))
	case errors.Is(err, services.ErrLedgerUntracked):
		httpx.WriteError(ctx, w, httpx.NewError("untracked_item", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLedgerInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
