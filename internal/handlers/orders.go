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
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order read endpoints and lifecycle operations.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/guest/{token}", h.getByGuestToken)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/history", h.listHistory)
	r.Post("/{orderID}/transition", h.transitionStatus)
	r.Post("/{orderID}/fulfill", h.fulfillItems)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/complete", h.completeOrder)
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}

	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Status:     statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) getByGuestToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	token := strings.TrimSpace(chi.URLParam(r, "token"))
	order, err := h.orders.GetByGuestToken(ctx, token)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	rows, err := h.orders.ListHistory(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]historyRowPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, buildHistoryRow(row))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type transitionRequest struct {
	ToStatus       string `json:"to_status"`
	ExpectedStatus string `json:"expected_status,omitempty"`
	Actor          string `json:"actor,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:  orderID,
		ToStatus: domain.OrderStatus(strings.TrimSpace(req.ToStatus)),
		Actor:    strings.TrimSpace(req.Actor),
		Notes:    req.Notes,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected := domain.OrderStatus(raw)
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

type fulfillRequest struct {
	Quantities map[string]int64 `json:"quantities"`
	Actor      string           `json:"actor,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

func (h *OrderHandlers) fulfillItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req fulfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.FulfillItems(ctx, services.FulfillItemsCommand{
		OrderID:    orderID,
		Quantities: req.Quantities,
		Actor:      strings.TrimSpace(req.Actor),
		Notes:      req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		Actor:   strings.TrimSpace(req.Actor),
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderRefundFailed) {
			// Cancelled locally; the refund needs a retry. Surface both.
			httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "order cancelled but refund failed", http.StatusBadGateway).
				WithDetails(map[string]any{"order": buildOrderPayload(order)}))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

type completeRequest struct {
	Actor string `json:"actor,omitempty"`
}

func (h *OrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req completeRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CompleteOrder(ctx, orderID, strings.TrimSpace(req.Actor))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func writeOrdersUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "guest token is invalid", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLedgerInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
