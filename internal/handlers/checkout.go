package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

// CheckoutHandlers exposes the checkout saga over HTTP.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.checkoutOrder)
	r.Post("/{orderID}/retry-payment", h.retryPayment)
}

type checkoutCartLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type checkoutAddress struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type checkoutRequest struct {
	CartRef  string             `json:"cart_ref,omitempty"`
	Currency string             `json:"currency,omitempty"`
	Lines    []checkoutCartLine `json:"lines"`

	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`

	BillingAddress  checkoutAddress  `json:"billing_address"`
	ShippingAddress *checkoutAddress `json:"shipping_address,omitempty"`

	UserID   string `json:"user_id,omitempty"`
	Discount int64  `json:"discount,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type checkoutResponse struct {
	Order        orderPayload `json:"order"`
	GuestToken   string       `json:"guest_token,omitempty"`
	IntentID     string       `json:"payment_intent_id,omitempty"`
	ClientSecret string       `json:"client_secret,omitempty"`
}

func (h *CheckoutHandlers) checkoutOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.CartLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	shipping := req.BillingAddress
	if req.ShippingAddress != nil {
		shipping = *req.ShippingAddress
	}

	cmd := services.CheckoutCommand{
		Cart: domain.CartSnapshot{
			CartRef:  strings.TrimSpace(req.CartRef),
			Currency: req.Currency,
			Lines:    lines,
		},
		Customer: services.CustomerInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
		},
		BillingAddress:  toAddressInput(req.BillingAddress),
		ShippingAddress: toAddressInput(shipping),
		UserID:          strings.TrimSpace(req.UserID),
		Discount:        req.Discount,
		Notes:           req.Notes,
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil && !errors.Is(err, services.ErrCheckoutPaymentFailed) {
		writeCheckoutError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if errors.Is(err, services.ErrCheckoutPaymentFailed) {
		// The draft persisted; the client retries the payment step.
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, checkoutResponse{
		Order:        buildOrderPayload(result.Order),
		GuestToken:   result.GuestToken,
		IntentID:     result.IntentID,
		ClientSecret: result.ClientSecret,
	})
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.RetryPaymentIntent(ctx, orderID)
	if err != nil && !errors.Is(err, services.ErrCheckoutPaymentFailed) {
		writeCheckoutError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if errors.Is(err, services.ErrCheckoutPaymentFailed) {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, checkoutResponse{
		Order:        buildOrderPayload(result.Order),
		GuestToken:   result.GuestToken,
		IntentID:     result.IntentID,
		ClientSecret: result.ClientSecret,
	})
}

func toAddressInput(addr checkoutAddress) services.AddressInput {
	return services.AddressInput{
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Company:    addr.Company,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutItemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutNotRetryable):
		httpx.WriteError(ctx, w, httpx.NewError("not_retryable", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}
