package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

const checkoutBody = `{
	"currency": "EUR",
	"lines": [{"product_id": "prod-1", "quantity": 2, "unit_price": 1000}],
	"email": "alice@example.com",
	"billing_address": {"line1": "1 Harbour St", "city": "Bristol", "postal_code": "BS1 4ST", "country": "GB"}
}`

func TestCheckoutEndpointCreatesOrder(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &fakeCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{
				Order: domain.Order{
					ID:          "ord_1",
					OrderNumber: "ORD-2026-000001",
					Status:      domain.OrderStatusPendingPayment,
					Currency:    "EUR",
				},
				GuestToken:   "guest-token",
				IntentID:     "pi_1",
				ClientSecret: "secret_1",
			}, nil
		},
	}
	h := NewCheckoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(checkoutBody))
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
		GuestToken   string `json:"guest_token"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "pending_payment" {
		t.Errorf("order payload = %+v", resp.Order)
	}
	if resp.GuestToken != "guest-token" || resp.ClientSecret != "secret_1" {
		t.Errorf("payment fields = %+v", resp)
	}

	if len(captured.Cart.Lines) != 1 || captured.Cart.Lines[0].ProductID != "prod-1" {
		t.Errorf("cart lines = %+v", captured.Cart.Lines)
	}
	if captured.Customer.Email != "alice@example.com" {
		t.Errorf("email = %q", captured.Customer.Email)
	}
	// Shipping defaults to the billing address when omitted.
	if captured.ShippingAddress.Line1 != "1 Harbour St" {
		t.Errorf("shipping line1 = %q", captured.ShippingAddress.Line1)
	}
}

func TestCheckoutEndpointPaymentFailureReturnsAccepted(t *testing.T) {
	svc := &fakeCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusDraft},
			}, fmt.Errorf("%w: gateway timeout", services.ErrCheckoutPaymentFailed)
		},
	}
	h := NewCheckoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(checkoutBody))
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"draft"`) {
		t.Errorf("body should carry the draft order: %s", rec.Body.String())
	}
}

func TestCheckoutEndpointInsufficientStock(t *testing.T) {
	svc := &fakeCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: prod-1", services.ErrCheckoutInsufficientStock)
		},
	}
	h := NewCheckoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(checkoutBody))
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "insufficient_stock") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCheckoutEndpointRejectsBadJSON(t *testing.T) {
	h := NewCheckoutHandlers(&fakeCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lines": [`))
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRetryPaymentEndpoint(t *testing.T) {
	svc := &fakeCheckoutService{
		retryFn: func(_ context.Context, orderID string) (services.CheckoutResult, error) {
			if orderID != "ord_1" {
				t.Errorf("orderID = %q", orderID)
			}
			return services.CheckoutResult{
				Order:        domain.Order{ID: orderID, Status: domain.OrderStatusPendingPayment},
				IntentID:     "pi_2",
				ClientSecret: "secret_2",
			}, nil
		},
	}
	h := NewCheckoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/ord_1/retry-payment", nil)
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "pi_2") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRetryPaymentEndpointNotRetryable(t *testing.T) {
	svc := &fakeCheckoutService{
		retryFn: func(context.Context, string) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: order is pending_payment", services.ErrCheckoutNotRetryable)
		},
	}
	h := NewCheckoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/ord_1/retry-payment", nil)
	rec := serveRoutes(t, h.Routes, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
