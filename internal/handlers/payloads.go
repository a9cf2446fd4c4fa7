package handlers

import (
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type moneyPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func buildMoney(m domain.Money) moneyPayload {
	return moneyPayload{Amount: m.Amount, Currency: m.Currency}
}

type addressPayload struct {
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

func buildAddress(addr domain.Address) addressPayload {
	return addressPayload{
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

type orderItemPayload struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	VariantID         string            `json:"variant_id,omitempty"`
	Name              string            `json:"name"`
	SKU               string            `json:"sku"`
	VariantAttributes map[string]string `json:"variant_attributes,omitempty"`
	Quantity          int64             `json:"quantity"`
	QuantityFulfilled int64             `json:"quantity_fulfilled"`
	QuantityCancelled int64             `json:"quantity_cancelled"`
	QuantityRefunded  int64             `json:"quantity_refunded"`
	UnitPrice         moneyPayload      `json:"unit_price"`
	LineTotal         moneyPayload      `json:"line_total"`
	TaxAmount         moneyPayload      `json:"tax_amount"`
	FulfilledAt       string            `json:"fulfilled_at,omitempty"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"order_number"`
	CustomerID         string             `json:"customer_id,omitempty"`
	Status             string             `json:"status"`
	Currency           string             `json:"currency"`
	Subtotal           moneyPayload       `json:"subtotal"`
	Tax                moneyPayload       `json:"tax"`
	Shipping           moneyPayload       `json:"shipping"`
	Discount           moneyPayload       `json:"discount"`
	Total              moneyPayload       `json:"total"`
	TaxRate            float64            `json:"tax_rate"`
	TaxInclusive       bool               `json:"tax_inclusive"`
	PaymentStatus      string             `json:"payment_status,omitempty"`
	PaymentConfirmedAt string             `json:"payment_confirmed_at,omitempty"`
	Email              string             `json:"email,omitempty"`
	BillingAddress     addressPayload     `json:"billing_address"`
	ShippingAddress    addressPayload     `json:"shipping_address"`
	Items              []orderItemPayload `json:"items"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
	PlacedAt           string             `json:"placed_at,omitempty"`
	ShippedAt          string             `json:"shipped_at,omitempty"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CompletedAt        string             `json:"completed_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	CancelReason       string             `json:"cancel_reason,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:                item.ID,
			ProductID:         item.Item.ProductID,
			VariantID:         item.Item.VariantID,
			Name:              item.Name,
			SKU:               item.SKU,
			VariantAttributes: item.VariantAttributes,
			Quantity:          item.Quantity,
			QuantityFulfilled: item.QuantityFulfilled,
			QuantityCancelled: item.QuantityCancelled,
			QuantityRefunded:  item.QuantityRefunded,
			UnitPrice:         buildMoney(item.UnitPrice),
			LineTotal:         buildMoney(item.LineTotal),
			TaxAmount:         buildMoney(item.TaxAmount),
			FulfilledAt:       formatTimePtr(item.FulfilledAt),
		})
	}

	return orderPayload{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		CustomerID:         order.CustomerID,
		Status:             string(order.Status),
		Currency:           strings.ToUpper(order.Currency),
		Subtotal:           buildMoney(order.Subtotal),
		Tax:                buildMoney(order.Tax),
		Shipping:           buildMoney(order.Shipping),
		Discount:           buildMoney(order.Discount),
		Total:              buildMoney(order.Total),
		TaxRate:            order.TaxRate,
		TaxInclusive:       order.TaxInclusive,
		PaymentStatus:      string(order.PaymentStatus),
		PaymentConfirmedAt: formatTimePtr(order.PaymentConfirmedAt),
		Email:              order.CustomerDetails.Email,
		BillingAddress:     buildAddress(order.BillingAddress),
		ShippingAddress:    buildAddress(order.ShippingAddress),
		Items:              items,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		PlacedAt:           formatTimePtr(order.PlacedAt),
		ShippedAt:          formatTimePtr(order.ShippedAt),
		DeliveredAt:        formatTimePtr(order.DeliveredAt),
		CompletedAt:        formatTimePtr(order.CompletedAt),
		CancelledAt:        formatTimePtr(order.CancelledAt),
		CancelReason:       order.CancelReason,
	}
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(order.Currency),
		Total:       order.Total.Amount,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

type historyRowPayload struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor,omitempty"`
	Notes      string `json:"notes,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

func buildHistoryRow(row domain.OrderStatusHistory) historyRowPayload {
	payload := historyRowPayload{
		ID:         row.ID,
		ToStatus:   string(row.ToStatus),
		Actor:      row.Actor,
		Notes:      row.Notes,
		OccurredAt: formatTime(row.OccurredAt),
	}
	if row.FromStatus != nil {
		payload.FromStatus = string(*row.FromStatus)
	}
	return payload
}
