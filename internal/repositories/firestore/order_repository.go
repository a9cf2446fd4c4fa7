package firestore

import (
	"context"
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
	ordersCollection     = "orders"
	historySubcollection = "history"
)

// OrderRepository persists order aggregates. Items are embedded on the order
// document; status history rows live in an append-only subcollection.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert creates the order document, failing on an existing id.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order.insert", err)
	}
	ref := client.Collection(ordersCollection).Doc(order.ID)
	if err := pfirestore.CreateDoc(ctx, ref, orderFromDomain(order)); err != nil {
		return pfirestore.WrapError("order.insert", err)
	}
	return nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order.update", err)
	}
	ref := client.Collection(ordersCollection).Doc(order.ID)
	if err := pfirestore.SetDoc(ctx, ref, orderFromDomain(order)); err != nil {
		return pfirestore.WrapError("order.update", err)
	}
	return nil
}

// FindByID loads a single order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.findByID", err)
	}
	snap, err := pfirestore.GetDoc(ctx, client.Collection(ordersCollection).Doc(orderID))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.findByID", err)
	}
	return decodeOrderSnapshot(snap)
}

// FindByPaymentIntent resolves the order attached to a gateway payment intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error) {
	return r.findOneBy(ctx, "order.findByPaymentIntent", "paymentIntentId", intentID)
}

// FindByGuestToken resolves the order attached to a guest access token.
func (r *OrderRepository) FindByGuestToken(ctx context.Context, token string) (domain.Order, error) {
	return r.findOneBy(ctx, "order.findByGuestToken", "guestToken", token)
}

func (r *OrderRepository) findOneBy(ctx context.Context, op, field, value string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, fmt.Errorf("%s: lookup value is required", op)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	query := client.Collection(ordersCollection).Query.Where(field, "==", value).Limit(1)
	orders, err := pfirestore.DecodeAll(op, pfirestore.Docs(ctx, query), decodeOrderSnapshot)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	if len(orders) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError(op, fmt.Sprintf("no order with %s %q", field, value))
	}
	return orders[0], nil
}

// AppendHistory writes one immutable status transition row.
func (r *OrderRepository) AppendHistory(ctx context.Context, row domain.OrderStatusHistory) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(row.OrderID) == "" || strings.TrimSpace(row.ID) == "" {
		return errors.New("history append: order id and row id are required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order.appendHistory", err)
	}
	ref := client.Collection(ordersCollection).Doc(row.OrderID).Collection(historySubcollection).Doc(row.ID)
	doc := historyDocument{
		ToStatus:   string(row.ToStatus),
		Actor:      row.Actor,
		Notes:      row.Notes,
		OccurredAt: row.OccurredAt.UTC(),
	}
	if row.FromStatus != nil {
		from := string(*row.FromStatus)
		doc.FromStatus = &from
	}
	if err := pfirestore.CreateDoc(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("order.appendHistory", err)
	}
	return nil
}

// ListHistory returns all transition rows for an order in chronological order.
func (r *OrderRepository) ListHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("history list: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("order.listHistory", err)
	}
	query := client.Collection(ordersCollection).Doc(orderID).Collection(historySubcollection).Query.
		OrderBy("occurredAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	rows, err := pfirestore.DecodeAll("order.listHistory", pfirestore.Docs(ctx, query), func(snap *firestore.DocumentSnapshot) (domain.OrderStatusHistory, error) {
		var doc historyDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.OrderStatusHistory{}, fmt.Errorf("decode history %s: %w", snap.Ref.ID, err)
		}
		return doc.toDomain(snap.Ref.ID, orderID), nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("order.listHistory", err)
	}
	return rows, nil
}

// List pages through orders, newest first, optionally filtered by customer and
// status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
	}

	pageSize := normalisePageSize(filter.Pagination.PageSize)
	query := client.Collection(ordersCollection).Query
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query = query.Where("customerId", "==", customerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodePageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	orders, err := pfirestore.DecodeAll("order.list", pfirestore.Docs(ctx, query), decodeOrderSnapshot)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := encodePageToken(pageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	OrderNumber        string                `firestore:"orderNumber"`
	GuestToken         string                `firestore:"guestToken,omitempty"`
	CustomerID         string                `firestore:"customerId,omitempty"`
	Status             string                `firestore:"status"`
	Currency           string                `firestore:"currency"`
	Subtotal           int64                 `firestore:"subtotal"`
	Tax                int64                 `firestore:"tax"`
	Shipping           int64                 `firestore:"shipping"`
	Discount           int64                 `firestore:"discount"`
	Total              int64                 `firestore:"total"`
	TaxRate            float64               `firestore:"taxRate"`
	TaxInclusive       bool                  `firestore:"taxInclusive"`
	PaymentIntentID    string                `firestore:"paymentIntentId,omitempty"`
	PaymentStatus      string                `firestore:"paymentStatus,omitempty"`
	PaymentConfirmedAt *time.Time            `firestore:"paymentConfirmedAt,omitempty"`
	Customer           customerDetailsDoc    `firestore:"customer"`
	BillingAddress     addressDocument       `firestore:"billingAddress"`
	ShippingAddress    addressDocument       `firestore:"shippingAddress"`
	CartRef            string                `firestore:"cartRef,omitempty"`
	ReservationHeld    bool                  `firestore:"reservationHeld"`
	Items              []orderItemDocument   `firestore:"items"`
	CreatedAt          time.Time             `firestore:"createdAt"`
	UpdatedAt          time.Time             `firestore:"updatedAt"`
	PlacedAt           *time.Time            `firestore:"placedAt,omitempty"`
	ShippedAt          *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time            `firestore:"deliveredAt,omitempty"`
	CompletedAt        *time.Time            `firestore:"completedAt,omitempty"`
	CancelledAt        *time.Time            `firestore:"cancelledAt,omitempty"`
	CancelReason       string                `firestore:"cancelReason,omitempty"`
}

type customerDetailsDoc struct {
	CustomerID string `firestore:"customerId,omitempty"`
	Email      string `firestore:"email"`
	FirstName  string `firestore:"firstName,omitempty"`
	LastName   string `firestore:"lastName,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	ID         string `firestore:"id,omitempty"`
	Type       string `firestore:"type,omitempty"`
	FirstName  string `firestore:"firstName,omitempty"`
	LastName   string `firestore:"lastName,omitempty"`
	Company    string `firestore:"company,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	Region     string `firestore:"region,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ID                string            `firestore:"id"`
	ProductID         string            `firestore:"productId"`
	VariantID         string            `firestore:"variantId,omitempty"`
	Name              string            `firestore:"name"`
	SKU               string            `firestore:"sku,omitempty"`
	VariantAttributes map[string]string `firestore:"variantAttributes,omitempty"`
	Quantity          int64             `firestore:"quantity"`
	QuantityFulfilled int64             `firestore:"quantityFulfilled"`
	QuantityCancelled int64             `firestore:"quantityCancelled"`
	QuantityRefunded  int64             `firestore:"quantityRefunded"`
	UnitPrice         int64             `firestore:"unitPrice"`
	LineTotal         int64             `firestore:"lineTotal"`
	TaxAmount         int64             `firestore:"taxAmount"`
	FulfilledAt       *time.Time        `firestore:"fulfilledAt,omitempty"`
}

type historyDocument struct {
	FromStatus *string   `firestore:"fromStatus,omitempty"`
	ToStatus   string    `firestore:"toStatus"`
	Actor      string    `firestore:"actor,omitempty"`
	Notes      string    `firestore:"notes,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func (d historyDocument) toDomain(id, orderID string) domain.OrderStatusHistory {
	row := domain.OrderStatusHistory{
		ID:         id,
		OrderID:    orderID,
		ToStatus:   domain.OrderStatus(d.ToStatus),
		Actor:      d.Actor,
		Notes:      d.Notes,
		OccurredAt: d.OccurredAt,
	}
	if d.FromStatus != nil {
		from := domain.OrderStatus(*d.FromStatus)
		row.FromStatus = &from
	}
	return row
}

func orderFromDomain(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:        order.OrderNumber,
		GuestToken:         order.GuestToken,
		CustomerID:         order.CustomerID,
		Status:             string(order.Status),
		Currency:           order.Currency,
		Subtotal:           order.Subtotal.Amount,
		Tax:                order.Tax.Amount,
		Shipping:           order.Shipping.Amount,
		Discount:           order.Discount.Amount,
		Total:              order.Total.Amount,
		TaxRate:            order.TaxRate,
		TaxInclusive:       order.TaxInclusive,
		PaymentIntentID:    order.GatewayPaymentIntentID,
		PaymentStatus:      string(order.PaymentStatus),
		PaymentConfirmedAt: order.PaymentConfirmedAt,
		Customer: customerDetailsDoc{
			CustomerID: order.CustomerDetails.CustomerID,
			Email:      order.CustomerDetails.Email,
			FirstName:  order.CustomerDetails.FirstName,
			LastName:   order.CustomerDetails.LastName,
			Phone:      order.CustomerDetails.Phone,
		},
		BillingAddress:  addressFromDomain(order.BillingAddress),
		ShippingAddress: addressFromDomain(order.ShippingAddress),
		CartRef:         order.CartRef,
		ReservationHeld: order.ReservationHeld,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PlacedAt:        order.PlacedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CompletedAt:     order.CompletedAt,
		CancelledAt:     order.CancelledAt,
		CancelReason:    order.CancelReason,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
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
			UnitPrice:         item.UnitPrice.Amount,
			LineTotal:         item.LineTotal.Amount,
			TaxAmount:         item.TaxAmount.Amount,
			FulfilledAt:       item.FulfilledAt,
		})
	}
	return doc
}

func addressFromDomain(addr domain.Address) addressDocument {
	return addressDocument{
		ID:         addr.ID,
		Type:       string(addr.Type),
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

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		ID:         d.ID,
		Type:       domain.AddressType(d.Type),
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Company:    d.Company,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		Region:     d.Region,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	money := func(amount int64) domain.Money {
		return domain.Money{Amount: amount, Currency: doc.Currency}
	}
	order := domain.Order{
		ID:                     snap.Ref.ID,
		OrderNumber:            doc.OrderNumber,
		GuestToken:             doc.GuestToken,
		CustomerID:             doc.CustomerID,
		Status:                 domain.OrderStatus(doc.Status),
		Currency:               doc.Currency,
		Subtotal:               money(doc.Subtotal),
		Tax:                    money(doc.Tax),
		Shipping:               money(doc.Shipping),
		Discount:               money(doc.Discount),
		Total:                  money(doc.Total),
		TaxRate:                doc.TaxRate,
		TaxInclusive:           doc.TaxInclusive,
		GatewayPaymentIntentID: doc.PaymentIntentID,
		PaymentStatus:          domain.PaymentStatus(doc.PaymentStatus),
		PaymentConfirmedAt:     doc.PaymentConfirmedAt,
		CustomerDetails: domain.CustomerDetails{
			CustomerID: doc.Customer.CustomerID,
			Email:      doc.Customer.Email,
			FirstName:  doc.Customer.FirstName,
			LastName:   doc.Customer.LastName,
			Phone:      doc.Customer.Phone,
		},
		BillingAddress:  doc.BillingAddress.toDomain(),
		ShippingAddress: doc.ShippingAddress.toDomain(),
		CartRef:         doc.CartRef,
		ReservationHeld: doc.ReservationHeld,
		Items:           make([]domain.OrderItem, 0, len(doc.Items)),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		PlacedAt:        doc.PlacedAt,
		ShippedAt:       doc.ShippedAt,
		DeliveredAt:     doc.DeliveredAt,
		CompletedAt:     doc.CompletedAt,
		CancelledAt:     doc.CancelledAt,
		CancelReason:    doc.CancelReason,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:                item.ID,
			Item:              domain.ItemKey{ProductID: item.ProductID, VariantID: item.VariantID},
			Name:              item.Name,
			SKU:               item.SKU,
			VariantAttributes: item.VariantAttributes,
			Quantity:          item.Quantity,
			QuantityFulfilled: item.QuantityFulfilled,
			QuantityCancelled: item.QuantityCancelled,
			QuantityRefunded:  item.QuantityRefunded,
			UnitPrice:         money(item.UnitPrice),
			LineTotal:         money(item.LineTotal),
			TaxAmount:         money(item.TaxAmount),
			FulfilledAt:       item.FulfilledAt,
		})
	}
	return order, nil
}
