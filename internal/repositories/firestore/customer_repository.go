package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const customersCollection = "customers"

// CustomerRepository stores the contact records the checkout directory matches
// guests and signed-in users against.
type CustomerRepository struct {
	provider *pfirestore.Provider
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{provider: provider}, nil
}

type customerDocument struct {
	UserID    string    `firestore:"userId,omitempty"`
	Email     string    `firestore:"email"`
	FirstName string    `firestore:"firstName,omitempty"`
	LastName  string    `firestore:"lastName,omitempty"`
	Phone     string    `firestore:"phone,omitempty"`
	IsGuest   bool      `firestore:"isGuest"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d customerDocument) toRecord(id string) repositories.CustomerRecord {
	return repositories.CustomerRecord{
		ID:        id,
		UserID:    d.UserID,
		Email:     d.Email,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Phone:     d.Phone,
		IsGuest:   d.IsGuest,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func customerFromRecord(record repositories.CustomerRecord) customerDocument {
	return customerDocument{
		UserID:    record.UserID,
		Email:     strings.ToLower(strings.TrimSpace(record.Email)),
		FirstName: record.FirstName,
		LastName:  record.LastName,
		Phone:     record.Phone,
		IsGuest:   record.IsGuest,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
}

// FindByEmail resolves a customer by normalised email address.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (repositories.CustomerRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return repositories.CustomerRecord{}, errors.New("customer find: email is required")
	}
	return r.findOneBy(ctx, "customer.findByEmail", "email", email)
}

// FindByUserID resolves the customer linked to an authenticated user.
func (r *CustomerRepository) FindByUserID(ctx context.Context, userID string) (repositories.CustomerRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return repositories.CustomerRecord{}, errors.New("customer find: user id is required")
	}
	return r.findOneBy(ctx, "customer.findByUserID", "userId", userID)
}

func (r *CustomerRepository) findOneBy(ctx context.Context, op, field, value string) (repositories.CustomerRecord, error) {
	if r == nil || r.provider == nil {
		return repositories.CustomerRecord{}, errors.New("customer repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.CustomerRecord{}, pfirestore.WrapError(op, err)
	}
	query := client.Collection(customersCollection).Query.Where(field, "==", value).Limit(1)
	records, err := pfirestore.DecodeAll(op, pfirestore.Docs(ctx, query), func(snap *firestore.DocumentSnapshot) (repositories.CustomerRecord, error) {
		var doc customerDocument
		if err := snap.DataTo(&doc); err != nil {
			return repositories.CustomerRecord{}, fmt.Errorf("decode customer %s: %w", snap.Ref.ID, err)
		}
		return doc.toRecord(snap.Ref.ID), nil
	})
	if err != nil {
		return repositories.CustomerRecord{}, pfirestore.WrapError(op, err)
	}
	if len(records) == 0 {
		return repositories.CustomerRecord{}, pfirestore.NewNotFoundError(op, fmt.Sprintf("no customer with %s %q", field, value))
	}
	return records[0], nil
}

// Insert creates a customer record, failing on an existing id.
func (r *CustomerRepository) Insert(ctx context.Context, record repositories.CustomerRecord) error {
	if r == nil || r.provider == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("customer insert: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("customer.insert", err)
	}
	ref := client.Collection(customersCollection).Doc(record.ID)
	return pfirestore.CreateDoc(ctx, ref, customerFromRecord(record))
}

// Update replaces an existing customer record.
func (r *CustomerRepository) Update(ctx context.Context, record repositories.CustomerRecord) error {
	if r == nil || r.provider == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("customer update: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("customer.update", err)
	}
	ref := client.Collection(customersCollection).Doc(record.ID)
	return pfirestore.SetDoc(ctx, ref, customerFromRecord(record))
}
