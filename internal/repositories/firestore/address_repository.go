package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

const addressesSubcollection = "addresses"

// AddressRepository stores reusable postal addresses under each customer.
// Checkout deduplicates against stored addresses before inserting a new one.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// FindMatching returns a stored address with the same normalised postal fields,
// or a not-found error when the customer has no equivalent address.
func (r *AddressRepository) FindMatching(ctx context.Context, customerID string, addr domain.Address) (domain.Address, error) {
	stored, err := r.ListByCustomer(ctx, customerID)
	if err != nil {
		return domain.Address{}, err
	}
	want := addressFingerprint(addr)
	for _, candidate := range stored {
		if addressFingerprint(candidate) == want {
			return candidate, nil
		}
	}
	return domain.Address{}, pfirestore.NewNotFoundError("address.findMatching", fmt.Sprintf("no matching address for customer %s", customerID))
}

// Insert stores a new address for the customer and returns it with its id set.
func (r *AddressRepository) Insert(ctx context.Context, customerID string, addr domain.Address) (domain.Address, error) {
	if r == nil || r.provider == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Address{}, errors.New("address insert: customer id is required")
	}
	if strings.TrimSpace(addr.ID) == "" {
		return domain.Address{}, errors.New("address insert: address id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("address.insert", err)
	}
	ref := client.Collection(customersCollection).Doc(customerID).Collection(addressesSubcollection).Doc(addr.ID)
	if err := pfirestore.CreateDoc(ctx, ref, addressFromDomain(addr)); err != nil {
		return domain.Address{}, pfirestore.WrapError("address.insert", err)
	}
	return addr, nil
}

// ListByCustomer returns every stored address for the customer.
func (r *AddressRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Address, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, errors.New("address list: customer id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("address.list", err)
	}
	query := client.Collection(customersCollection).Doc(customerID).Collection(addressesSubcollection).Query.
		OrderBy(firestore.DocumentID, firestore.Asc)
	addrs, err := pfirestore.DecodeAll("address.list", pfirestore.Docs(ctx, query), func(snap *firestore.DocumentSnapshot) (domain.Address, error) {
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
		}
		out := doc.toDomain()
		out.ID = snap.Ref.ID
		return out, nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("address.list", err)
	}
	return addrs, nil
}

// addressFingerprint normalises the fields that define postal identity. Name
// and phone are excluded so the same location is shared across contacts.
func addressFingerprint(addr domain.Address) string {
	norm := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	return strings.Join([]string{
		norm(addr.Line1),
		norm(addr.Line2),
		norm(addr.City),
		norm(addr.Region),
		norm(addr.PostalCode),
		strings.ToUpper(strings.TrimSpace(addr.Country)),
	}, "|")
}
