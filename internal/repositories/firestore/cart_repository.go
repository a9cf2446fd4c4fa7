package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

const cartsCollection = "carts"

// CartRepository clears session carts once payment is confirmed. Cart reads
// and writes during shopping happen in the storefront; the order engine only
// ever tombstones a cart after converting it.
type CartRepository struct {
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart clearer.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

// Clear deletes the cart document. Clearing a cart that was already cleared,
// or never persisted, is not an error so reconciliation stays idempotent.
func (r *CartRepository) Clear(ctx context.Context, cartRef string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	cartRef = strings.TrimSpace(cartRef)
	if cartRef == "" {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("cart.clear", err)
	}
	ref := client.Collection(cartsCollection).Doc(cartRef)
	return pfirestore.DeleteDoc(ctx, ref)
}
