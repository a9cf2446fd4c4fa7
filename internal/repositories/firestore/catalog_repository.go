package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/textutil"

	"github.com/hanko-field/orders/internal/domain"
)

const (
	productsCollection = "products"
	variantsCollection = "variants"
)

// CatalogRepository is the read-only catalog collaborator. Checkout resolves
// each cart line against it to snapshot name, sku and price onto the order;
// product authoring lives in a separate system and is never written from here.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

type productDocument struct {
	Name           string `firestore:"name"`
	SKU            string `firestore:"sku,omitempty"`
	Price          int64  `firestore:"price"`
	CostPrice      int64  `firestore:"costPrice,omitempty"`
	ComparePrice   int64  `firestore:"comparePrice,omitempty"`
	TrackInventory bool   `firestore:"trackInventory"`
	Status         string `firestore:"status"`
}

type variantDocument struct {
	SKU            string            `firestore:"sku,omitempty"`
	Attributes     map[string]string `firestore:"attributes,omitempty"`
	Price          int64             `firestore:"price,omitempty"`
	CostPrice      int64             `firestore:"costPrice,omitempty"`
	ComparePrice   int64             `firestore:"comparePrice,omitempty"`
	TrackInventory *bool             `firestore:"trackInventory,omitempty"`
	Status         string            `firestore:"status,omitempty"`
}

// ResolveItem loads the product, and the variant when the key names one. The
// variant overrides sku, price and status where it sets them; unset variant
// fields fall through to the product.
func (r *CatalogRepository) ResolveItem(ctx context.Context, key domain.ItemKey) (domain.CatalogItem, error) {
	if r == nil || r.provider == nil {
		return domain.CatalogItem{}, errors.New("catalog repository not initialised")
	}
	if strings.TrimSpace(key.ProductID) == "" {
		return domain.CatalogItem{}, errors.New("catalog resolve: product id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CatalogItem{}, pfirestore.WrapError("catalog.resolve", err)
	}

	productRef := client.Collection(productsCollection).Doc(key.ProductID)
	snap, err := pfirestore.GetDoc(ctx, productRef)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	var product productDocument
	if err := snap.DataTo(&product); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode product %s: %w", key.ProductID, err)
	}

	item := domain.CatalogItem{
		Item:           key,
		Name:           product.Name,
		SKU:            product.SKU,
		Price:          product.Price,
		CostPrice:      product.CostPrice,
		ComparePrice:   product.ComparePrice,
		TrackInventory: product.TrackInventory,
		Status:         catalogStatus(product.Status),
	}
	if key.VariantID == "" {
		return item, nil
	}

	variantRef := productRef.Collection(variantsCollection).Doc(key.VariantID)
	vsnap, err := pfirestore.GetDoc(ctx, variantRef)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	var variant variantDocument
	if err := vsnap.DataTo(&variant); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode variant %s: %w", key.SKU(), err)
	}

	item.VariantAttributes = textutil.NormalizeStringMap(variant.Attributes)
	if variant.SKU != "" {
		item.SKU = variant.SKU
	}
	if variant.Price != 0 {
		item.Price = variant.Price
	}
	if variant.CostPrice != 0 {
		item.CostPrice = variant.CostPrice
	}
	if variant.ComparePrice != 0 {
		item.ComparePrice = variant.ComparePrice
	}
	if variant.TrackInventory != nil {
		item.TrackInventory = *variant.TrackInventory
	}
	if variant.Status != "" {
		item.Status = catalogStatus(variant.Status)
	}
	return item, nil
}

func catalogStatus(raw string) domain.CatalogItemStatus {
	switch domain.CatalogItemStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.CatalogItemPublished:
		return domain.CatalogItemPublished
	case domain.CatalogItemArchived:
		return domain.CatalogItemArchived
	default:
		return domain.CatalogItemDraft
	}
}
