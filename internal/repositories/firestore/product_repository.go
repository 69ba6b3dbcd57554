package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/craftbazaar/api/internal/domain"
	pfirestore "github.com/craftbazaar/api/internal/platform/firestore"
	"github.com/craftbazaar/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists seller catalog entries.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert stores a new product document. The ID must be unique.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.base.Create(ctx, productID, encodeProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// Update replaces the persisted product state with the provided snapshot.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	if _, err := r.base.Set(ctx, productID, encodeProductDocument(product)); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	return r.base.Delete(ctx, productID)
}

// FindByID fetches a product by its identifier.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs fetches the requested products, omitting any that do not exist.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	found := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := found[id]; ok {
			continue
		}
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		found[id] = doc.Data.toDomain(doc.ID)
	}
	return found, nil
}

// ListBySeller returns the seller's products sorted by creation time descending.
func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository: seller id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productsCollection).Query.
		Where("sellerRef", "==", sellerID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// AdjustStock shifts the product's quantity by delta using a server-side
// increment. The result may be negative; callers decide how to interpret that.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	updates := []firestore.Update{
		{Path: "quantity", Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return domain.Product{}, err
	}
	return r.FindByID(ctx, productID)
}

// Document encoding ----------------------------------------------------------

type productDocument struct {
	SellerRef   string    `firestore:"sellerRef"`
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Quantity    int       `firestore:"quantity"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func encodeProductDocument(product domain.Product) productDocument {
	return productDocument{
		SellerRef:   strings.TrimSpace(product.SellerID),
		Name:        product.Name,
		Description: product.Description,
		ImageURL:    product.ImageURL,
		UnitPrice:   product.UnitPrice,
		Quantity:    product.Quantity,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		SellerID:    strings.TrimSpace(d.SellerRef),
		Name:        d.Name,
		Description: d.Description,
		ImageURL:    d.ImageURL,
		UnitPrice:   d.UnitPrice,
		Quantity:    d.Quantity,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
