package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrProductInvalidInput signals the caller provided invalid product data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductConflict indicates a duplicate or concurrent-update conflict.
	ErrProductConflict = errors.New("product: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		clock:    clock,
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		return Product{}, fmt.Errorf("%w: seller id is required", ErrProductInvalidInput)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	if cmd.UnitPrice < 0 {
		return Product{}, fmt.Errorf("%w: unit price cannot be negative", ErrProductInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Product{}, fmt.Errorf("%w: quantity cannot be negative", ErrProductInvalidInput)
	}

	now := s.now()
	product := domain.Product{
		ID:          productIDPrefix + s.newID(),
		SellerID:    sellerID,
		Name:        name,
		Description: strings.TrimSpace(cmd.Description),
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		UnitPrice:   cmd.UnitPrice,
		Quantity:    cmd.Quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, mapProductRepositoryError(err)
	}

	s.logger(ctx, "product.created", map[string]any{
		"product": product.ID,
		"seller":  sellerID,
	})

	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapProductRepositoryError(err)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name cannot be empty", ErrProductInvalidInput)
		}
		product.Name = name
	}
	if cmd.Description != nil {
		product.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.ImageURL != nil {
		product.ImageURL = strings.TrimSpace(*cmd.ImageURL)
	}
	if cmd.UnitPrice != nil {
		if *cmd.UnitPrice < 0 {
			return Product{}, fmt.Errorf("%w: unit price cannot be negative", ErrProductInvalidInput)
		}
		product.UnitPrice = *cmd.UnitPrice
	}
	if cmd.Quantity != nil {
		if *cmd.Quantity < 0 {
			return Product{}, fmt.Errorf("%w: quantity cannot be negative", ErrProductInvalidInput)
		}
		product.Quantity = *cmd.Quantity
	}
	product.UpdatedAt = s.now()

	updated, err := s.products.Update(ctx, product)
	if err != nil {
		return Product{}, mapProductRepositoryError(err)
	}
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return mapProductRepositoryError(err)
	}

	s.logger(ctx, "product.deleted", map[string]any{"product": productID})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapProductRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListSellerProducts(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[Product], error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: seller id is required", ErrProductInvalidInput)
	}

	page, err := s.products.ListBySeller(ctx, sellerID, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, mapProductRepositoryError(err)
	}
	return page, nil
}

// AdjustStock shifts a product's quantity with the store's atomic increment.
// Negative results are surfaced, not clamped, and logged for monitoring.
func (s *catalogService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if cmd.Delta == 0 {
		return Product{}, fmt.Errorf("%w: delta cannot be zero", ErrProductInvalidInput)
	}

	product, err := s.products.AdjustStock(ctx, productID, cmd.Delta, s.now())
	if err != nil {
		return Product{}, mapProductRepositoryError(err)
	}

	if product.Quantity < 0 {
		s.logger(ctx, "product.stock_negative", map[string]any{
			"product":  product.ID,
			"quantity": product.Quantity,
			"delta":    cmd.Delta,
		})
	}

	return product, nil
}

func (s *catalogService) now() time.Time {
	return s.clock()
}

func mapProductRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrProductInvalidInput) || errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrProductConflict) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("product: repository unavailable: %w", err)
		}
	}

	return err
}
