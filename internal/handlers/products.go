package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftbazaar/api/internal/platform/httpx"
	"github.com/craftbazaar/api/internal/services"
)

const (
	maxProductBodySize     = 32 * 1024
	defaultProductPageSize = 20
	maxProductPageSize     = 100
)

type createProductRequest struct {
	SellerID    string `json:"sellerId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
}

type updateProductRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	UnitPrice   *int64  `json:"unitPrice"`
	Quantity    *int    `json:"quantity"`
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

type productPayload struct {
	ID          string `json:"id"`
	SellerID    string `json:"sellerId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

// ProductHandlers exposes the catalog CRUD and stock adjustment endpoints.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{productID}", h.getProduct)
	r.Patch("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
	r.Post("/{productID}:adjust-stock", h.adjustStock)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	sellerID := strings.TrimSpace(query.Get("seller_id"))
	if sellerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller_id is required", http.StatusBadRequest))
		return
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListSellerProducts(ctx, sellerID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req createProductRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		SellerID:    req.SellerID,
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		UnitPrice:   req.UnitPrice,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID, ok := productIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID, ok := productIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req updateProductRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:   productID,
		Name:        cloneStringPointer(req.Name),
		Description: cloneStringPointer(req.Description),
		ImageURL:    cloneStringPointer(req.ImageURL),
		UnitPrice:   req.UnitPrice,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID, ok := productIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeProductError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID, ok := productIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req adjustStockRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	product, err := h.catalog.AdjustStock(ctx, services.AdjustStockCommand{
		ProductID: productID,
		Delta:     req.Delta,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func productIDFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return "", false
	}
	return productID, true
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          product.ID,
		SellerID:    product.SellerID,
		Name:        product.Name,
		Description: product.Description,
		ImageURL:    product.ImageURL,
		UnitPrice:   product.UnitPrice,
		Quantity:    product.Quantity,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrProductInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("product_error", "failed to process product request", http.StatusInternalServerError))
	}
}
