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

type productSalesPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitsSold int    `json:"unitsSold"`
	Revenue   int64  `json:"revenue"`
}

type orderCountsPayload struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Shipped   int `json:"shipped"`
}

type sellerAnalyticsResponse struct {
	SellerID       string                `json:"sellerId"`
	TotalRevenue   int64                 `json:"totalRevenue"`
	WeeklyRevenue  int64                 `json:"weeklyRevenue"`
	MonthlyRevenue int64                 `json:"monthlyRevenue"`
	YearlyRevenue  int64                 `json:"yearlyRevenue"`
	Products       []productSalesPayload `json:"products"`
	BestSeller     *productSalesPayload  `json:"bestSeller"`
	Orders         orderCountsPayload    `json:"orders"`
	GeneratedAt    string                `json:"generatedAt"`
}

type openIssueCountResponse struct {
	SellerID   string `json:"sellerId"`
	OpenIssues int    `json:"openIssues"`
}

// SellerHandlers exposes the seller-facing read endpoints.
type SellerHandlers struct {
	orders    services.OrderService
	disputes  services.DisputeService
	analytics services.AnalyticsService
}

// NewSellerHandlers constructs a new SellerHandlers instance.
func NewSellerHandlers(orders services.OrderService, disputes services.DisputeService, analytics services.AnalyticsService) *SellerHandlers {
	return &SellerHandlers{
		orders:    orders,
		disputes:  disputes,
		analytics: analytics,
	}
}

// Routes registers the /sellers endpoints.
func (h *SellerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{sellerID}/orders", h.listOrders)
	r.Get("/{sellerID}/analytics", h.getAnalytics)
	r.Get("/{sellerID}/issues/open-count", h.countOpenIssues)
}

func (h *SellerHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerID, ok := sellerIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	filter, ok := parseOrderListFilter(ctx, w, r.URL.Query())
	if !ok {
		return
	}

	page, err := h.orders.ListSellerOrders(ctx, sellerID, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *SellerHandlers) getAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analytics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("analytics_service_unavailable", "analytics service unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerID, ok := sellerIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	analytics, err := h.analytics.ComputeSellerAnalytics(ctx, sellerID)
	if err != nil {
		writeAnalyticsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSellerAnalyticsResponse(analytics))
}

func (h *SellerHandlers) countOpenIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerID, ok := sellerIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	count, err := h.disputes.CountOpenIssues(ctx, sellerID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, openIssueCountResponse{
		SellerID:   sellerID,
		OpenIssues: count,
	})
}

func sellerIDFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerID"))
	if sellerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller id is required", http.StatusBadRequest))
		return "", false
	}
	return sellerID, true
}

func buildSellerAnalyticsResponse(analytics services.SellerAnalytics) sellerAnalyticsResponse {
	response := sellerAnalyticsResponse{
		SellerID:       analytics.SellerID,
		TotalRevenue:   analytics.TotalRevenue,
		WeeklyRevenue:  analytics.WeeklyRevenue,
		MonthlyRevenue: analytics.MonthlyRevenue,
		YearlyRevenue:  analytics.YearlyRevenue,
		Products:       make([]productSalesPayload, 0, len(analytics.Products)),
		Orders: orderCountsPayload{
			Total:     analytics.Orders.Total,
			Delivered: analytics.Orders.Delivered,
			Shipped:   analytics.Orders.Shipped,
		},
		GeneratedAt: formatTime(analytics.GeneratedAt),
	}

	for _, sales := range analytics.Products {
		response.Products = append(response.Products, buildProductSalesPayload(sales))
	}
	if analytics.BestSeller != nil {
		best := buildProductSalesPayload(*analytics.BestSeller)
		response.BestSeller = &best
	}

	return response
}

func buildProductSalesPayload(sales services.ProductSales) productSalesPayload {
	return productSalesPayload{
		ProductID: sales.ProductRef,
		Name:      sales.Name,
		UnitsSold: sales.UnitsSold,
		Revenue:   sales.Revenue,
	}
}

func writeAnalyticsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAnalyticsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		writeOrderError(ctx, w, err)
	}
}
