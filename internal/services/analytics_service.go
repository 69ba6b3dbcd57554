package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

const analyticsPageSize = 200

// ErrAnalyticsInvalidInput signals the caller provided invalid analytics parameters.
var ErrAnalyticsInvalidInput = errors.New("analytics: invalid input")

// AnalyticsServiceDeps bundles collaborators required to construct the analytics service.
type AnalyticsServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type analyticsService struct {
	orders repositories.OrderRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewAnalyticsService wires dependencies into a concrete AnalyticsService implementation.
func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("analytics service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &analyticsService{
		orders: deps.Orders,
		clock:  clock,
		logger: logger,
	}, nil
}

// ComputeSellerAnalytics scans the seller's full order history and aggregates
// revenue, per-product sales, and order counts. Units are counted for every
// order that is not cancelled or rejected; revenue is recognized only for
// shipped and delivered orders. The scan is read-only.
func (s *analyticsService) ComputeSellerAnalytics(ctx context.Context, sellerID string) (SellerAnalytics, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return SellerAnalytics{}, fmt.Errorf("%w: seller id is required", ErrAnalyticsInvalidInput)
	}

	now := s.now()
	weekStart := now.AddDate(0, 0, -7)
	monthStart := now.AddDate(0, -1, 0)
	yearStart := now.AddDate(-1, 0, 0)

	analytics := SellerAnalytics{
		SellerID:    sellerID,
		Products:    []ProductSales{},
		GeneratedAt: now,
	}

	salesByProduct := make(map[string]*ProductSales)
	productOrder := make([]string, 0)

	pageToken := ""
	for {
		page, err := s.orders.ListBySeller(ctx, sellerID, OrderListFilter{
			Pagination: domain.Pagination{PageSize: analyticsPageSize, PageToken: pageToken},
		})
		if err != nil {
			return SellerAnalytics{}, mapOrderRepositoryError(err)
		}

		for _, order := range page.Items {
			analytics.Orders.Total++

			switch order.Status {
			case domain.OrderStatusDelivered:
				analytics.Orders.Delivered++
			case domain.OrderStatusShipped:
				analytics.Orders.Shipped++
			}

			countUnits := order.Status != domain.OrderStatusCancelled && order.Status != domain.OrderStatusRejected
			countRevenue := order.Status == domain.OrderStatusShipped || order.Status == domain.OrderStatusDelivered

			if countRevenue {
				analytics.TotalRevenue += order.Total
				if !order.CreatedAt.Before(weekStart) {
					analytics.WeeklyRevenue += order.Total
				}
				if !order.CreatedAt.Before(monthStart) {
					analytics.MonthlyRevenue += order.Total
				}
				if !order.CreatedAt.Before(yearStart) {
					analytics.YearlyRevenue += order.Total
				}
			}

			if !countUnits && !countRevenue {
				continue
			}

			for _, line := range order.Items {
				sales, ok := salesByProduct[line.ProductRef]
				if !ok {
					sales = &ProductSales{ProductRef: line.ProductRef, Name: line.Name}
					salesByProduct[line.ProductRef] = sales
					productOrder = append(productOrder, line.ProductRef)
				}
				if countUnits {
					sales.UnitsSold += line.Quantity
				}
				if countRevenue {
					sales.Revenue += line.Total
				}
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	for _, ref := range productOrder {
		analytics.Products = append(analytics.Products, *salesByProduct[ref])
	}
	sort.SliceStable(analytics.Products, func(i, j int) bool {
		return analytics.Products[i].UnitsSold > analytics.Products[j].UnitsSold
	})

	// Best seller requires actual sold units; an all-zero history reports no
	// best seller rather than an arbitrary product.
	for _, ref := range productOrder {
		candidate := salesByProduct[ref]
		if candidate.UnitsSold == 0 {
			continue
		}
		if analytics.BestSeller == nil || candidate.UnitsSold > analytics.BestSeller.UnitsSold {
			best := *candidate
			analytics.BestSeller = &best
		}
	}

	s.logger(ctx, "analytics.computed", map[string]any{
		"seller": sellerID,
		"orders": analytics.Orders.Total,
	})

	return analytics, nil
}

func (s *analyticsService) now() time.Time {
	return s.clock()
}
