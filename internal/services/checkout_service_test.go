package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/craftbazaar/api/internal/domain"
)

type stubProductRepo struct {
	insertFn      func(context.Context, domain.Product) error
	updateFn      func(context.Context, domain.Product) (domain.Product, error)
	deleteFn      func(context.Context, string) error
	findFn        func(context.Context, string) (domain.Product, error)
	findManyFn    func(context.Context, []string) (map[string]domain.Product, error)
	listFn        func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Product], error)
	adjustStockFn func(context.Context, string, int, time.Time) (domain.Product, error)
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return product, nil
}

func (s *stubProductRepo) Delete(ctx context.Context, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, productID)
	}
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findManyFn != nil {
		return s.findManyFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubProductRepo) ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, sellerID, pager)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error) {
	if s.adjustStockFn != nil {
		return s.adjustStockFn(ctx, productID, delta, now)
	}
	return domain.Product{}, errors.New("not implemented")
}

type stubCounterRepo struct {
	nextFn func(context.Context, string) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID)
	}
	return 1, nil
}

func checkoutCatalog() *stubProductRepo {
	catalog := map[string]domain.Product{
		"prd_a1": {ID: "prd_a1", SellerID: "seller-a", Name: "Clay Mug", ImageURL: "https://img/a1.jpg", UnitPrice: 100, Quantity: 10},
		"prd_a2": {ID: "prd_a2", SellerID: "seller-a", Name: "Clay Bowl", ImageURL: "https://img/a2.jpg", UnitPrice: 75, Quantity: 10},
		"prd_b1": {ID: "prd_b1", SellerID: "seller-b", Name: "Wool Scarf", ImageURL: "https://img/b1.jpg", UnitPrice: 50, Quantity: 10},
	}
	return &stubProductRepo{
		findManyFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			found := make(map[string]domain.Product, len(ids))
			for _, id := range ids {
				if product, ok := catalog[id]; ok {
					found[id] = product
				}
			}
			return found, nil
		},
	}
}

func TestCheckoutServiceSplitsOrdersBySeller(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	inserted := make([]domain.Order, 0, 2)
	events := &captureOrderEvents{}

	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}

	seq := int64(41)
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string) (int64, error) {
			if counterID != "orders-2026" {
				t.Fatalf("unexpected counter id %s", counterID)
			}
			seq++
			return seq, nil
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:      orders,
		Products:    checkoutCatalog(),
		Counters:    counters,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return fmt.Sprintf("ID%03d", len(inserted)) },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	result, err := svc.CreateOrders(ctx, CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []CheckoutItem{
			{ProductID: "prd_a1", Quantity: 2},
			{ProductID: "prd_b1", Quantity: 1},
		},
		ShippingAddress: domain.ShippingAddress{Name: "Asha", Phone: "555-0101", Address: "12 Pottery Lane"},
		PaymentMethod:   "cod",
	})
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if len(result.Created) != 2 || len(result.Failed) != 0 {
		t.Fatalf("expected 2 created orders, got %+v", result)
	}

	first, second := result.Created[0], result.Created[1]
	if first.SellerID != "seller-a" || second.SellerID != "seller-b" {
		t.Fatalf("expected seller grouping in first-appearance order, got %s and %s", first.SellerID, second.SellerID)
	}
	if first.Total != 200 || second.Total != 50 {
		t.Fatalf("expected totals 200 and 50, got %d and %d", first.Total, second.Total)
	}
	if first.Status != domain.OrderStatusPending || second.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending orders")
	}
	if first.OrderNumber != "CB-2026-000042" || second.OrderNumber != "CB-2026-000043" {
		t.Fatalf("unexpected order numbers %s and %s", first.OrderNumber, second.OrderNumber)
	}
	if len(first.Items) != 1 || first.Items[0].Name != "Clay Mug" || first.Items[0].UnitPrice != 100 {
		t.Fatalf("expected product snapshot on line item, got %+v", first.Items)
	}
	if first.ShippingAddress.Address != "12 Pottery Lane" {
		t.Fatalf("expected shipping address snapshot")
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserted orders got %d", len(inserted))
	}
	if len(events.messages) != 2 || events.messages[0].EventType != "order.created" {
		t.Fatalf("expected order.created events, got %+v", events.messages)
	}
}

func TestCheckoutServiceRejectsEmptyItems(t *testing.T) {
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: checkoutCatalog(),
		Counters: &stubCounterRepo{},
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	_, err = svc.CreateOrders(context.Background(), CheckoutCommand{
		BuyerID:         "buyer-1",
		ShippingAddress: domain.ShippingAddress{Address: "12 Pottery Lane"},
		PaymentMethod:   "cod",
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestCheckoutServiceRejectsUnknownProduct(t *testing.T) {
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: checkoutCatalog(),
		Counters: &stubCounterRepo{},
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	_, err = svc.CreateOrders(context.Background(), CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []CheckoutItem{
			{ProductID: "prd_missing", Quantity: 1},
		},
		ShippingAddress: domain.ShippingAddress{Address: "12 Pottery Lane"},
		PaymentMethod:   "cod",
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestCheckoutServiceKeepsDuplicateLinesDistinct(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	var inserted []domain.Order

	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:      orders,
		Products:    checkoutCatalog(),
		Counters:    &stubCounterRepo{},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "DUPTEST" },
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	result, err := svc.CreateOrders(ctx, CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []CheckoutItem{
			{ProductID: "prd_a1", Quantity: 1},
			{ProductID: "prd_a1", Quantity: 2},
		},
		ShippingAddress: domain.ShippingAddress{Address: "12 Pottery Lane"},
		PaymentMethod:   "cod",
	})
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("expected one order, got %d", len(result.Created))
	}
	if len(result.Created[0].Items) != 2 {
		t.Fatalf("expected duplicate lines preserved, got %d lines", len(result.Created[0].Items))
	}
	if result.Created[0].Total != 300 {
		t.Fatalf("expected total 300, got %d", result.Created[0].Total)
	}
}

func TestCheckoutServicePartialFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	var inserted []domain.Order
	logger := &captureLogger{}

	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			if order.SellerID == "seller-b" {
				return errors.New("write timeout")
			}
			inserted = append(inserted, order)
			return nil
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:      orders,
		Products:    checkoutCatalog(),
		Counters:    &stubCounterRepo{},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "PARTIAL" },
		Logger:      logger.log,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	result, err := svc.CreateOrders(ctx, CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []CheckoutItem{
			{ProductID: "prd_a1", Quantity: 1},
			{ProductID: "prd_b1", Quantity: 1},
		},
		ShippingAddress: domain.ShippingAddress{Address: "12 Pottery Lane"},
		PaymentMethod:   "cod",
	})
	if !errors.Is(err, ErrCheckoutPartialFailure) {
		t.Fatalf("expected partial failure error, got %v", err)
	}
	if len(result.Created) != 1 || result.Created[0].SellerID != "seller-a" {
		t.Fatalf("expected seller-a order kept, got %+v", result.Created)
	}
	if len(result.Failed) != 1 || result.Failed[0].SellerID != "seller-b" {
		t.Fatalf("expected seller-b failure surfaced, got %+v", result.Failed)
	}
	if len(inserted) != 1 {
		t.Fatalf("created orders must not be rolled back")
	}
	if !logger.has("checkout.partial_failure") {
		t.Fatalf("expected partial failure to be logged")
	}
}
