package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn      func(context.Context, domain.Order) error
	findFn        func(context.Context, string) (domain.Order, error)
	listBuyerFn   func(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listSellerFn  func(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	mutateFn      func(context.Context, string, func(domain.Order) (domain.Order, error)) (domain.Order, error)
	confirmFn     func(context.Context, repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error)
	countIssuesFn func(context.Context, string) (int, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByBuyer(ctx context.Context, buyerID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listBuyerFn != nil {
		return s.listBuyerFn(ctx, buyerID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) ListBySeller(ctx context.Context, sellerID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listSellerFn != nil {
		return s.listSellerFn(ctx, sellerID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) Mutate(ctx context.Context, orderID string, fn func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if s.mutateFn != nil {
		return s.mutateFn(ctx, orderID, fn)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Confirm(ctx context.Context, req repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, req)
	}
	return repositories.OrderConfirmResult{}, errors.New("not implemented")
}

func (s *stubOrderRepo) CountOpenIssues(ctx context.Context, sellerID string) (int, error) {
	if s.countIssuesFn != nil {
		return s.countIssuesFn(ctx, sellerID)
	}
	return 0, nil
}

// storedOrderRepo keeps a single order in memory so Mutate behaves like the
// real read-modify-write cycle.
func storedOrderRepo(order *domain.Order) *stubOrderRepo {
	repo := &stubOrderRepo{}
	repo.findFn = func(_ context.Context, id string) (domain.Order, error) {
		return *order, nil
	}
	repo.mutateFn = func(_ context.Context, _ string, fn func(domain.Order) (domain.Order, error)) (domain.Order, error) {
		updated, err := fn(*order)
		if err != nil {
			return domain.Order{}, err
		}
		*order = updated
		return updated, nil
	}
	return repo
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type captureOrderEvents struct {
	messages []OrderEventMessage
	fail     error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	if c.fail != nil {
		return "", c.fail
	}
	c.messages = append(c.messages, message)
	return "m1", nil
}

type captureLogger struct {
	entries []struct {
		event  string
		fields map[string]any
	}
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.entries = append(c.entries, struct {
		event  string
		fields map[string]any
	}{event, fields})
}

func (c *captureLogger) has(event string) bool {
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	order := domain.Order{ID: "ord_1", OrderNumber: "CB-2026-000001", BuyerID: "buyer-1", SellerID: "seller-1", Status: domain.OrderStatusConfirmed}
	repo := storedOrderRepo(&order)
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusPacked,
		ActorID:      "seller-1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.OrderStatusPacked {
		t.Fatalf("expected status packed got %s", updated.Status)
	}
	if updated.PackedAt == nil || !updated.PackedAt.Equal(now) {
		t.Fatalf("expected packedAt to be stamped")
	}
	if len(events.messages) != 1 || events.messages[0].EventType != "order.status_changed" {
		t.Fatalf("expected status change event, got %+v", events.messages)
	}
	if events.messages[0].EventID != "evt_000TEST" {
		t.Fatalf("unexpected event id %s", events.messages[0].EventID)
	}

	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusDelivered,
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestOrderServiceTransitionRejectsUnknownStatus(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: "paid",
	}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestOrderServiceTerminalStatusesAreFinal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)

	for _, status := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusRejected, domain.OrderStatusCancelled} {
		order := domain.Order{ID: "ord_1", Status: status}
		repo := storedOrderRepo(&order)
		svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: func() time.Time { return now }})
		if err != nil {
			t.Fatalf("new order service: %v", err)
		}

		if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:      "ord_1",
			TargetStatus: domain.OrderStatusShipped,
		}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected terminal %s to reject transitions, got %v", status, err)
		}
	}
}

func TestOrderServiceConfirmRoutesThroughRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 3, 12, 0, 0, 0, time.UTC)
	confirmedAt := now
	events := &captureOrderEvents{}
	logger := &captureLogger{}

	var gotReq repositories.OrderConfirmRequest
	repo := &stubOrderRepo{
		confirmFn: func(_ context.Context, req repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error) {
			gotReq = req
			return repositories.OrderConfirmResult{
				Order: domain.Order{
					ID:          req.OrderID,
					OrderNumber: "CB-2026-000007",
					SellerID:    "seller-1",
					Status:      domain.OrderStatusConfirmed,
					ConfirmedAt: &confirmedAt,
				},
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
		Logger:      logger.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_7",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed got %s", order.Status)
	}
	if gotReq.OrderID != "ord_7" || !gotReq.Now.Equal(now) {
		t.Fatalf("unexpected confirm request %+v", gotReq)
	}
	if len(events.messages) != 1 {
		t.Fatalf("expected one event got %d", len(events.messages))
	}
	if logger.has("order.stock_anomaly") {
		t.Fatalf("unexpected anomaly log for clean confirmation")
	}
}

func TestOrderServiceConfirmLogsStockAnomalies(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 4, 12, 0, 0, 0, time.UTC)
	logger := &captureLogger{}

	repo := &stubOrderRepo{
		confirmFn: func(_ context.Context, req repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error) {
			return repositories.OrderConfirmResult{
				Order: domain.Order{ID: req.OrderID, Status: domain.OrderStatusConfirmed, StockAnomaly: true},
				Anomalies: []repositories.StockShortfall{
					{ProductRef: "prd_1", Requested: 5, Remaining: -2},
				},
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Clock:  func() time.Time { return now },
		Logger: logger.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_9",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("confirm with anomaly should not error: %v", err)
	}
	if !order.StockAnomaly {
		t.Fatalf("expected anomaly flag on order")
	}
	if !logger.has("order.stock_anomaly") {
		t.Fatalf("expected anomaly to be logged")
	}
}

func TestOrderServiceConfirmInvalidStateNamesStatuses(t *testing.T) {
	repo := &stubOrderRepo{
		confirmFn: func(context.Context, repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error) {
			return repositories.OrderConfirmResult{}, &repositories.OrderError{
				Op:            "orders.confirm",
				Code:          repositories.OrderErrorInvalidState,
				Message:       "order ord_1 cannot be confirmed from status shipped",
				CurrentStatus: domain.OrderStatusShipped,
			}
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if !strings.Contains(err.Error(), "shipped") {
		t.Fatalf("expected error to name current status, got %v", err)
	}
}

func TestOrderServiceCancelOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	order := domain.Order{ID: "ord_1", OrderNumber: "CB-2026-000010", Status: domain.OrderStatusPending}
	repo := storedOrderRepo(&order)
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Clock:  func() time.Time { return now },
		Events: events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, CancelOrderCommand{
		OrderID: "ord_1",
		ActorID: "buyer-1",
		Reason:  "changed mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "changed mind" {
		t.Fatalf("expected cancel reason propagated")
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(now) {
		t.Fatalf("expected cancelledAt to be stamped")
	}
	if len(events.messages) != 1 {
		t.Fatalf("expected cancellation event")
	}
}

func TestOrderServiceCancelRejectsShippedOrders(t *testing.T) {
	order := domain.Order{ID: "ord_1", Status: domain.OrderStatusShipped}
	repo := storedOrderRepo(&order)

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("order must not be mutated on rejected cancel")
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, stubRepoError{notFound: true}
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.GetOrder(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestOrderServicePublishFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 2, 8, 0, 0, 0, time.UTC)
	order := domain.Order{ID: "ord_1", Status: domain.OrderStatusConfirmed}
	repo := storedOrderRepo(&order)
	logger := &captureLogger{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Clock:  func() time.Time { return now },
		Events: &captureOrderEvents{fail: errors.New("broker down")},
		Logger: logger.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusPacked,
	}); err != nil {
		t.Fatalf("transition should succeed despite publish failure: %v", err)
	}
	if !logger.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}
