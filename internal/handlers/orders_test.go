package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/services"
)

type stubOrderService struct {
	getFn        func(ctx context.Context, orderID string) (services.Order, error)
	listBuyerFn  func(ctx context.Context, buyerID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	listSellerFn func(ctx context.Context, sellerID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, fmt.Errorf("unexpected GetOrder call")
	}
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, buyerID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listBuyerFn == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListBuyerOrders call")
	}
	return s.listBuyerFn(ctx, buyerID, filter)
}

func (s *stubOrderService) ListSellerOrders(ctx context.Context, sellerID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listSellerFn == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListSellerOrders call")
	}
	return s.listSellerFn(ctx, sellerID, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, fmt.Errorf("unexpected TransitionStatus call")
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, fmt.Errorf("unexpected CancelOrder call")
	}
	return s.cancelFn(ctx, cmd)
}

type stubDisputeService struct {
	reportFn  func(ctx context.Context, cmd services.ReportIssueCommand) (services.Order, error)
	resolveFn func(ctx context.Context, cmd services.ResolveIssueCommand) (services.Order, error)
	countFn   func(ctx context.Context, sellerID string) (int, error)
}

func (s *stubDisputeService) ReportIssue(ctx context.Context, cmd services.ReportIssueCommand) (services.Order, error) {
	if s.reportFn == nil {
		return services.Order{}, fmt.Errorf("unexpected ReportIssue call")
	}
	return s.reportFn(ctx, cmd)
}

func (s *stubDisputeService) ResolveIssue(ctx context.Context, cmd services.ResolveIssueCommand) (services.Order, error) {
	if s.resolveFn == nil {
		return services.Order{}, fmt.Errorf("unexpected ResolveIssue call")
	}
	return s.resolveFn(ctx, cmd)
}

func (s *stubDisputeService) CountOpenIssues(ctx context.Context, sellerID string) (int, error) {
	if s.countFn == nil {
		return 0, fmt.Errorf("unexpected CountOpenIssues call")
	}
	return s.countFn(ctx, sellerID)
}

func sampleOrder() services.Order {
	created := time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_0001",
		OrderNumber: "CB-2026-000042",
		BuyerID:     "buyer-9",
		SellerID:    "seller-a",
		Status:      domain.OrderStatusPending,
		Items: []services.OrderLineItem{
			{
				ProductRef: "prd_a1",
				SellerRef:  "seller-a",
				Name:       "Clay Mug",
				UnitPrice:  100,
				Quantity:   2,
				Total:      200,
			},
		},
		Total: 200,
		ShippingAddress: domain.ShippingAddress{
			Name:    "Pat Doe",
			Address: "12 Kiln Street",
		},
		PaymentMethod: "card",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func newOrderRouter(orders services.OrderService, disputes services.DisputeService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(orders, disputes).Routes(r)
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_0001" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ord_0001", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	decodeResponse(t, rec, &resp)
	if resp.Order.ID != "ord_0001" || resp.Order.OrderNumber != "CB-2026-000042" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Order.Status != "pending" {
		t.Fatalf("expected pending status, got %q", resp.Order.Status)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].ProductID != "prd_a1" {
		t.Fatalf("unexpected items payload: %+v", resp.Order.Items)
	}
	if resp.Order.CreatedAt != "2026-03-10T09:30:00Z" {
		t.Fatalf("unexpected createdAt: %q", resp.Order.CreatedAt)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ord_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "order_not_found") {
		t.Fatalf("expected order_not_found code, got %s", rec.Body.String())
	}
}

func TestOrderHandlersListOrdersAppliesFilters(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listBuyerFn: func(ctx context.Context, buyerID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if buyerID != "buyer-9" {
				t.Fatalf("unexpected buyer id %q", buyerID)
			}
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "next-page",
			}, nil
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	target := "/?buyer_id=buyer-9&status=pending,confirmed&created_after=2026-01-01T00:00:00Z&page_size=5&page_token=tok"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending || captured.Status[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status filter: %+v", captured.Status)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var resp orderListResponse
	decodeResponse(t, rec, &resp)
	if len(resp.Items) != 1 || resp.NextPageToken != "next-page" {
		t.Fatalf("unexpected list response: %+v", resp)
	}
}

func TestOrderHandlersListOrdersRequiresBuyer(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubDisputeService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubDisputeService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?buyer_id=buyer-9&status=paid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			if cmd.OrderID != "ord_0001" || cmd.TargetStatus != domain.OrderStatusConfirmed || cmd.ActorID != "seller-a" {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusConfirmed
			order.StockDeducted = true
			return order, nil
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	body := strings.NewReader(`{"status":"confirmed","actorId":"seller-a"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/status", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	decodeResponse(t, rec, &resp)
	if resp.Order.Status != "confirmed" || !resp.Order.StockDeducted {
		t.Fatalf("unexpected payload: %+v", resp.Order)
	}
}

func TestOrderHandlersUpdateStatusCancelledRoutesToCancel(t *testing.T) {
	cancelled := false
	svc := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			cancelled = true
			if cmd.OrderID != "ord_0001" || cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	body := strings.NewReader(`{"status":"cancelled","actorId":"buyer-9","reason":"changed my mind"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/status", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !cancelled {
		t.Fatal("expected cancel path to be used")
	}
}

func TestOrderHandlersUpdateStatusInvalidTransition(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: delivered -> packed", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	body := strings.NewReader(`{"status":"packed"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/status", body))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "order_invalid_state") {
		t.Fatalf("expected order_invalid_state code, got %s", rec.Body.String())
	}
}

func TestOrderHandlersUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubDisputeService{})

	body := strings.NewReader(`{"status":"paid"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/status", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "" {
				t.Fatalf("expected empty reason, got %q", cmd.Reason)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := newOrderRouter(svc, &stubDisputeService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ord_0001:cancel", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersReportIssue(t *testing.T) {
	disputes := &stubDisputeService{
		reportFn: func(ctx context.Context, cmd services.ReportIssueCommand) (services.Order, error) {
			if cmd.OrderID != "ord_0001" || cmd.Category != domain.IssueDamaged {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			if cmd.Description != "box arrived crushed" {
				t.Fatalf("unexpected description %q", cmd.Description)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			order.DeliveryIssue = &domain.DeliveryIssue{
				HasIssue:    true,
				Category:    domain.IssueDamaged,
				Description: cmd.Description,
				ReportedAt:  time.Date(2026, time.March, 12, 8, 0, 0, 0, time.UTC),
			}
			return order, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, disputes)

	body := strings.NewReader(`{"buyerId":"buyer-9","issueType":"damaged","issueDescription":"box arrived crushed"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/issue", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	decodeResponse(t, rec, &resp)
	issue := resp.Order.DeliveryIssue
	if issue == nil || !issue.HasIssue || issue.Category != "damaged" {
		t.Fatalf("unexpected issue payload: %+v", issue)
	}
	if issue.ReportedAt != "2026-03-12T08:00:00Z" {
		t.Fatalf("unexpected reportedAt: %q", issue.ReportedAt)
	}
}

func TestOrderHandlersReportIssueOnUnshippedOrder(t *testing.T) {
	disputes := &stubDisputeService{
		reportFn: func(ctx context.Context, cmd services.ReportIssueCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: issues can only be reported on shipped orders, status is %q", services.ErrDisputeInvalidState, "pending")
		},
	}
	router := newOrderRouter(&stubOrderService{}, disputes)

	body := strings.NewReader(`{"issueType":"damaged","issueDescription":"crushed"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/issue", body))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "dispute_invalid_state") {
		t.Fatalf("expected dispute_invalid_state code, got %s", rec.Body.String())
	}
}

func TestOrderHandlersResolveIssue(t *testing.T) {
	disputes := &stubDisputeService{
		resolveFn: func(ctx context.Context, cmd services.ResolveIssueCommand) (services.Order, error) {
			if cmd.OrderID != "ord_0001" || cmd.Actor != domain.DisputeActorSeller {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			resolved := time.Date(2026, time.March, 13, 10, 0, 0, 0, time.UTC)
			order.DeliveryIssue = &domain.DeliveryIssue{
				Category:       domain.IssueDamaged,
				BuyerResolved:  true,
				SellerResolved: true,
				ReportedAt:     time.Date(2026, time.March, 12, 8, 0, 0, 0, time.UTC),
				ResolvedAt:     &resolved,
			}
			return order, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, disputes)

	body := strings.NewReader(`{"userType":"seller"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/issue/resolve", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	decodeResponse(t, rec, &resp)
	issue := resp.Order.DeliveryIssue
	if issue == nil || issue.HasIssue || !issue.BuyerResolved || !issue.SellerResolved {
		t.Fatalf("unexpected issue payload: %+v", issue)
	}
	if issue.ResolvedAt != "2026-03-13T10:00:00Z" {
		t.Fatalf("unexpected resolvedAt: %q", issue.ResolvedAt)
	}
}

func TestOrderHandlersResolveIssueRejectsUnknownActor(t *testing.T) {
	disputes := &stubDisputeService{
		resolveFn: func(ctx context.Context, cmd services.ResolveIssueCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: actor must be buyer or seller", services.ErrDisputeInvalidInput)
		},
	}
	router := newOrderRouter(&stubOrderService{}, disputes)

	body := strings.NewReader(`{"userType":"support"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/ord_0001/issue/resolve", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}
