package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craftbazaar/api/internal/services"
)

type stubCheckoutService struct {
	createFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) CreateOrders(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.createFn == nil {
		return services.CheckoutResult{}, fmt.Errorf("unexpected CreateOrders call")
	}
	return s.createFn(ctx, cmd)
}

func newCheckoutRouter(checkout services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(checkout).Routes(r)
	return r
}

const checkoutBody = `{
	"buyerId": "buyer-9",
	"items": [
		{"productId": "prd_a1", "quantity": 2},
		{"productId": "prd_b1", "quantity": 1}
	],
	"shippingAddress": {"name": "Pat Doe", "address": "12 Kiln Street"},
	"paymentMethod": "card"
}`

func TestCheckoutHandlersCreateOrders(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			if cmd.BuyerID != "buyer-9" || len(cmd.Items) != 2 {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			if cmd.Items[0].ProductID != "prd_a1" || cmd.Items[0].Quantity != 2 {
				t.Fatalf("unexpected first item: %+v", cmd.Items[0])
			}
			if cmd.ShippingAddress.Address != "12 Kiln Street" {
				t.Fatalf("unexpected address: %+v", cmd.ShippingAddress)
			}
			first := sampleOrder()
			second := sampleOrder()
			second.ID = "ord_0002"
			second.OrderNumber = "CB-2026-000043"
			second.SellerID = "seller-b"
			second.Total = 50
			return services.CheckoutResult{Created: []services.Order{first, second}}, nil
		},
	}
	router := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp checkoutResponse
	decodeResponse(t, rec, &resp)
	if len(resp.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(resp.Orders))
	}
	if resp.Orders[1].SellerID != "seller-b" || resp.Orders[1].Total != 50 {
		t.Fatalf("unexpected second order: %+v", resp.Orders[1])
	}
	if len(resp.Failures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.Failures)
	}
}

func TestCheckoutHandlersPartialFailure(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Created: []services.Order{sampleOrder()},
				Failed: []services.CheckoutFailure{
					{SellerID: "seller-b", Reason: "order insert failed"},
				},
			}, services.ErrCheckoutPartialFailure
		},
	}
	router := newCheckoutRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody)))

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp checkoutResponse
	decodeResponse(t, rec, &resp)
	if len(resp.Orders) != 1 || resp.Orders[0].SellerID != "seller-a" {
		t.Fatalf("unexpected created orders: %+v", resp.Orders)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].SellerID != "seller-b" {
		t.Fatalf("unexpected failures: %+v", resp.Failures)
	}
}

func TestCheckoutHandlersInvalidInput(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: at least one item is required", services.ErrCheckoutInvalidInput)
		},
	}
	router := newCheckoutRouter(svc)

	body := `{"buyerId":"buyer-9","items":[],"shippingAddress":{"name":"Pat","address":"12 Kiln Street"},"paymentMethod":"card"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutHandlersRejectsEmptyBody(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("  ")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutHandlersRateLimitsPerBuyer(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	handler := NewCheckoutHandlers(&stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{Created: []services.Order{sampleOrder()}}, nil
		},
	})
	handler.limiter = newRequestLimiter(2, time.Minute, func() time.Time { return now })

	router := chi.NewRouter()
	handler.Routes(router)

	send := func(buyerID string) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"buyerId":%q,"items":[{"productId":"prd_a1","quantity":1}],"shippingAddress":{"name":"Pat","address":"12 Kiln Street"},"paymentMethod":"card"}`, buyerID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("buyer-9"); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, rec.Code)
		}
	}
	if rec := send("buyer-9"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after window exhausted, got %d", rec.Code)
	}
	if rec := send("buyer-22"); rec.Code != http.StatusCreated {
		t.Fatalf("other buyers should not be limited, got %d", rec.Code)
	}

	now = now.Add(2 * time.Minute)
	if rec := send("buyer-9"); rec.Code != http.StatusCreated {
		t.Fatalf("expected window reset after expiry, got %d", rec.Code)
	}
}

func TestCheckoutHandlersMissingService(t *testing.T) {
	router := newCheckoutRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
