package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/platform/httpx"
	"github.com/craftbazaar/api/internal/services"
)

const (
	maxCheckoutBodySize = 64 * 1024

	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

type checkoutItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutAddressRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type checkoutRequest struct {
	BuyerID         string                 `json:"buyerId"`
	Items           []checkoutItemRequest  `json:"items"`
	ShippingAddress checkoutAddressRequest `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
}

type checkoutFailurePayload struct {
	SellerID string `json:"sellerId"`
	Reason   string `json:"reason"`
}

type checkoutResponse struct {
	Orders   []orderPayload           `json:"orders"`
	Failures []checkoutFailurePayload `json:"failures,omitempty"`
}

// CheckoutHandlers exposes the checkout fan-out endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  *requestLimiter
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		limiter:  newRequestLimiter(checkoutRateLimit, checkoutRateWindow, nil),
	}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrders)
}

func (h *CheckoutHandlers) createOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	if !h.limiter.allow(req.BuyerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, retry later", http.StatusTooManyRequests))
		return
	}

	items := make([]services.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.checkout.CreateOrders(ctx, services.CheckoutCommand{
		BuyerID: req.BuyerID,
		Items:   items,
		ShippingAddress: domain.ShippingAddress{
			Name:    strings.TrimSpace(req.ShippingAddress.Name),
			Phone:   strings.TrimSpace(req.ShippingAddress.Phone),
			Address: strings.TrimSpace(req.ShippingAddress.Address),
		},
		PaymentMethod: req.PaymentMethod,
	})

	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(result))
	case errors.Is(err, services.ErrCheckoutPartialFailure):
		// Created orders stay committed; the client retries only the sellers
		// listed under failures.
		writeJSONResponse(w, http.StatusMultiStatus, buildCheckoutResponse(result))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	response := checkoutResponse{
		Orders: make([]orderPayload, 0, len(result.Created)),
	}
	for _, order := range result.Created {
		response.Orders = append(response.Orders, buildOrderPayload(order))
	}
	for _, failure := range result.Failed {
		response.Failures = append(response.Failures, checkoutFailurePayload{
			SellerID: failure.SellerID,
			Reason:   failure.Reason,
		})
	}
	return response
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
