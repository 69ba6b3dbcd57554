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
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

type updateOrderStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

type cancelOrderRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

type reportIssueRequest struct {
	BuyerID          string `json:"buyerId"`
	IssueType        string `json:"issueType"`
	IssueDescription string `json:"issueDescription"`
}

type resolveIssueRequest struct {
	UserType string `json:"userType"`
}

type orderLineItemPayload struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId"`
	Name      string `json:"name"`
	ImageURL  string `json:"imageUrl,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

type shippingAddressPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address"`
}

type deliveryIssuePayload struct {
	HasIssue       bool   `json:"hasIssue"`
	Category       string `json:"category"`
	Description    string `json:"description,omitempty"`
	BuyerResolved  bool   `json:"buyerResolved"`
	SellerResolved bool   `json:"sellerResolved"`
	ReportedAt     string `json:"reportedAt,omitempty"`
	ResolvedAt     string `json:"resolvedAt,omitempty"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	BuyerID         string                 `json:"buyerId"`
	SellerID        string                 `json:"sellerId"`
	Status          string                 `json:"status"`
	Items           []orderLineItemPayload `json:"items"`
	Total           int64                  `json:"total"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	StockDeducted   bool                   `json:"stockDeducted"`
	StockAnomaly    bool                   `json:"stockAnomaly,omitempty"`
	DeliveryIssue   *deliveryIssuePayload  `json:"deliveryIssue,omitempty"`
	CancelReason    *string                `json:"cancelReason,omitempty"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt"`
	ConfirmedAt     string                 `json:"confirmedAt,omitempty"`
	PackedAt        string                 `json:"packedAt,omitempty"`
	ShippedAt       string                 `json:"shippedAt,omitempty"`
	DeliveredAt     string                 `json:"deliveredAt,omitempty"`
	RejectedAt      string                 `json:"rejectedAt,omitempty"`
	CancelledAt     string                 `json:"cancelledAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

// OrderHandlers exposes order reads, lifecycle transitions, and dispute endpoints.
type OrderHandlers struct {
	orders   services.OrderService
	disputes services.DisputeService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, disputes services.DisputeService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		disputes: disputes,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Put("/{orderID}/issue", h.reportIssue)
	r.Put("/{orderID}/issue/resolve", h.resolveIssue)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	buyerID := strings.TrimSpace(query.Get("buyer_id"))
	if buyerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "buyer_id is required", http.StatusBadRequest))
		return
	}

	filter, ok := parseOrderListFilter(ctx, w, query)
	if !ok {
		return
	}

	page, err := h.orders.ListBuyerOrders(ctx, buyerID, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	var order services.Order
	var err error
	if target == domain.OrderStatusCancelled {
		order, err = h.orders.CancelOrder(ctx, services.CancelOrderCommand{
			OrderID: orderID,
			ActorID: req.ActorID,
			Reason:  req.Reason,
		})
	} else {
		order, err = h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
			OrderID:      orderID,
			TargetStatus: target,
			ActorID:      req.ActorID,
		})
	}
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: req.ActorID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) reportIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req reportIssueRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.disputes.ReportIssue(ctx, services.ReportIssueCommand{
		OrderID:     orderID,
		BuyerID:     req.BuyerID,
		Category:    domain.IssueCategory(strings.ToLower(strings.TrimSpace(req.IssueType))),
		Description: req.IssueDescription,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) resolveIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req resolveIssueRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.disputes.ResolveIssue(ctx, services.ResolveIssueCommand{
		OrderID: orderID,
		Actor:   domain.DisputeActor(strings.ToLower(strings.TrimSpace(req.UserType))),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseOrderListFilter(ctx context.Context, w http.ResponseWriter, query map[string][]string) (services.OrderListFilter, bool) {
	get := func(key string) string {
		values := query[key]
		if len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}

	var filter services.OrderListFilter

	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter must be a valid order status", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.Status = append(filter.Status, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := get("created_after"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		dateRange.From = &ts
	}
	if raw := get("created_before"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		dateRange.To = &ts
	}
	filter.DateRange = dateRange

	pageSize, err := parsePageSize(get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: get("page_token"),
	}

	return filter, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		BuyerID:     strings.TrimSpace(order.BuyerID),
		SellerID:    strings.TrimSpace(order.SellerID),
		Status:      strings.TrimSpace(string(order.Status)),
		Items:       make([]orderLineItemPayload, 0, len(order.Items)),
		Total:       order.Total,
		ShippingAddress: shippingAddressPayload{
			Name:    order.ShippingAddress.Name,
			Phone:   order.ShippingAddress.Phone,
			Address: order.ShippingAddress.Address,
		},
		PaymentMethod: order.PaymentMethod,
		StockDeducted: order.StockDeducted,
		StockAnomaly:  order.StockAnomaly,
		CancelReason:  cloneStringPointer(order.CancelReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		ConfirmedAt:   formatTime(pointerTime(order.ConfirmedAt)),
		PackedAt:      formatTime(pointerTime(order.PackedAt)),
		ShippedAt:     formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:   formatTime(pointerTime(order.DeliveredAt)),
		RejectedAt:    formatTime(pointerTime(order.RejectedAt)),
		CancelledAt:   formatTime(pointerTime(order.CancelledAt)),
	}

	for _, line := range order.Items {
		payload.Items = append(payload.Items, orderLineItemPayload{
			ProductID: line.ProductRef,
			SellerID:  line.SellerRef,
			Name:      line.Name,
			ImageURL:  line.ImageURL,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total,
		})
	}

	if issue := order.DeliveryIssue; issue != nil {
		payload.DeliveryIssue = &deliveryIssuePayload{
			HasIssue:       issue.HasIssue,
			Category:       string(issue.Category),
			Description:    issue.Description,
			BuyerResolved:  issue.BuyerResolved,
			SellerResolved: issue.SellerResolved,
			ReportedAt:     formatTime(issue.ReportedAt),
			ResolvedAt:     formatTime(pointerTime(issue.ResolvedAt)),
		}
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrDisputeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDisputeInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("dispute_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
