package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventStockAnomaly  = "order.stock_anomaly"

	orderIDPrefix = "ord_"
	eventIDPrefix = "evt_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusRejected, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusPacked, domain.OrderStatusCancelled},
	domain.OrderStatusPacked:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPacked,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	clock  func() time.Time
	newID  func() string
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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

	return &orderService{
		orders: deps.Orders,
		clock:  clock,
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, buyerID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByBuyer(ctx, buyerID, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListSellerOrders(ctx context.Context, sellerID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListBySeller(ctx, sellerID, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, string(cmd.TargetStatus))
	}

	if target == domain.OrderStatusConfirmed {
		return s.confirm(ctx, orderID, strings.TrimSpace(cmd.ActorID))
	}

	now := s.now()
	var prevStatus domain.OrderStatus

	order, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		prevStatus = current.Status
		if err := applyStatusTransition(&current, target, now); err != nil {
			return domain.Order{}, err
		}
		return current, nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:   orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		OccurredAt:  now,
	})

	s.logger(ctx, "order.status.changed", map[string]any{
		"order": order.ID,
		"from":  string(prevStatus),
		"to":    string(order.Status),
		"actor": strings.TrimSpace(cmd.ActorID),
	})

	return order, nil
}

// confirm routes through the repository's transactional confirm so the status
// gate and the one-time stock deduction commit atomically.
func (s *orderService) confirm(ctx context.Context, orderID, actorID string) (Order, error) {
	now := s.now()

	result, err := s.orders.Confirm(ctx, repositories.OrderConfirmRequest{
		OrderID: orderID,
		Now:     now,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	for _, shortfall := range result.Anomalies {
		s.logger(ctx, orderEventStockAnomaly, map[string]any{
			"order":     result.Order.ID,
			"product":   shortfall.ProductRef,
			"requested": shortfall.Requested,
			"remaining": shortfall.Remaining,
		})
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:   orderEventStatusChanged,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		BuyerID:     result.Order.BuyerID,
		SellerID:    result.Order.SellerID,
		Status:      string(result.Order.Status),
		OccurredAt:  now,
	})

	s.logger(ctx, "order.status.changed", map[string]any{
		"order": result.Order.ID,
		"from":  string(domain.OrderStatusPending),
		"to":    string(result.Order.Status),
		"actor": actorID,
	})

	return result.Order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	var prevStatus domain.OrderStatus

	order, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		prevStatus = current.Status
		if !slices.Contains(cancellableStatuses, current.Status) {
			return domain.Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, current.Status)
		}
		current.Status = domain.OrderStatusCancelled
		current.CancelReason = optionalString(reason)
		current.CancelledAt = &now
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:   orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		OccurredAt:  now,
	})

	s.logger(ctx, "order.cancelled", map[string]any{
		"order":  order.ID,
		"from":   string(prevStatus),
		"reason": reason,
		"actor":  strings.TrimSpace(cmd.ActorID),
	})

	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	publishOrderEvent(ctx, s.events, s.newID, s.logger, message)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// applyStatusTransition mutates the order in place after validating the
// transition table. Timestamps are stamped per target status.
func applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusPacked:
		order.PackedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusRejected:
		order.RejectedAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}

	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrOrderConflict) {
		return err
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrOrderInvalidState, orderErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// publishOrderEvent emits best-effort domain events; failures are logged and
// never fail the triggering request.
func publishOrderEvent(ctx context.Context, events OrderEventPublisher, newID func() string, logger func(context.Context, string, map[string]any), message OrderEventMessage) {
	if events == nil {
		return
	}
	if message.EventID == "" {
		message.EventID = eventIDPrefix + newID()
	}
	if _, err := events.PublishOrderEvent(ctx, message); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   message.EventType,
			"order":  message.OrderID,
			"error":  err.Error(),
			"status": message.Status,
		})
	}
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
