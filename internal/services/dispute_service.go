package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

const (
	disputeEventReported = "order.issue_reported"
	disputeEventResolved = "order.issue_resolved"

	maxIssueDescriptionLength = 2000
)

var (
	// ErrDisputeInvalidInput signals the caller provided invalid dispute data.
	ErrDisputeInvalidInput = errors.New("dispute: invalid input")
	// ErrDisputeInvalidState indicates the order is not in a state that permits
	// the requested dispute operation.
	ErrDisputeInvalidState = errors.New("dispute: invalid state")
)

// DisputeServiceDeps bundles collaborators required to construct the dispute service.
type DisputeServiceDeps struct {
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type disputeService struct {
	orders    repositories.OrderRepository
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewDisputeService wires dependencies into a concrete DisputeService implementation.
func NewDisputeService(deps DisputeServiceDeps) (DisputeService, error) {
	if deps.Orders == nil {
		return nil, errors.New("dispute service: order repository is required")
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

	return &disputeService{
		orders:    deps.Orders,
		clock:     clock,
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// ReportIssue attaches a delivery issue to a shipped order. A fresh report is
// only accepted when no issue is currently awaiting acknowledgement; reopening
// after a closed dispute resets both resolved flags.
func (s *disputeService) ReportIssue(ctx context.Context, cmd ReportIssueCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDisputeInvalidInput)
	}
	if !cmd.Category.Valid() {
		return Order{}, fmt.Errorf("%w: unknown issue category %q", ErrDisputeInvalidInput, string(cmd.Category))
	}

	description := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Description))
	if len(description) > maxIssueDescriptionLength {
		return Order{}, fmt.Errorf("%w: description exceeds %d characters", ErrDisputeInvalidInput, maxIssueDescriptionLength)
	}

	buyerID := strings.TrimSpace(cmd.BuyerID)
	now := s.now()

	order, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if current.Status != domain.OrderStatusShipped {
			return domain.Order{}, fmt.Errorf("%w: issues can only be reported on shipped orders, status is %q", ErrDisputeInvalidState, current.Status)
		}
		if buyerID != "" && current.BuyerID != buyerID {
			return domain.Order{}, fmt.Errorf("%w: order does not belong to buyer", ErrDisputeInvalidInput)
		}
		if current.DeliveryIssue != nil && current.DeliveryIssue.Open() {
			return domain.Order{}, fmt.Errorf("%w: an unresolved issue already exists", ErrDisputeInvalidState)
		}
		current.DeliveryIssue = &domain.DeliveryIssue{
			HasIssue:    true,
			Category:    cmd.Category,
			Description: description,
			ReportedAt:  now,
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.newID, s.logger, OrderEventMessage{
		EventType:   disputeEventReported,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		OccurredAt:  now,
	})

	s.logger(ctx, "dispute.reported", map[string]any{
		"order":    order.ID,
		"seller":   order.SellerID,
		"category": string(cmd.Category),
	})

	return order, nil
}

// ResolveIssue records one side's acknowledgement. The issue closes, without
// touching the order status, once both buyer and seller have acknowledged.
func (s *disputeService) ResolveIssue(ctx context.Context, cmd ResolveIssueCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDisputeInvalidInput)
	}
	if cmd.Actor != domain.DisputeActorBuyer && cmd.Actor != domain.DisputeActorSeller {
		return Order{}, fmt.Errorf("%w: unknown actor %q", ErrDisputeInvalidInput, string(cmd.Actor))
	}

	now := s.now()
	var closed bool

	order, err := s.orders.Mutate(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		issue := current.DeliveryIssue
		if issue == nil || !issue.Open() {
			return domain.Order{}, fmt.Errorf("%w: no open delivery issue on this order", ErrDisputeInvalidState)
		}

		updated := *issue
		switch cmd.Actor {
		case domain.DisputeActorBuyer:
			updated.BuyerResolved = true
		case domain.DisputeActorSeller:
			updated.SellerResolved = true
		}
		if updated.BuyerResolved && updated.SellerResolved {
			updated.HasIssue = false
			updated.ResolvedAt = &now
			closed = true
		}

		current.DeliveryIssue = &updated
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if closed {
		publishOrderEvent(ctx, s.events, s.newID, s.logger, OrderEventMessage{
			EventType:   disputeEventResolved,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			Status:      string(order.Status),
			OccurredAt:  now,
		})
	}

	s.logger(ctx, "dispute.resolved", map[string]any{
		"order":  order.ID,
		"actor":  string(cmd.Actor),
		"closed": closed,
	})

	return order, nil
}

func (s *disputeService) CountOpenIssues(ctx context.Context, sellerID string) (int, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return 0, fmt.Errorf("%w: seller id is required", ErrDisputeInvalidInput)
	}

	count, err := s.orders.CountOpenIssues(ctx, sellerID)
	if err != nil {
		return 0, mapOrderRepositoryError(err)
	}
	return count, nil
}

func (s *disputeService) now() time.Time {
	return s.clock()
}
