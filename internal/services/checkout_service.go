package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals the checkout payload failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPartialFailure indicates some per-seller orders could not be
	// persisted. Orders already created are kept; the caller retries only the
	// failed sellers.
	ErrCheckoutPartialFailure = errors.New("checkout: partially failed")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	counters repositories.CounterRepository
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
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

	return &checkoutService{
		orders:   deps.Orders,
		products: deps.Products,
		counters: deps.Counters,
		clock:    clock,
		newID:    idGen,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

// CreateOrders fans one buyer checkout out into one pending order per seller.
// Each order snapshots product name, image, and price at checkout time and its
// total is recomputed from its own line items. There is no cross-order
// transaction: a failure persisting one seller's order leaves the others in
// place and is reported per seller.
func (s *checkoutService) CreateOrders(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: at least one line item is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.PaymentMethod) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Address) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
	}

	productIDs := make([]string, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return CheckoutResult{}, fmt.Errorf("%w: item %d is missing a product id", ErrCheckoutInvalidInput, i)
		}
		if item.Quantity < 1 {
			return CheckoutResult{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrCheckoutInvalidInput, i)
		}
		productIDs = append(productIDs, productID)
	}

	products, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout: loading products: %w", err)
	}

	// Group line items by seller, preserving first-appearance order and
	// keeping duplicate product lines distinct.
	sellerOrder := make([]string, 0, len(cmd.Items))
	linesBySeller := make(map[string][]domain.OrderLineItem)
	for _, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		product, ok := products[productID]
		if !ok {
			return CheckoutResult{}, fmt.Errorf("%w: product %s does not exist", ErrCheckoutInvalidInput, productID)
		}
		if _, seen := linesBySeller[product.SellerID]; !seen {
			sellerOrder = append(sellerOrder, product.SellerID)
		}
		linesBySeller[product.SellerID] = append(linesBySeller[product.SellerID], domain.OrderLineItem{
			ProductRef: product.ID,
			SellerRef:  product.SellerID,
			Name:       product.Name,
			ImageURL:   product.ImageURL,
			UnitPrice:  product.UnitPrice,
			Quantity:   item.Quantity,
			Total:      product.UnitPrice * int64(item.Quantity),
		})
	}

	now := s.now()
	address := cmd.ShippingAddress
	result := CheckoutResult{}

	for _, sellerID := range sellerOrder {
		lines := linesBySeller[sellerID]

		var total int64
		for _, line := range lines {
			total += line.Total
		}

		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			result.Failed = append(result.Failed, CheckoutFailure{SellerID: sellerID, Reason: err.Error()})
			s.logger(ctx, "checkout.order.failed", map[string]any{
				"buyer":  buyerID,
				"seller": sellerID,
				"error":  err.Error(),
			})
			continue
		}

		order := domain.Order{
			ID:              orderIDPrefix + s.newID(),
			OrderNumber:     number,
			BuyerID:         buyerID,
			SellerID:        sellerID,
			Status:          domain.OrderStatusPending,
			Items:           lines,
			Total:           total,
			ShippingAddress: address,
			PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.orders.Insert(ctx, order); err != nil {
			result.Failed = append(result.Failed, CheckoutFailure{SellerID: sellerID, Reason: err.Error()})
			s.logger(ctx, "checkout.order.failed", map[string]any{
				"buyer":  buyerID,
				"seller": sellerID,
				"error":  err.Error(),
			})
			continue
		}

		result.Created = append(result.Created, order)

		publishOrderEvent(ctx, s.events, s.newID, s.logger, OrderEventMessage{
			EventType:   orderEventCreated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			Status:      string(order.Status),
			OccurredAt:  now,
		})
	}

	if len(result.Failed) > 0 {
		s.logger(ctx, "checkout.partial_failure", map[string]any{
			"buyer":   buyerID,
			"created": len(result.Created),
			"failed":  len(result.Failed),
		})
		return result, ErrCheckoutPartialFailure
	}

	return result, nil
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders-%d", now.Year()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CB-%d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}
