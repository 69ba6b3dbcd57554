package services

import (
	"context"
	"time"

	"github.com/craftbazaar/api/internal/domain"
	"github.com/craftbazaar/api/internal/repositories"
)

// Domain aliases re-exported for handler convenience.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Product         = domain.Product
	Order           = domain.Order
	OrderLineItem   = domain.OrderLineItem
	OrderStatus     = domain.OrderStatus
	ShippingAddress = domain.ShippingAddress
	DeliveryIssue   = domain.DeliveryIssue
	IssueCategory   = domain.IssueCategory
	DisputeActor    = domain.DisputeActor
	SellerAnalytics = domain.SellerAnalytics
	ProductSales    = domain.ProductSales
	OrderCounts     = domain.OrderCounts

	SystemHealthCheck  = domain.SystemHealthCheck
	SystemHealthReport = domain.SystemHealthReport
)

type OrderListFilter = repositories.OrderListFilter

// CheckoutService splits a buyer checkout into per-seller orders.
type CheckoutService interface {
	CreateOrders(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// OrderService exposes order reads and status lifecycle transitions.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListSellerOrders(ctx context.Context, sellerID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// DisputeService tracks delivery issue reports and their two-sided resolution.
type DisputeService interface {
	ReportIssue(ctx context.Context, cmd ReportIssueCommand) (Order, error)
	ResolveIssue(ctx context.Context, cmd ResolveIssueCommand) (Order, error)
	CountOpenIssues(ctx context.Context, sellerID string) (int, error)
}

// AnalyticsService aggregates a seller's order history into revenue and sales figures.
type AnalyticsService interface {
	ComputeSellerAnalytics(ctx context.Context, sellerID string) (SellerAnalytics, error)
}

// CatalogService manages seller product listings and stock levels.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListSellerProducts(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[Product], error)
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the payload emitted after checkout and status changes.
type OrderEventMessage struct {
	EventID     string
	EventType   string
	OrderID     string
	OrderNumber string
	BuyerID     string
	SellerID    string
	Status      string
	OccurredAt  time.Time
}

// Command and DTO definitions ------------------------------------------------

type CheckoutCommand struct {
	BuyerID         string
	Items           []CheckoutItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
}

type CheckoutItem struct {
	ProductID string
	Quantity  int
}

// CheckoutResult reports the per-seller outcome of a checkout fan-out.
// Failed is non-empty when one or more seller orders could not be
// persisted; orders already created are not rolled back.
type CheckoutResult struct {
	Created []Order
	Failed  []CheckoutFailure
}

type CheckoutFailure struct {
	SellerID string
	Reason   string
}

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type ReportIssueCommand struct {
	OrderID     string
	BuyerID     string
	Category    IssueCategory
	Description string
}

type ResolveIssueCommand struct {
	OrderID string
	Actor   DisputeActor
}

type CreateProductCommand struct {
	SellerID    string
	Name        string
	Description string
	ImageURL    string
	UnitPrice   int64
	Quantity    int
}

type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	ImageURL    *string
	UnitPrice   *int64
	Quantity    *int
}

type AdjustStockCommand struct {
	ProductID string
	Delta     int
}
