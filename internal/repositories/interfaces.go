package repositories

import (
	"context"
	"time"

	domain "github.com/craftbazaar/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents and provides transactional lifecycle helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListBySeller(ctx context.Context, sellerID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// Mutate applies fn to the current order state inside a transaction and
	// persists the returned order. Errors from fn abort the transaction.
	Mutate(ctx context.Context, orderID string, fn func(domain.Order) (domain.Order, error)) (domain.Order, error)

	// Confirm transitions a pending order to confirmed and decrements product
	// stock in the same transaction. Stock is deducted exactly once per order.
	Confirm(ctx context.Context, req OrderConfirmRequest) (OrderConfirmResult, error)

	// CountOpenIssues counts shipped orders for the seller whose delivery issue
	// is still awaiting acknowledgement from either party.
	CountOpenIssues(ctx context.Context, sellerID string) (int, error)
}

// OrderConfirmRequest carries the inputs for the confirm transition.
type OrderConfirmRequest struct {
	OrderID string
	Now     time.Time
}

// OrderConfirmResult reports the confirmed order and any stock shortfalls
// observed while deducting.
type OrderConfirmResult struct {
	Order     domain.Order
	Anomalies []StockShortfall
}

// StockShortfall records a deduction that drove a product's quantity negative.
type StockShortfall struct {
	ProductRef string
	Requested  int
	Remaining  int
}

// OrderListFilter narrows order listings by status and creation window.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ProductRepository stores seller catalog entries and stock levels.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) (domain.Product, error)
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error)

	// AdjustStock atomically shifts a product's quantity by delta and returns
	// the updated product. Negative results are permitted and surfaced as-is.
	AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
