package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Product is a seller-owned catalog entry. Orders embed a snapshot of its
// display fields, so editing or removing a product never alters order history.
type Product struct {
	ID          string
	SellerID    string
	Name        string
	Description string
	ImageURL    string
	UnitPrice   int64
	Quantity    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created by checkout and awaits seller confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the seller accepted the order; stock has been deducted.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPacked indicates the order has been packed and awaits carrier handoff.
	OrderStatusPacked OrderStatus = "packed"
	// OrderStatusShipped indicates the order is in transit.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the buyer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRejected indicates the seller declined a pending order. Terminal.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a single-seller slice of a buyer checkout. It is self-contained:
// line items and the shipping address are snapshots taken at creation time.
type Order struct {
	ID              string
	OrderNumber     string
	BuyerID         string
	SellerID        string
	Status          OrderStatus
	Items           []OrderLineItem
	Total           int64
	ShippingAddress ShippingAddress
	PaymentMethod   string
	StockDeducted   bool
	StockAnomaly    bool
	DeliveryIssue   *DeliveryIssue
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	PackedAt        *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	RejectedAt      *time.Time
	CancelledAt     *time.Time
}

// OrderLineItem captures one product entry at order time. Snapshot fields are
// immutable once the order exists.
type OrderLineItem struct {
	ProductRef string
	SellerRef  string
	Name       string
	ImageURL   string
	UnitPrice  int64
	Quantity   int
	Total      int64
}

// ShippingAddress is the delivery destination snapshot embedded in an order.
type ShippingAddress struct {
	Name    string
	Phone   string
	Address string
}

// IssueCategory enumerates delivery issue categories a buyer can report.
type IssueCategory string

const (
	// IssueNotReceived indicates the shipment never arrived.
	IssueNotReceived IssueCategory = "not_received"
	// IssueDamaged indicates the goods arrived damaged.
	IssueDamaged IssueCategory = "damaged"
	// IssueWrongItem indicates the wrong product was delivered.
	IssueWrongItem IssueCategory = "wrong_item"
	// IssueIncomplete indicates the delivery was missing items.
	IssueIncomplete IssueCategory = "incomplete"
	// IssueOther covers anything the fixed categories do not.
	IssueOther IssueCategory = "other"
)

// DeliveryIssue tracks a buyer-reported problem with a shipped order. The
// issue stays open until both buyer and seller acknowledge resolution.
type DeliveryIssue struct {
	HasIssue       bool
	Category       IssueCategory
	Description    string
	BuyerResolved  bool
	SellerResolved bool
	ReportedAt     time.Time
	ResolvedAt     *time.Time
}

// DisputeActor identifies which side of a dispute acknowledges resolution.
type DisputeActor string

const (
	// DisputeActorBuyer marks the buyer-side acknowledgement.
	DisputeActorBuyer DisputeActor = "buyer"
	// DisputeActorSeller marks the seller-side acknowledgement.
	DisputeActorSeller DisputeActor = "seller"
)

// ProductSales aggregates units and revenue for one product in seller analytics.
type ProductSales struct {
	ProductRef string
	Name       string
	UnitsSold  int
	Revenue    int64
}

// OrderCounts summarises a seller's order volume by fulfillment progress.
type OrderCounts struct {
	Total     int
	Delivered int
	Shipped   int
}

// SellerAnalytics is the read-side aggregate over a seller's order history.
// Revenue fields count only shipped/delivered orders; units sold count every
// order that was not cancelled or rejected.
type SellerAnalytics struct {
	SellerID       string
	TotalRevenue   int64
	WeeklyRevenue  int64
	MonthlyRevenue int64
	YearlyRevenue  int64
	Products       []ProductSales
	BestSeller     *ProductSales
	Orders         OrderCounts
	GeneratedAt    time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Terminal reports whether no further transition is legal from status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a member of the closed enumeration.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPacked,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the category is a member of the closed enumeration.
func (c IssueCategory) Valid() bool {
	switch c {
	case IssueNotReceived, IssueDamaged, IssueWrongItem, IssueIncomplete, IssueOther:
		return true
	}
	return false
}

// Open reports whether the issue record still awaits at least one acknowledgement.
func (d *DeliveryIssue) Open() bool {
	return d != nil && d.HasIssue && !(d.BuyerResolved && d.SellerResolved)
}
