package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftbazaar/api/internal/domain"
	pfirestore "github.com/craftbazaar/api/internal/platform/firestore"
	"github.com/craftbazaar/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents and runs transactional lifecycle operations.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, products: products}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return wrapOrderError("orders.insert", err)
	}
	return nil
}

// FindByID fetches an order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByBuyer returns the buyer's orders sorted by creation time descending.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "buyerRef", buyerID, filter)
}

// ListBySeller returns the seller's orders sorted by creation time descending.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "sellerRef", sellerID, filter)
}

func (r *OrderRepository) list(ctx context.Context, field, value string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: %s is required", field)
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query.Where(field, "==", value)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Mutate applies fn to the stored order inside a transaction and persists the result.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutation function is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		next, err := fn(doc.toDomain(orderID))
		if err != nil {
			return err
		}
		next.ID = orderID

		if err := tx.Set(ref, encodeOrderDocument(next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.mutate", err)
	}
	return updated, nil
}

// Confirm moves a pending order to confirmed and deducts product stock in one
// transaction. The deduction runs at most once per order: a replayed confirm
// on an already deducted order fails the status check and never touches stock.
func (r *OrderRepository) Confirm(ctx context.Context, req repositories.OrderConfirmRequest) (repositories.OrderConfirmResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderConfirmResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderConfirmResult{}, errors.New("order repository: order id is required")
	}

	now := req.Now.UTC()
	var result repositories.OrderConfirmResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Status != string(domain.OrderStatusPending) {
			return &repositories.OrderError{
				Code:          repositories.OrderErrorInvalidState,
				Message:       fmt.Sprintf("order %s cannot be confirmed from status %s", orderID, doc.Status),
				CurrentStatus: domain.OrderStatus(doc.Status),
			}
		}

		// All reads happen before any write. Product snapshots are collected
		// first so the deduction plan is known up front.
		type productWrite struct {
			ref      *firestore.DocumentRef
			doc      productDocument
			quantity int
		}
		var writes []productWrite
		var anomalies []repositories.StockShortfall
		anomaly := false

		if !doc.StockDeducted {
			for _, line := range doc.Items {
				productID := strings.TrimSpace(line.ProductRef)
				if productID == "" || line.Quantity <= 0 {
					continue
				}
				productRef, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				productSnap, err := tx.Get(productRef)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						anomaly = true
						anomalies = append(anomalies, repositories.StockShortfall{
							ProductRef: productID,
							Requested:  line.Quantity,
							Remaining:  0,
						})
						continue
					}
					return err
				}
				var productDoc productDocument
				if err := productSnap.DataTo(&productDoc); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				remaining := productDoc.Quantity - line.Quantity
				if remaining < 0 {
					anomaly = true
					anomalies = append(anomalies, repositories.StockShortfall{
						ProductRef: productID,
						Requested:  line.Quantity,
						Remaining:  remaining,
					})
				}
				productDoc.Quantity = remaining
				productDoc.UpdatedAt = now
				writes = append(writes, productWrite{ref: productRef, doc: productDoc, quantity: line.Quantity})
			}
			doc.StockDeducted = true
		}

		doc.Status = string(domain.OrderStatusConfirmed)
		doc.StockAnomaly = doc.StockAnomaly || anomaly
		doc.ConfirmedAt = &now
		doc.UpdatedAt = now

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}

		result = repositories.OrderConfirmResult{
			Order:     doc.toDomain(orderID),
			Anomalies: anomalies,
		}
		return nil
	})
	if err != nil {
		return repositories.OrderConfirmResult{}, wrapOrderError("orders.confirm", err)
	}
	return result, nil
}

// CountOpenIssues counts the seller's orders with an unresolved delivery issue.
func (r *OrderRepository) CountOpenIssues(ctx context.Context, sellerID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return 0, errors.New("order repository: seller id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, wrapOrderError("orders.countOpenIssues", err)
	}

	query := client.Collection(ordersCollection).Query.
		Where("sellerRef", "==", sellerID).
		Where("issueOpen", "==", true).
		Select()

	iter := query.Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, wrapOrderError("orders.countOpenIssues", err)
		}
		count++
	}
	return count, nil
}

// Document encoding ----------------------------------------------------------

type orderDocument struct {
	OrderNumber   string             `firestore:"orderNumber"`
	BuyerRef      string             `firestore:"buyerRef"`
	SellerRef     string             `firestore:"sellerRef"`
	Status        string             `firestore:"status"`
	Items         []lineItemDocument `firestore:"items"`
	Total         int64              `firestore:"total"`
	Shipping      addressDocument    `firestore:"shippingAddress"`
	PaymentMethod string             `firestore:"paymentMethod,omitempty"`
	StockDeducted bool               `firestore:"stockDeducted"`
	StockAnomaly  bool               `firestore:"stockAnomaly"`
	Issue         *issueDocument     `firestore:"issue,omitempty"`
	IssueOpen     bool               `firestore:"issueOpen"`
	CancelReason  *string            `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time          `firestore:"createdAt"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
	ConfirmedAt   *time.Time         `firestore:"confirmedAt,omitempty"`
	PackedAt      *time.Time         `firestore:"packedAt,omitempty"`
	ShippedAt     *time.Time         `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time         `firestore:"deliveredAt,omitempty"`
	RejectedAt    *time.Time         `firestore:"rejectedAt,omitempty"`
	CancelledAt   *time.Time         `firestore:"cancelledAt,omitempty"`
}

type lineItemDocument struct {
	ProductRef string `firestore:"productRef"`
	SellerRef  string `firestore:"sellerRef"`
	Name       string `firestore:"name"`
	ImageURL   string `firestore:"imageUrl,omitempty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"qty"`
	Total      int64  `firestore:"total"`
}

type addressDocument struct {
	Name    string `firestore:"name"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
}

type issueDocument struct {
	HasIssue       bool       `firestore:"hasIssue"`
	Category       string     `firestore:"category"`
	Description    string     `firestore:"description"`
	BuyerResolved  bool       `firestore:"buyerResolved"`
	SellerResolved bool       `firestore:"sellerResolved"`
	ReportedAt     time.Time  `firestore:"reportedAt"`
	ResolvedAt     *time.Time `firestore:"resolvedAt,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = lineItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SellerRef:  strings.TrimSpace(item.SellerRef),
			Name:       item.Name,
			ImageURL:   item.ImageURL,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		}
	}

	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		BuyerRef:      strings.TrimSpace(order.BuyerID),
		SellerRef:     strings.TrimSpace(order.SellerID),
		Status:        string(order.Status),
		Items:         items,
		Total:         order.Total,
		Shipping:      addressDocument(order.ShippingAddress),
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		StockDeducted: order.StockDeducted,
		StockAnomaly:  order.StockAnomaly,
		IssueOpen:     order.DeliveryIssue.Open(),
		CancelReason:  order.CancelReason,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ConfirmedAt:   order.ConfirmedAt,
		PackedAt:      order.PackedAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		RejectedAt:    order.RejectedAt,
		CancelledAt:   order.CancelledAt,
	}
	if order.DeliveryIssue != nil {
		doc.Issue = &issueDocument{
			HasIssue:       order.DeliveryIssue.HasIssue,
			Category:       string(order.DeliveryIssue.Category),
			Description:    order.DeliveryIssue.Description,
			BuyerResolved:  order.DeliveryIssue.BuyerResolved,
			SellerResolved: order.DeliveryIssue.SellerResolved,
			ReportedAt:     order.DeliveryIssue.ReportedAt.UTC(),
			ResolvedAt:     order.DeliveryIssue.ResolvedAt,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SellerRef:  strings.TrimSpace(item.SellerRef),
			Name:       item.Name,
			ImageURL:   item.ImageURL,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		}
	}

	order := domain.Order{
		ID:            id,
		OrderNumber:   strings.TrimSpace(d.OrderNumber),
		BuyerID:       strings.TrimSpace(d.BuyerRef),
		SellerID:      strings.TrimSpace(d.SellerRef),
		Status:        domain.OrderStatus(d.Status),
		Items:         items,
		Total:         d.Total,
		ShippingAddress: domain.ShippingAddress{
			Name:    d.Shipping.Name,
			Phone:   d.Shipping.Phone,
			Address: d.Shipping.Address,
		},
		PaymentMethod: strings.TrimSpace(d.PaymentMethod),
		StockDeducted: d.StockDeducted,
		StockAnomaly:  d.StockAnomaly,
		CancelReason:  d.CancelReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ConfirmedAt:   d.ConfirmedAt,
		PackedAt:      d.PackedAt,
		ShippedAt:     d.ShippedAt,
		DeliveredAt:   d.DeliveredAt,
		RejectedAt:    d.RejectedAt,
		CancelledAt:   d.CancelledAt,
	}
	if d.Issue != nil {
		order.DeliveryIssue = &domain.DeliveryIssue{
			HasIssue:       d.Issue.HasIssue,
			Category:       domain.IssueCategory(d.Issue.Category),
			Description:    d.Issue.Description,
			BuyerResolved:  d.Issue.BuyerResolved,
			SellerResolved: d.Issue.SellerResolved,
			ReportedAt:     d.Issue.ReportedAt,
			ResolvedAt:     d.Issue.ResolvedAt,
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
