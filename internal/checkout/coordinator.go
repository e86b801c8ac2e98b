// Package checkout turns a cart submission into either a created order or a
// clean failure with no net stock change.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/stock"
)

type CartItem struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

type Cart struct {
	// ExternalID is the client idempotency key; resubmitting the same key
	// returns the already-created order.
	ExternalID      string               `json:"external_id,omitempty"`
	Items           []CartItem           `json:"items"`
	ShippingAddress orders.Address       `json:"shipping_address"`
	PaymentMethod   orders.PaymentMethod `json:"payment_method"`
}

var ErrEmptyCart = errors.New("cart has no items")

// Ledger is the slice of the stock ledger the coordinator drives.
type Ledger interface {
	Reserve(ctx context.Context, orderNumber, productID, size string, qty int) (stock.Snapshot, error)
	Release(ctx context.Context, orderNumber, productID, size string, qty int) error
}

// OrderStore is what the coordinator needs from order persistence.
type OrderStore interface {
	Insert(ctx context.Context, o *orders.Order) error
	GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
}

// Pricing is the policy frozen into each order at creation.
type Pricing struct {
	ShippingFlatCents    int64
	FreeShippingMinCents int64
	TaxRateBps           int64
}

func (p Pricing) shipping(subtotal int64) int64 {
	if p.FreeShippingMinCents > 0 && subtotal >= p.FreeShippingMinCents {
		return 0
	}
	return p.ShippingFlatCents
}

func (p Pricing) tax(subtotal int64) int64 {
	return subtotal * p.TaxRateBps / 10000
}

type Coordinator struct {
	Ledger   Ledger
	Store    OrderStore
	Producer orders.Publisher // may be nil in tests
	Pricing  Pricing
	Service  string
	Log      *zap.Logger
}

// CreateOrder reserves stock for each line item in submission order, then
// creates the order in state pending. On the first shortfall it compensates
// by releasing everything already reserved, in reverse order, and returns
// the InsufficientStockError naming the failing item; the caller sees no
// order and no net stock change. Prices and product snapshots come from the
// reserve call itself, never from the client.
func (c *Coordinator) CreateOrder(ctx context.Context, userID string, cart Cart) (*orders.Order, error) {
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, it := range cart.Items {
		if it.Qty < 1 {
			return nil, fmt.Errorf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}
	}
	if cart.PaymentMethod != orders.MethodOnline && cart.PaymentMethod != orders.MethodCOD {
		return nil, fmt.Errorf("invalid payment method %q", cart.PaymentMethod)
	}

	if cart.ExternalID != "" {
		if existing, err := c.Store.GetByExternalID(ctx, cart.ExternalID); err == nil {
			return existing, nil
		} else if !errors.Is(err, orders.ErrNotFound) {
			return nil, err
		}
	}

	// The order number is assigned before any reservation so the durable
	// reservation rows written by the ledger can be tied back to this
	// submission if we crash before the order row lands (sweeper path).
	orderNumber := orders.NewOrderNumber()

	// Duplicate (product, size) lines collapse into one quantity before
	// reserving: the ledger keys reservations by (order, product, size), so a
	// second line for the same key would read as a replay and never decrement.
	lines := mergeLines(cart.Items)

	items := make([]orders.OrderItem, 0, len(lines))
	var subtotal int64
	for i, it := range lines {
		snap, err := c.Ledger.Reserve(ctx, orderNumber, it.ProductID, it.Size, it.Qty)
		if err != nil {
			c.compensate(ctx, orderNumber, lines[:i])
			return nil, err
		}
		items = append(items, orders.OrderItem{
			ProductID:  it.ProductID,
			Name:       snap.Name,
			PriceCents: snap.PriceCents,
			Qty:        it.Qty,
			Size:       it.Size,
			Color:      snap.Color,
			ImageURL:   snap.ImageURL,
		})
		subtotal += snap.PriceCents * int64(it.Qty)
	}

	shipping := c.Pricing.shipping(subtotal)
	tax := c.Pricing.tax(subtotal)
	now := time.Now().UTC()
	o := &orders.Order{
		ID:              uuid.NewString(),
		OrderNumber:     orderNumber,
		ExternalID:      cart.ExternalID,
		UserID:          userID,
		Items:           items,
		ShippingAddress: cart.ShippingAddress,
		SubtotalCents:   subtotal,
		ShippingCents:   shipping,
		TaxCents:        tax,
		TotalCents:      subtotal + shipping + tax,
		PaymentMethod:   cart.PaymentMethod,
		PaymentStatus:   orders.PaymentPending,
		Status:          orders.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.Store.Insert(ctx, o); err != nil {
		// The reservations stay attached to the order number; compensate now
		// rather than leaving them to the sweeper.
		c.compensate(ctx, orderNumber, lines)
		return nil, fmt.Errorf("create order: %w", err)
	}

	c.publishCreated(o)
	return o, nil
}

func mergeLines(items []CartItem) []CartItem {
	type lineKey struct{ productID, size string }
	index := make(map[lineKey]int, len(items))
	merged := make([]CartItem, 0, len(items))
	for _, it := range items {
		k := lineKey{it.ProductID, it.Size}
		if j, ok := index[k]; ok {
			merged[j].Qty += it.Qty
			continue
		}
		index[k] = len(merged)
		merged = append(merged, it)
	}
	return merged
}

// compensate releases already-reserved items in reverse submission order.
// Release never fails for business reasons; infra errors are logged and the
// sweeper picks up whatever remains.
func (c *Coordinator) compensate(ctx context.Context, orderNumber string, reserved []CartItem) {
	for i := len(reserved) - 1; i >= 0; i-- {
		it := reserved[i]
		if err := c.Ledger.Release(ctx, orderNumber, it.ProductID, it.Size, it.Qty); err != nil {
			c.Log.Error("compensating release failed, sweeper will reconcile",
				zap.String("order_number", orderNumber),
				zap.String("product_id", it.ProductID), zap.String("size", it.Size),
				zap.Int("qty", it.Qty), zap.Error(err))
		}
	}
}

func (c *Coordinator) publishCreated(o *orders.Order) {
	if c.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.Service,
		CorrelationID: o.OrderNumber,
		Payload: kafkax.MustMarshal(orders.CreatedPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			Items:       o.Items,
			TotalCents:  o.TotalCents,
		}),
	}
	c.Producer.Publish(orders.PartitionKey(o.OrderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
