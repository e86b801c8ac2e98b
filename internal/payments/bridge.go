// Package payments translates payment-gateway callbacks into order
// transitions.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/redisx"
)

// Callback is the gateway's verification result for one payment attempt.
type Callback struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type Transitioner interface {
	Transition(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, error)
	TransitionChanged(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, bool, error)
}

type Bridge struct {
	Orders   Transitioner
	Verifier Verifier
	Redis    *redis.Client    // webhook dedup fast path; may be nil
	Producer orders.Publisher // may be nil
	Service  string
	Log      *zap.Logger
}

// HandleCallback verifies the signature and applies the matching payment
// transition. Gateways deliver at least once: replays are absorbed both by a
// redis dedup claim and by the aggregate's no-op semantics, so the second
// identical callback has no side effect.
func (b *Bridge) HandleCallback(ctx context.Context, cb Callback) (*orders.Order, error) {
	if cb.OrderID == "" || cb.PaymentID == "" {
		return nil, fmt.Errorf("%w: missing order or payment id", ErrVerificationFailed)
	}

	if !b.Verifier.Verify(cb.OrderID, cb.PaymentID, cb.Signature) {
		b.Log.Warn("payment signature rejected",
			zap.String("order_id", cb.OrderID), zap.String("payment_id", cb.PaymentID))
		if _, err := b.Orders.Transition(ctx, cb.OrderID, orders.Transition{Kind: orders.TransitionPaymentFailed}); err != nil {
			b.Log.Warn("could not record failed payment", zap.String("order_id", cb.OrderID), zap.Error(err))
		}
		return nil, ErrVerificationFailed
	}

	if b.Redis != nil {
		// Best-effort claim so replays are visible in the logs; the
		// aggregate's no-op detection below is the authoritative guard.
		key := fmt.Sprintf(redisx.KeyDedup, "payment", cb.PaymentID)
		if first, err := redisx.Claim(ctx, b.Redis, key, redisx.TTLDedup); err == nil && !first {
			b.Log.Info("payment webhook replay", zap.String("payment_id", cb.PaymentID))
		}
	}

	o, changed, err := b.Orders.TransitionChanged(ctx, cb.OrderID, orders.Transition{
		Kind:       orders.TransitionPaymentCompleted,
		PaymentRef: cb.PaymentID,
	})
	if err != nil {
		return nil, err
	}

	if changed {
		b.publishPayment(o)
	}
	return o, nil
}

func (b *Bridge) publishPayment(o *orders.Order) {
	if b.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentUpdate,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      b.Service,
		CorrelationID: o.OrderNumber,
		Payload: kafkax.MustMarshal(orders.PaymentUpdatePayload{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			PaymentStatus: o.PaymentStatus,
			PaymentRef:    o.PaymentRef,
		}),
	}
	b.Producer.Publish(orders.PartitionKey(o.OrderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentUpdate)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
