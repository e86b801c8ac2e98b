package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/stock"
)

// Store is the persistence slice the service needs; *Repo implements it.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order, expectedVersion int64, release bool) ([]stock.Item, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store    Store
	Producer Publisher // may be nil in tests
	Service  string
	Log      *zap.Logger
}

// Transition loads the order, applies the event under per-order serialization
// (optimistic version check) and persists. A version conflict is retried once
// with fresh state, then surfaced as ErrConcurrentModification; the retry
// re-runs the legal-transition check rather than overwriting.
func (s *Service) Transition(ctx context.Context, orderID string, t Transition) (*Order, error) {
	o, _, err := s.TransitionChanged(ctx, orderID, t)
	return o, err
}

// TransitionChanged additionally reports whether the order actually changed,
// so callers handling at-least-once deliveries can suppress side effects on
// replays.
func (s *Service) TransitionChanged(ctx context.Context, orderID string, t Transition) (*Order, bool, error) {
	const attempts = 2
	for attempt := 1; ; attempt++ {
		o, err := s.Store.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}

		eff, err := o.Apply(t, time.Now().UTC())
		if err != nil {
			return nil, false, err
		}
		if !eff.Changed {
			// idempotent no-op, nothing to persist or announce
			return o, false, nil
		}

		released, err := s.Store.Update(ctx, o, o.Version, eff.ReleaseStock)
		if errors.Is(err, ErrConcurrentModification) && attempt < attempts {
			s.Log.Info("transition conflict, retrying",
				zap.String("order_id", orderID), zap.String("kind", string(t.Kind)))
			continue
		}
		if err != nil {
			return nil, false, err
		}

		for _, it := range released {
			s.Log.Info("stock released on cancel",
				zap.String("product_id", it.ProductID), zap.String("size", it.Size),
				zap.Int("qty", it.Qty), zap.String("order_number", o.OrderNumber))
		}

		s.publishStatusChanged(o, eff, t)
		return o, true, nil
	}
}

func (s *Service) publishStatusChanged(o *Order, eff Effect, t Transition) {
	if s.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: o.OrderNumber,
		Payload: kafkax.MustMarshal(StatusChangedPayload{
			OrderID:           o.ID,
			OrderNumber:       o.OrderNumber,
			PrevStatus:        eff.PrevStatus,
			Status:            o.Status,
			PrevPaymentStatus: eff.PrevPayment,
			PaymentStatus:     o.PaymentStatus,
			Reason:            t.CancellationReason,
		}),
	}
	s.Producer.Publish(PartitionKey(o.OrderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
