// Package returns owns return/refund requests and their status machine. On
// completion of a refund-type return the parent order's payment status moves
// to refunded; restocking is an explicit, separately-gated ledger call.
package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/trovashop/orders/internal/kafka"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/stock"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
}

// RequestStore is the persistence slice the service drives; *Repo is the
// production implementation.
type RequestStore interface {
	Insert(ctx context.Context, rr *ReturnRequest) error
	Get(ctx context.Context, id string) (*ReturnRequest, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
}

type Transitioner interface {
	Transition(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, error)
}

type Restocker interface {
	RestockReturn(ctx context.Context, orderNumber string, items []stock.Item) error
}

type Service struct {
	Repo        RequestStore
	OrderReader OrderReader
	Orders      Transitioner
	Ledger      Restocker

	// RestockOnReturn turns completed returns back into stock. Off by
	// default: the business has not decided that returned goods are
	// resellable.
	RestockOnReturn bool

	Producer orders.Publisher // may be nil
	Service  string
	Log      *zap.Logger
}

// Create opens a return request for a delivered order.
func (s *Service) Create(ctx context.Context, userID, orderID string, typ Type, reason string) (*ReturnRequest, error) {
	if typ != TypeRefund && typ != TypeExchange {
		return nil, fmt.Errorf("invalid return type %q", typ)
	}
	o, err := s.OrderReader.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusDelivered {
		return nil, &orders.InvalidTransitionError{Current: string(o.Status), Target: string(StatusRequested)}
	}

	now := time.Now().UTC()
	rr := &ReturnRequest{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      userID,
		Type:        typ,
		Status:      StatusRequested,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Insert(ctx, rr); err != nil {
		return nil, err
	}
	s.publish(rr)
	return rr, nil
}

func (s *Service) Approve(ctx context.Context, id string) (*ReturnRequest, error) {
	return s.transition(ctx, id, StatusApproved)
}

func (s *Service) Reject(ctx context.Context, id string) (*ReturnRequest, error) {
	return s.transition(ctx, id, StatusRejected)
}

func (s *Service) PickUp(ctx context.Context, id string) (*ReturnRequest, error) {
	return s.transition(ctx, id, StatusPickedUp)
}

// Complete finishes the return. For refunds the order's payment status is
// pushed to refunded before the request is marked completed, so a failed
// refund never leaves a completed return behind; the refund transition is
// idempotent, so a retry after a partial failure converges.
func (s *Service) Complete(ctx context.Context, id string) (*ReturnRequest, error) {
	rr, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rr.Status, StatusCompleted) {
		return nil, &orders.InvalidTransitionError{Current: string(rr.Status), Target: string(StatusCompleted)}
	}

	if rr.Type == TypeRefund {
		if _, err := s.Orders.Transition(ctx, rr.OrderID, orders.Transition{Kind: orders.TransitionRefund}); err != nil {
			return nil, fmt.Errorf("refund order %s: %w", rr.OrderID, err)
		}
	}

	ok, err := s.Repo.UpdateStatus(ctx, rr.ID, rr.Status, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orders.ErrConcurrentModification
	}
	rr.Status = StatusCompleted

	if s.RestockOnReturn {
		if err := s.restock(ctx, rr); err != nil {
			// The return stays completed; restock is reconciled manually.
			s.Log.Error("restock after return failed",
				zap.String("order_number", rr.OrderNumber), zap.Error(err))
		}
	}

	s.publish(rr)
	return rr, nil
}

func (s *Service) transition(ctx context.Context, id string, target Status) (*ReturnRequest, error) {
	rr, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rr.Status, target) {
		return nil, &orders.InvalidTransitionError{Current: string(rr.Status), Target: string(target)}
	}
	ok, err := s.Repo.UpdateStatus(ctx, rr.ID, rr.Status, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orders.ErrConcurrentModification
	}
	rr.Status = target
	s.publish(rr)
	return rr, nil
}

func (s *Service) restock(ctx context.Context, rr *ReturnRequest) error {
	o, err := s.OrderReader.Get(ctx, rr.OrderID)
	if err != nil {
		return err
	}
	items := make([]stock.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, stock.Item{ProductID: it.ProductID, Size: it.Size, Qty: it.Qty})
	}
	return s.Ledger.RestockReturn(ctx, rr.OrderNumber, items)
}

func (s *Service) publish(rr *ReturnRequest) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventReturnUpdate,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: rr.OrderNumber,
		Payload: kafkax.MustMarshal(orders.ReturnUpdatePayload{
			ReturnID:    rr.ID,
			OrderID:     rr.OrderID,
			OrderNumber: rr.OrderNumber,
			Type:        string(rr.Type),
			Status:      string(rr.Status),
		}),
	}
	s.Producer.Publish(orders.PartitionKey(rr.OrderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventReturnUpdate)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
