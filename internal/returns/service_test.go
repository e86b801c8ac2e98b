package returns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/stock"
)

type memRequests struct {
	byID map[string]*ReturnRequest
}

func (m *memRequests) Insert(ctx context.Context, rr *ReturnRequest) error {
	if m.byID == nil {
		m.byID = map[string]*ReturnRequest{}
	}
	cp := *rr
	m.byID[rr.ID] = &cp
	return nil
}

func (m *memRequests) Get(ctx context.Context, id string) (*ReturnRequest, error) {
	rr, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rr
	return &cp, nil
}

func (m *memRequests) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	rr, ok := m.byID[id]
	if !ok || rr.Status != from {
		return false, nil
	}
	rr.Status = to
	return true, nil
}

type fakeOrders struct {
	order *orders.Order
	calls []orders.Transition
}

func (f *fakeOrders) Get(ctx context.Context, id string) (*orders.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, orders.ErrNotFound
	}
	cp := *f.order
	return &cp, nil
}

func (f *fakeOrders) Transition(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, error) {
	f.calls = append(f.calls, t)
	if f.order == nil || f.order.ID != orderID {
		return nil, orders.ErrNotFound
	}
	if _, err := f.order.Apply(t, time.Now().UTC()); err != nil {
		return nil, err
	}
	cp := *f.order
	return &cp, nil
}

type recordingRestocker struct {
	calls [][]stock.Item
}

func (r *recordingRestocker) RestockReturn(ctx context.Context, orderNumber string, items []stock.Item) error {
	r.calls = append(r.calls, items)
	return nil
}

func deliveredOrder() *orders.Order {
	return &orders.Order{
		ID:            "ord-1",
		OrderNumber:   "ORD-AB12CD34EF56",
		Status:        orders.StatusDelivered,
		PaymentStatus: orders.PaymentCompleted,
		Items: []orders.OrderItem{
			{ProductID: "p1", Size: "M", Qty: 2},
		},
	}
}

func newTestService(fo *fakeOrders) (*Service, *recordingRestocker) {
	rs := &recordingRestocker{}
	return &Service{
		Repo:        &memRequests{},
		OrderReader: fo,
		Orders:      fo,
		Ledger:      rs,
		Service:     "returns-test",
		Log:         zap.NewNop(),
	}, rs
}

func TestCreateRequiresDeliveredOrder(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	fo.order.Status = orders.StatusShipped
	s, _ := newTestService(fo)

	_, err := s.Create(context.Background(), "u-1", "ord-1", TypeRefund, "wrong size")
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(orders.StatusShipped), invalid.Current)
}

func TestCreateOpensRequest(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	s, _ := newTestService(fo)

	rr, err := s.Create(context.Background(), "u-1", "ord-1", TypeRefund, "wrong size")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, rr.Status)
	assert.Equal(t, "ORD-AB12CD34EF56", rr.OrderNumber)

	_, err = s.Create(context.Background(), "u-1", "ord-1", "store_credit", "")
	require.Error(t, err)
}

func TestLifecycleToCompletedRefundsOrder(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	s, restocker := newTestService(fo)

	rr, err := s.Create(context.Background(), "u-1", "ord-1", TypeRefund, "damaged")
	require.NoError(t, err)

	rr, err = s.Approve(context.Background(), rr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, rr.Status)

	rr, err = s.PickUp(context.Background(), rr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPickedUp, rr.Status)

	rr, err = s.Complete(context.Background(), rr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rr.Status)

	assert.Equal(t, orders.PaymentRefunded, fo.order.PaymentStatus)
	assert.Empty(t, restocker.calls, "restock is off by default")
}

func TestCompleteExchangeDoesNotRefund(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	s, _ := newTestService(fo)

	rr, err := s.Create(context.Background(), "u-1", "ord-1", TypeExchange, "size swap")
	require.NoError(t, err)
	_, err = s.Approve(context.Background(), rr.ID)
	require.NoError(t, err)
	_, err = s.PickUp(context.Background(), rr.ID)
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), rr.ID)
	require.NoError(t, err)

	assert.Empty(t, fo.calls)
	assert.Equal(t, orders.PaymentCompleted, fo.order.PaymentStatus)
}

func TestCompleteRestocksWhenEnabled(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	s, restocker := newTestService(fo)
	s.RestockOnReturn = true

	rr, err := s.Create(context.Background(), "u-1", "ord-1", TypeRefund, "damaged")
	require.NoError(t, err)
	_, err = s.Approve(context.Background(), rr.ID)
	require.NoError(t, err)
	_, err = s.PickUp(context.Background(), rr.ID)
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), rr.ID)
	require.NoError(t, err)

	require.Len(t, restocker.calls, 1)
	assert.Equal(t, []stock.Item{{ProductID: "p1", Size: "M", Qty: 2}}, restocker.calls[0])
}

func TestIllegalDecisions(t *testing.T) {
	fo := &fakeOrders{order: deliveredOrder()}
	s, _ := newTestService(fo)

	rr, err := s.Create(context.Background(), "u-1", "ord-1", TypeRefund, "")
	require.NoError(t, err)

	// requested cannot be picked up or completed
	_, err = s.PickUp(context.Background(), rr.ID)
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	_, err = s.Complete(context.Background(), rr.ID)
	require.ErrorAs(t, err, &invalid)

	// rejected is terminal
	_, err = s.Reject(context.Background(), rr.ID)
	require.NoError(t, err)
	_, err = s.Approve(context.Background(), rr.ID)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(StatusRejected), invalid.Current)

	_, err = s.Approve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
