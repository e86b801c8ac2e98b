package payments

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/orders"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := Verifier{Secret: "shhh"}
	sig := v.Sign("ord-1", "pay-1")
	assert.True(t, v.Verify("ord-1", "pay-1", sig))
	assert.False(t, v.Verify("ord-1", "pay-2", sig))
	assert.False(t, v.Verify("ord-1", "pay-1", ""))
	assert.False(t, Verifier{Secret: "other"}.Verify("ord-1", "pay-1", sig))
}

// fakeTransitioner applies transitions to a single in-memory order so the
// bridge sees real aggregate semantics, including payment no-op replays.
type fakeTransitioner struct {
	order *orders.Order
	calls []orders.Transition
	errs  []error
}

func (f *fakeTransitioner) Transition(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, error) {
	o, _, err := f.TransitionChanged(ctx, orderID, t)
	return o, err
}

func (f *fakeTransitioner) TransitionChanged(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, bool, error) {
	f.calls = append(f.calls, t)
	if f.order == nil || f.order.ID != orderID {
		return nil, false, orders.ErrNotFound
	}
	eff, err := f.order.Apply(t, time.Now().UTC())
	if err != nil {
		f.errs = append(f.errs, err)
		return nil, false, err
	}
	cp := *f.order
	return &cp, eff.Changed, nil
}

type countingPublisher struct {
	published int
}

func (p *countingPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.published++
}

func pendingOrder() *orders.Order {
	return &orders.Order{
		ID:            "ord-1",
		OrderNumber:   "ORD-AB12CD34EF56",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		PaymentMethod: orders.MethodOnline,
	}
}

func TestHandleCallbackCompletesPayment(t *testing.T) {
	tr := &fakeTransitioner{order: pendingOrder()}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Service: "test", Log: zap.NewNop()}

	cb := Callback{OrderID: "ord-1", PaymentID: "pay-9"}
	cb.Signature = b.Verifier.Sign(cb.OrderID, cb.PaymentID)

	o, err := b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, "pay-9", o.PaymentRef)
}

func TestHandleCallbackReplayIsNoop(t *testing.T) {
	tr := &fakeTransitioner{order: pendingOrder()}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Service: "test", Log: zap.NewNop()}

	cb := Callback{OrderID: "ord-1", PaymentID: "pay-9"}
	cb.Signature = b.Verifier.Sign(cb.OrderID, cb.PaymentID)

	_, err := b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	o, err := b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)

	assert.Equal(t, orders.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Empty(t, tr.errs, "replay must be absorbed, not rejected")
}

func TestHandleCallbackReplayPublishesOnce(t *testing.T) {
	tr := &fakeTransitioner{order: pendingOrder()}
	pub := &countingPublisher{}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Producer: pub, Service: "test", Log: zap.NewNop()}

	cb := Callback{OrderID: "ord-1", PaymentID: "pay-9"}
	cb.Signature = b.Verifier.Sign(cb.OrderID, cb.PaymentID)

	_, err := b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	_, err = b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)

	assert.Equal(t, 1, pub.published, "the no-op replay must not re-announce the payment")
}

func TestHandleCallbackForgedSignature(t *testing.T) {
	tr := &fakeTransitioner{order: pendingOrder()}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Service: "test", Log: zap.NewNop()}

	_, err := b.HandleCallback(context.Background(), Callback{
		OrderID: "ord-1", PaymentID: "pay-9", Signature: "deadbeef",
	})
	require.ErrorIs(t, err, ErrVerificationFailed)

	require.Len(t, tr.calls, 1)
	assert.Equal(t, orders.TransitionPaymentFailed, tr.calls[0].Kind)
	assert.Equal(t, orders.PaymentFailed, tr.order.PaymentStatus)
	assert.Equal(t, orders.StatusPending, tr.order.Status)
}

func TestHandleCallbackRetryAfterFailure(t *testing.T) {
	tr := &fakeTransitioner{order: pendingOrder()}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Service: "test", Log: zap.NewNop()}

	_, err := b.HandleCallback(context.Background(), Callback{OrderID: "ord-1", PaymentID: "pay-1", Signature: "bad"})
	require.ErrorIs(t, err, ErrVerificationFailed)

	cb := Callback{OrderID: "ord-1", PaymentID: "pay-2"}
	cb.Signature = b.Verifier.Sign(cb.OrderID, cb.PaymentID)
	o, err := b.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, o.PaymentStatus)
}

func TestHandleCallbackMissingIDs(t *testing.T) {
	b := &Bridge{Orders: &fakeTransitioner{}, Verifier: Verifier{Secret: "s"}, Log: zap.NewNop()}

	_, err := b.HandleCallback(context.Background(), Callback{PaymentID: "pay-1", Signature: "x"})
	require.ErrorIs(t, err, ErrVerificationFailed)
	_, err = b.HandleCallback(context.Background(), Callback{OrderID: "ord-1", Signature: "x"})
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	tr := &fakeTransitioner{}
	b := &Bridge{Orders: tr, Verifier: Verifier{Secret: "s"}, Log: zap.NewNop()}

	cb := Callback{OrderID: "ord-missing", PaymentID: "pay-1"}
	cb.Signature = b.Verifier.Sign(cb.OrderID, cb.PaymentID)
	_, err := b.HandleCallback(context.Background(), cb)
	require.ErrorIs(t, err, orders.ErrNotFound)
}
