package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(status Status, pay PaymentStatus) *Order {
	return &Order{
		ID:            "o-1",
		OrderNumber:   "ORD-TEST00000001",
		UserID:        "u-1",
		Status:        status,
		PaymentStatus: pay,
		PaymentMethod: MethodCOD,
		Version:       1,
	}
}

func TestApplyShip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := testOrder(StatusConfirmed, PaymentPending)

	eff, err := o.Apply(Transition{Kind: TransitionShip, TrackingNumber: "TRK-42"}, now)
	require.NoError(t, err)
	assert.True(t, eff.Changed)
	assert.False(t, eff.ReleaseStock)
	assert.Equal(t, StatusShipped, o.Status)
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, now, *o.ShippedAt)
	assert.Equal(t, "TRK-42", o.TrackingNumber)
}

func TestApplyDeliverCompletesPayment(t *testing.T) {
	now := time.Now().UTC()
	o := testOrder(StatusShipped, PaymentPending)

	eff, err := o.Apply(Transition{Kind: TransitionDeliver}, now)
	require.NoError(t, err)
	assert.True(t, eff.Changed)
	assert.Equal(t, StatusDelivered, o.Status)
	require.NotNil(t, o.DeliveredAt)
	// delivery is the payment-completion event, COD or not
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)
}

func TestApplyDeliverKeepsRefundedPayment(t *testing.T) {
	o := testOrder(StatusShipped, PaymentRefunded)
	_, err := o.Apply(Transition{Kind: TransitionDeliver}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
}

func TestApplyCancel(t *testing.T) {
	now := time.Now().UTC()
	o := testOrder(StatusConfirmed, PaymentPending)

	eff, err := o.Apply(Transition{Kind: TransitionCancel, CancellationReason: "customer request"}, now)
	require.NoError(t, err)
	assert.True(t, eff.ReleaseStock)
	assert.Equal(t, StatusCancelled, o.Status)
	require.NotNil(t, o.CancelledAt)
	assert.Equal(t, "customer request", o.CancellationReason)
}

func TestApplyCancelFromShipped(t *testing.T) {
	o := testOrder(StatusShipped, PaymentCompleted)
	eff, err := o.Apply(Transition{Kind: TransitionCancel, CancellationReason: "lost in transit"}, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, eff.ReleaseStock)
	assert.Equal(t, StatusCancelled, o.Status)
}

func TestApplyIllegalTransitionLeavesOrderUnchanged(t *testing.T) {
	o := testOrder(StatusDelivered, PaymentCompleted)
	before := *o

	eff, err := o.Apply(Transition{Kind: TransitionShip}, time.Now().UTC())
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(StatusDelivered), invalid.Current)
	assert.Equal(t, string(StatusShipped), invalid.Target)
	assert.False(t, eff.Changed)
	assert.Equal(t, before, *o, "failed transition must not mutate the order")
}

func TestApplyCancelAfterDeliveryRejected(t *testing.T) {
	o := testOrder(StatusDelivered, PaymentCompleted)
	_, err := o.Apply(Transition{Kind: TransitionCancel}, time.Now().UTC())
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestApplyPaymentCompletedAdvancesPendingOrder(t *testing.T) {
	o := testOrder(StatusPending, PaymentPending)

	eff, err := o.Apply(Transition{Kind: TransitionPaymentCompleted, PaymentRef: "pay_123"}, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, eff.Changed)
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "pay_123", o.PaymentRef)
}

func TestApplyPaymentCompletedIsIdempotent(t *testing.T) {
	o := testOrder(StatusPending, PaymentPending)
	_, err := o.Apply(Transition{Kind: TransitionPaymentCompleted, PaymentRef: "pay_123"}, time.Now().UTC())
	require.NoError(t, err)

	// at-least-once webhook replay: no error, no change
	eff, err := o.Apply(Transition{Kind: TransitionPaymentCompleted, PaymentRef: "pay_123"}, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, eff.Changed)
	assert.Equal(t, StatusConfirmed, o.Status)
}

func TestApplyPaymentCompletedDoesNotTouchShippedStatus(t *testing.T) {
	o := testOrder(StatusShipped, PaymentPending)
	_, err := o.Apply(Transition{Kind: TransitionPaymentCompleted}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)
}

func TestApplyPaymentFailedLeavesOrderStatus(t *testing.T) {
	o := testOrder(StatusPending, PaymentPending)
	eff, err := o.Apply(Transition{Kind: TransitionPaymentFailed}, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, eff.Changed)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Equal(t, StatusPending, o.Status)
}

func TestApplyPaymentFailedNeverRegressesSettledPayment(t *testing.T) {
	o := testOrder(StatusConfirmed, PaymentCompleted)
	eff, err := o.Apply(Transition{Kind: TransitionPaymentFailed}, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, eff.Changed)
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)
}

func TestApplyRefund(t *testing.T) {
	o := testOrder(StatusDelivered, PaymentCompleted)
	eff, err := o.Apply(Transition{Kind: TransitionRefund}, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, eff.Changed)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)

	// replay converges
	eff, err = o.Apply(Transition{Kind: TransitionRefund}, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, eff.Changed)
}

func TestApplyRefundRequiresCompletedPayment(t *testing.T) {
	o := testOrder(StatusDelivered, PaymentPending)
	_, err := o.Apply(Transition{Kind: TransitionRefund}, time.Now().UTC())
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}
