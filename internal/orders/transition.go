package orders

import "time"

type TransitionKind string

const (
	TransitionConfirm          TransitionKind = "confirm"
	TransitionShip             TransitionKind = "ship"
	TransitionDeliver          TransitionKind = "deliver"
	TransitionCancel           TransitionKind = "cancel"
	TransitionPaymentCompleted TransitionKind = "payment_completed"
	TransitionPaymentFailed    TransitionKind = "payment_failed"
	TransitionRefund           TransitionKind = "refund"
)

type Transition struct {
	Kind               TransitionKind
	TrackingNumber     string
	CancellationReason string
	PaymentRef         string
}

// Effect describes what Apply did, so the caller knows whether to persist,
// and whether persisting must release reserved stock in the same unit.
type Effect struct {
	Changed      bool
	ReleaseStock bool
	PrevStatus   Status
	PrevPayment  PaymentStatus
}

// Apply runs one lifecycle transition against the in-memory order. It is
// pure state logic: persistence, locking and events belong to the caller.
// An illegal orderStatus move returns InvalidTransitionError and leaves the
// order untouched; repeated paymentStatus webhook writes are no-ops.
func (o *Order) Apply(t Transition, now time.Time) (Effect, error) {
	eff := Effect{PrevStatus: o.Status, PrevPayment: o.PaymentStatus}

	switch t.Kind {
	case TransitionConfirm:
		if err := o.moveTo(StatusConfirmed); err != nil {
			return eff, err
		}

	case TransitionShip:
		if err := o.moveTo(StatusShipped); err != nil {
			return eff, err
		}
		o.ShippedAt = &now
		if t.TrackingNumber != "" {
			o.TrackingNumber = t.TrackingNumber
		}

	case TransitionDeliver:
		if err := o.moveTo(StatusDelivered); err != nil {
			return eff, err
		}
		o.DeliveredAt = &now
		// Delivery settles payment; for COD this is the payment event, and
		// the policy is applied uniformly to online orders as the business
		// defined it.
		if o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentFailed {
			o.PaymentStatus = PaymentCompleted
		}

	case TransitionCancel:
		if err := o.moveTo(StatusCancelled); err != nil {
			return eff, err
		}
		o.CancelledAt = &now
		o.CancellationReason = t.CancellationReason
		eff.ReleaseStock = true

	case TransitionPaymentCompleted:
		if o.PaymentStatus == PaymentCompleted {
			return eff, nil // at-least-once webhook replay
		}
		if !CanTransitionPayment(o.PaymentStatus, PaymentCompleted) {
			return eff, &InvalidTransitionError{Current: string(o.PaymentStatus), Target: string(PaymentCompleted)}
		}
		o.PaymentStatus = PaymentCompleted
		if t.PaymentRef != "" {
			o.PaymentRef = t.PaymentRef
		}
		if o.Status == StatusPending {
			o.Status = StatusConfirmed
		}

	case TransitionPaymentFailed:
		if o.PaymentStatus != PaymentPending {
			return eff, nil // never regress a settled payment
		}
		o.PaymentStatus = PaymentFailed

	case TransitionRefund:
		if o.PaymentStatus == PaymentRefunded {
			return eff, nil
		}
		if !CanTransitionPayment(o.PaymentStatus, PaymentRefunded) {
			return eff, &InvalidTransitionError{Current: string(o.PaymentStatus), Target: string(PaymentRefunded)}
		}
		o.PaymentStatus = PaymentRefunded

	default:
		return eff, &InvalidTransitionError{Current: string(o.Status), Target: string(t.Kind)}
	}

	eff.Changed = true
	o.UpdatedAt = now
	return eff, nil
}

func (o *Order) moveTo(target Status) error {
	if !CanTransition(o.Status, target) {
		return &InvalidTransitionError{Current: string(o.Status), Target: string(target)}
	}
	o.Status = target
	return nil
}
