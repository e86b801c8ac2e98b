package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrConcurrentModification is an optimistic-lock conflict on a
	// transition. Expected under load; the service retries once.
	ErrConcurrentModification = errors.New("order modified concurrently")
)

// InvalidTransitionError reports the order's current legitimate state so a
// client can reconcile its UI without re-polling.
type InvalidTransitionError struct {
	Current string
	Target  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.Current, e.Target)
}
