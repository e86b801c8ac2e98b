package stock

import (
	"errors"
	"fmt"
)

var ErrUnknownProduct = errors.New("unknown product")

// InsufficientStockError names the line item that could not be reserved so
// callers can tell the customer exactly what ran out.
type InsufficientStockError struct {
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product=%s size=%s: requested %d, available %d",
		e.ProductID, e.Size, e.Requested, e.Available)
}
