package stock

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type slotKey struct{ productID, size string }

type resKey struct{ orderNumber, productID, size string }

type slot struct {
	mu    sync.Mutex
	stock int
}

// MemLedger is the in-process variant of the ledger contract: one mutex per
// (product, size) key, valid because it is then the sole writer. Used by
// tests and local development.
type MemLedger struct {
	mu       sync.RWMutex
	products map[string]Snapshot
	slots    map[slotKey]*slot

	resMu    sync.Mutex
	reserved map[resKey]int

	Log *zap.Logger
}

func NewMemLedger(log *zap.Logger) *MemLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemLedger{
		products: make(map[string]Snapshot),
		slots:    make(map[slotKey]*slot),
		reserved: make(map[resKey]int),
		Log:      log,
	}
}

func (l *MemLedger) AddProduct(productID string, snap Snapshot, sizes map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[productID] = snap
	for size, n := range sizes {
		l.slots[slotKey{productID, size}] = &slot{stock: n}
	}
}

// Stock reports the current count for assertions and dev tooling.
func (l *MemLedger) Stock(productID, size string) int {
	l.mu.RLock()
	s, ok := l.slots[slotKey{productID, size}]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock
}

func (l *MemLedger) Reserve(ctx context.Context, orderNumber, productID, size string, qty int) (Snapshot, error) {
	l.mu.RLock()
	snap, okP := l.products[productID]
	s, okS := l.slots[slotKey{productID, size}]
	l.mu.RUnlock()
	if !okP {
		return Snapshot{}, ErrUnknownProduct
	}

	rk := resKey{orderNumber, productID, size}
	if !okS {
		l.resMu.Lock()
		_, dup := l.reserved[rk]
		l.resMu.Unlock()
		if dup {
			return snap, nil
		}
		return snap, &InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: 0}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The dup check, decrement and record share the slot's critical section
	// so concurrent replays of the same key cannot double-decrement.
	l.resMu.Lock()
	defer l.resMu.Unlock()
	if _, dup := l.reserved[rk]; dup {
		return snap, nil
	}
	if s.stock < qty {
		return snap, &InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: s.stock}
	}
	s.stock -= qty
	l.reserved[rk] = qty
	return snap, nil
}

func (l *MemLedger) Release(ctx context.Context, orderNumber, productID, size string, qty int) error {
	rk := resKey{orderNumber, productID, size}
	l.resMu.Lock()
	_, ok := l.reserved[rk]
	if ok {
		delete(l.reserved, rk)
	}
	l.resMu.Unlock()
	if !ok {
		l.Log.Warn("redundant release ignored",
			zap.String("product_id", productID), zap.String("size", size),
			zap.Int("qty", qty), zap.String("order_number", orderNumber))
		return nil
	}

	l.mu.RLock()
	s, okS := l.slots[slotKey{productID, size}]
	l.mu.RUnlock()
	if !okS {
		return nil
	}
	s.mu.Lock()
	s.stock += qty
	s.mu.Unlock()
	return nil
}
