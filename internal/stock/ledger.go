// Package stock owns the authoritative per-(product, size) unit counts.
// All mutation goes through Reserve/Release; nothing else writes stock.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/postgres"
)

type Item struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

// Snapshot is the product data read atomically alongside the stock check, so
// order totals always use the catalog price current at reservation time.
type Snapshot struct {
	Name       string
	Color      string
	ImageURL   string
	PriceCents int64
}

type Ledger struct {
	Pool *pgxpool.Pool
	Log  *zap.Logger
}

// Reserve atomically checks and decrements stock for one line item, records
// the reservation durably in the same transaction, and returns the product
// snapshot. A repeat call for the same (order, product, size) is a no-op
// that still returns the snapshot.
func (l *Ledger) Reserve(ctx context.Context, orderNumber, productID, size string, qty int) (Snapshot, error) {
	var snap Snapshot
	if qty < 1 {
		return snap, fmt.Errorf("reserve %s/%s: invalid qty %d", productID, size, qty)
	}

	tx, err := l.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return snap, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `SELECT name, color, image_url, price_cents FROM products WHERE id=$1`, productID).
		Scan(&snap.Name, &snap.Color, &snap.ImageURL, &snap.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, fmt.Errorf("reserve %s/%s: %w", productID, size, ErrUnknownProduct)
		}
		return snap, err
	}

	// Single conditional check-and-decrement; concurrent reservations for the
	// same key serialize on this row.
	ct, err := tx.Exec(ctx, `
		UPDATE product_sizes SET stock = stock - $3
		WHERE product_id=$1 AND size=$2 AND stock >= $3`, productID, size, qty)
	if err != nil {
		return snap, err
	}
	if ct.RowsAffected() == 0 {
		var available int
		_ = tx.QueryRow(ctx, `SELECT COALESCE((SELECT stock FROM product_sizes WHERE product_id=$1 AND size=$2), 0)`,
			productID, size).Scan(&available)
		l.Log.Info("reservation rejected",
			zap.String("product_id", productID), zap.String("size", size),
			zap.Int("qty", qty), zap.Int("available", available),
			zap.String("order_number", orderNumber))
		return snap, &InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: available}
	}

	ct, err = tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, order_number, product_id, size, qty, kind, status)
		VALUES ($1, $2, $3, $4, $5, 'ORDER', 'RESERVED')
		ON CONFLICT (order_number, product_id, size, kind) DO NOTHING`,
		uuid.NewString(), orderNumber, productID, size, qty)
	if err != nil {
		return snap, err
	}
	if ct.RowsAffected() == 0 {
		// Already reserved for this order; roll back the second decrement.
		return snap, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

// Release is the compensating increment. It never fails for business
// reasons: releasing an already-released or never-reserved item is logged as
// a data-integrity warning and leaves stock untouched, so redundant releases
// cannot grow stock without bound.
func (l *Ledger) Release(ctx context.Context, orderNumber, productID, size string, qty int) error {
	tx, err := l.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status='RELEASED', released_at=now()
		WHERE order_number=$1 AND product_id=$2 AND size=$3 AND kind='ORDER' AND status='RESERVED'`,
		orderNumber, productID, size)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		l.Log.Warn("redundant release ignored",
			zap.String("product_id", productID), zap.String("size", size),
			zap.Int("qty", qty), zap.String("order_number", orderNumber))
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE product_sizes SET stock = stock + $3 WHERE product_id=$1 AND size=$2`,
		productID, size, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseOrder releases every still-reserved line item of an order inside the
// caller's transaction, so a cancellation's state write and its releases
// commit as one unit. Returns the released items.
func (l *Ledger) ReleaseOrder(ctx context.Context, db postgres.DB, orderNumber string) ([]Item, error) {
	rows, err := db.Query(ctx, `
		SELECT product_id, size, qty FROM stock_reservations
		WHERE order_number=$1 AND kind='ORDER' AND status='RESERVED'`, orderNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Qty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, it := range items {
		if _, err := db.Exec(ctx, `
			UPDATE product_sizes SET stock = stock + $3 WHERE product_id=$1 AND size=$2`,
			it.ProductID, it.Size, it.Qty); err != nil {
			return nil, err
		}
	}
	if _, err := db.Exec(ctx, `
		UPDATE stock_reservations SET status='RELEASED', released_at=now()
		WHERE order_number=$1 AND kind='ORDER' AND status='RESERVED'`, orderNumber); err != nil {
		return nil, err
	}
	return items, nil
}

// RestockReturn puts returned goods back in stock. This is a separate path
// from cancellation releases: rows are recorded with kind=RETURN and the
// insert doubles as the idempotency guard.
func (l *Ledger) RestockReturn(ctx context.Context, orderNumber string, items []Item) error {
	tx, err := l.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		ct, err := tx.Exec(ctx, `
			INSERT INTO stock_reservations(id, order_number, product_id, size, qty, kind, status, released_at)
			VALUES ($1, $2, $3, $4, $5, 'RETURN', 'RELEASED', now())
			ON CONFLICT (order_number, product_id, size, kind) DO NOTHING`,
			uuid.NewString(), orderNumber, it.ProductID, it.Size, it.Qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			continue // already restocked
		}
		if _, err := tx.Exec(ctx, `
			UPDATE product_sizes SET stock = stock + $3 WHERE product_id=$1 AND size=$2`,
			it.ProductID, it.Size, it.Qty); err != nil {
			return err
		}
		l.Log.Info("return restocked",
			zap.String("product_id", it.ProductID), zap.String("size", it.Size),
			zap.Int("qty", it.Qty), zap.String("order_number", orderNumber))
	}
	return tx.Commit(ctx)
}

// ReleaseOrphans releases reservations older than the bound whose order was
// never written -- the recovery path for a crash between a successful
// reservation and order creation.
func (l *Ledger) ReleaseOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	rows, err := l.Pool.Query(ctx, `
		SELECT order_number, product_id, size, qty FROM stock_reservations r
		WHERE r.kind='ORDER' AND r.status='RESERVED' AND r.created_at < now() - $1::interval
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.order_number = r.order_number)`,
		olderThan.String())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type orphan struct {
		orderNumber string
		it          Item
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.orderNumber, &o.it.ProductID, &o.it.Size, &o.it.Qty); err != nil {
			return 0, err
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	released := 0
	for _, o := range orphans {
		if err := l.Release(ctx, o.orderNumber, o.it.ProductID, o.it.Size, o.it.Qty); err != nil {
			return released, err
		}
		l.Log.Warn("orphaned reservation released",
			zap.String("order_number", o.orderNumber),
			zap.String("product_id", o.it.ProductID), zap.String("size", o.it.Size),
			zap.Int("qty", o.it.Qty))
		released++
	}
	return released, nil
}
