package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/postgres"
	"github.com/trovashop/orders/internal/stock"
)

type Repo struct {
	Pool   *pgxpool.Pool
	Ledger *stock.Ledger
	Log    *zap.Logger
}

const orderColumns = `id, order_number, COALESCE(external_id, ''), user_id, status, payment_status,
	payment_method, payment_ref, subtotal_cents, shipping_cents, tax_cents, total_cents,
	shipping_address, tracking_number, shipped_at, delivered_at, cancelled_at,
	cancellation_reason, is_deleted, version, created_at, updated_at`

func (r *Repo) Insert(ctx context.Context, o *Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var extID any
	if o.ExternalID != "" {
		extID = o.ExternalID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, external_id, user_id, status, payment_status,
			payment_method, subtotal_cents, shipping_cents, tax_cents, total_cents,
			shipping_address, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,$13,$13)`,
		o.ID, o.OrderNumber, extID, o.UserID, o.Status, o.PaymentStatus,
		o.PaymentMethod, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents,
		addr, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, name, price_cents, qty, size, color, image_url)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			it.ID, o.ID, it.ProductID, it.Name, it.PriceCents, it.Qty, it.Size, it.Color, it.ImageURL); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.getWhere(ctx, `id=$1 AND NOT is_deleted`, id)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return r.getWhere(ctx, `external_id=$1 AND NOT is_deleted`, externalID)
}

func (r *Repo) getWhere(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, product_id, name, price_cents, qty, size, color, image_url
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Name, &it.PriceCents, &it.Qty, &it.Size, &it.Color, &it.ImageURL); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// Update persists a transition under an optimistic version check. When
// release is set, the stock releases for the order's reservations commit in
// the same transaction as the state write.
func (r *Repo) Update(ctx context.Context, o *Order, expectedVersion int64, release bool) ([]stock.Item, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, payment_ref=$4, tracking_number=$5,
			shipped_at=$6, delivered_at=$7, cancelled_at=$8, cancellation_reason=$9,
			version=version+1, updated_at=$10
		WHERE id=$1 AND version=$11 AND NOT is_deleted`,
		o.ID, o.Status, o.PaymentStatus, o.PaymentRef, o.TrackingNumber,
		o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.CancellationReason,
		o.UpdatedAt, expectedVersion)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1 AND NOT is_deleted)`, o.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConcurrentModification
	}

	var released []stock.Item
	if release {
		released, err = r.Ledger.ReleaseOrder(ctx, tx, o.OrderNumber)
		if err != nil {
			return nil, fmt.Errorf("release on cancel: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	o.Version = expectedVersion + 1
	return released, nil
}

func (r *Repo) SoftDelete(ctx context.Context, id string) error {
	ct, err := r.Pool.Exec(ctx, `UPDATE orders SET is_deleted=TRUE, updated_at=now() WHERE id=$1 AND NOT is_deleted`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var addr []byte
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.PaymentRef, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&addr, &o.TrackingNumber, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
		&o.CancellationReason, &o.IsDeleted, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	return &o, nil
}

var _ postgres.DB = (*pgxpool.Pool)(nil)
