package returns

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trovashop/orders/internal/postgres"
)

var ErrNotFound = errors.New("return request not found")

type Repo struct{ DB postgres.DB }

var _ RequestStore = (*Repo)(nil)

func (r *Repo) Insert(ctx context.Context, rr *ReturnRequest) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO return_requests(id, order_id, order_number, user_id, type, status, reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		rr.ID, rr.OrderID, rr.OrderNumber, rr.UserID, rr.Type, rr.Status, rr.Reason, rr.CreatedAt)
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (*ReturnRequest, error) {
	var rr ReturnRequest
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, order_number, user_id, type, status, reason, created_at, updated_at
		FROM return_requests WHERE id=$1`, id).
		Scan(&rr.ID, &rr.OrderID, &rr.OrderNumber, &rr.UserID, &rr.Type, &rr.Status, &rr.Reason, &rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rr, nil
}

// UpdateStatus is conditional on the current status, which gives returns the
// same last-writer-must-respect-the-table behavior orders get from their
// version column.
func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE return_requests SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
