package orders

import (
	"context"
	"strconv"

	"github.com/trovashop/orders/internal/postgres"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type ListOptions struct {
	Status        Status
	PaymentStatus PaymentStatus
	UserID        string
	Page          int
	Limit         int
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type ListResult struct {
	Items      []Order    `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Clamp normalizes pagination; bad values are corrected, never rejected.
func (o *ListOptions) Clamp() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = defaultLimit
	}
	if o.Limit > maxLimit {
		o.Limit = maxLimit
	}
}

// Query is the read-only reporting surface. It only sees committed state and
// never touches stock or order rows.
type Query struct{ DB postgres.DB }

func (q *Query) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	opts.Clamp()

	where := `NOT is_deleted`
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		args = append(args, v)
		where += ` AND ` + cond
	}
	if opts.Status != "" {
		add(`status=$`+itoa(n+1), opts.Status)
	}
	if opts.PaymentStatus != "" {
		add(`payment_status=$`+itoa(n+1), opts.PaymentStatus)
	}
	if opts.UserID != "" {
		add(`user_id=$`+itoa(n+1), opts.UserID)
	}

	var total int64
	if err := q.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	skip := (opts.Page - 1) * opts.Limit
	rows, err := q.DB.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+
			` ORDER BY created_at DESC LIMIT $`+itoa(n+1)+` OFFSET $`+itoa(n+2),
		append(args, opts.Limit, skip)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pages := int((total + int64(opts.Limit) - 1) / int64(opts.Limit))
	return &ListResult{
		Items: items,
		Pagination: Pagination{
			Page:  opts.Page,
			Limit: opts.Limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

// CountByStatus backs the admin dashboard counters.
func (q *Query) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := q.DB.Query(ctx, `SELECT status, COUNT(*) FROM orders WHERE NOT is_deleted GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var s Status
		var c int64
		if err := rows.Scan(&s, &c); err != nil {
			return nil, err
		}
		out[s] = c
	}
	return out, rows.Err()
}

func itoa(n int) string { return strconv.Itoa(n) }
