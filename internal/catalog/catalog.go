// Package catalog is the read-only surface over the product tables. The core
// never writes product fields here; stock moves only through the ledger.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trovashop/orders/internal/postgres"
)

var ErrProductNotFound = errors.New("product not found")

type Size struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	ImageURL   string    `json:"image_url"`
	PriceCents int64     `json:"price_cents"`
	Sizes      []Size    `json:"sizes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Repo struct{ DB postgres.DB }

func (r *Repo) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, color, image_url, price_cents, created_at, updated_at
		FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.Name, &p.Color, &p.ImageURL, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT size, stock FROM product_sizes WHERE product_id=$1 ORDER BY size`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Size
		if err := rows.Scan(&s.Size, &s.Stock); err != nil {
			return nil, err
		}
		p.Sizes = append(p.Sizes, s)
	}
	return &p, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, color, image_url, price_cents, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Color, &p.ImageURL, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
