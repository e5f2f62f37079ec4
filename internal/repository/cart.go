package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
)

const (
	listCartLinesSQL = `SELECT id, owner_id, product_id, quantity, options, checked, created_at
		FROM cart_lines
		WHERE owner_id = $1 AND id = ANY($2) AND checked = TRUE
		ORDER BY created_at, id`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE owner_id = $1 AND id = ANY($2)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListByIDs returns the caller's checked cart lines among ids, in cart
// insertion order. Lines owned by anyone else are silently absent.
func (r *CartRepository) ListByIDs(ctx context.Context, ownerID string, ids []string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines: %w", err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// DeleteByIDs removes the caller's lines among ids. The owner filter is part
// of the statement so one user's settlement can never touch another's cart.
func (r *CartRepository) DeleteByIDs(ctx context.Context, ownerID string, ids []string) error {
	if _, err := r.pool.Exec(ctx, deleteCartLinesSQL, ownerID, ids); err != nil {
		return fmt.Errorf("deleting cart lines: %w", err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l           cart.Line
		optionsJSON []byte
	)
	if err := row.Scan(&l.ID, &l.OwnerID, &l.ProductID, &l.Quantity, &optionsJSON, &l.Checked, &l.CreatedAt); err != nil {
		return l, err
	}
	if err := json.Unmarshal(optionsJSON, &l.Options); err != nil {
		return l, fmt.Errorf("decoding cart line options: %w", err)
	}
	return l, nil
}
