package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mingrao/skewer-shop/internal/domain/catalog"
)

const (
	getProductByIDSQL = `SELECT id, name, price, stock, category, image
		FROM products WHERE id = $1 AND on_sale = TRUE`

	getProductsByIDsSQL = `SELECT id, name, price, stock, category, image
		FROM products WHERE id = ANY($1) AND on_sale = TRUE`

	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`

	restoreStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single on-sale product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns on-sale products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DecrementStock atomically takes qty units, refusing if fewer remain. The
// WHERE clause carries the stock check so concurrent checkouts serialize on
// the row and can never drive stock negative.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	tag, err := r.pool.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		p, err := r.GetByID(ctx, id)
		if err != nil {
			return catalog.ErrNotFound
		}
		return &catalog.InsufficientStockError{ProductID: p.ID, ProductName: p.Name}
	}
	return nil
}

// RestoreStock returns qty units, compensating a failed checkout or a
// cancelled order.
func (r *ProductRepository) RestoreStock(ctx context.Context, id string, qty int) error {
	if _, err := r.pool.Exec(ctx, restoreStockSQL, id, qty); err != nil {
		return fmt.Errorf("restoring stock for %q: %w", id, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p     catalog.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.Category, &p.Image)
	p.Price = price
	return p, err
}
