// Package catalog exposes read access to the product catalog and the
// stock-reservation operations the checkout pipeline depends on.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product does not exist or is off sale.
var ErrNotFound = errors.New("product not found")

// InsufficientStockError indicates a stock decrement lost the race for the
// remaining units. The product name is safe to show to the customer.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.ProductName)
}

// Product is a catalog snapshot at read time. Prices are frozen into order
// line items at assembly; later catalog edits never touch existing orders.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Image    string
}

// Repository provides catalog lookups and atomic stock mutation.
//
// DecrementStock must be a single conditional update (decrement only while
// stock >= qty) so two concurrent checkouts cannot both take the last unit.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	DecrementStock(ctx context.Context, id string, qty int) error
	RestoreStock(ctx context.Context, id string, qty int) error
}
