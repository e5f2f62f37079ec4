package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mingrao/skewer-shop/internal/domain/loyalty"
)

const (
	creditPointsSQL = `UPDATE users SET points = points + $2 WHERE id = $1`

	addLifetimeSpendSQL = `UPDATE users SET lifetime_spend = lifetime_spend + $2 WHERE id = $1`
)

var _ loyalty.Ledger = (*LoyaltyRepository)(nil)

// LoyaltyRepository accrues loyalty state on the users table.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// CreditPoints adds points to the user's balance.
func (r *LoyaltyRepository) CreditPoints(ctx context.Context, ownerID string, points int64) error {
	if _, err := r.pool.Exec(ctx, creditPointsSQL, ownerID, points); err != nil {
		return fmt.Errorf("crediting points for %q: %w", ownerID, err)
	}
	return nil
}

// AddLifetimeSpend adds the settled order total to the user's running spend.
func (r *LoyaltyRepository) AddLifetimeSpend(ctx context.Context, ownerID string, amount decimal.Decimal) error {
	if _, err := r.pool.Exec(ctx, addLifetimeSpendSQL, ownerID, amount); err != nil {
		return fmt.Errorf("adding lifetime spend for %q: %w", ownerID, err)
	}
	return nil
}
