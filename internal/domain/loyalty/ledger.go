// Package loyalty defines the points and lifetime-spend ledger.
package loyalty

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger accrues loyalty state for a user. Settlement credits
// floor(order total) points (one point per currency unit) and adds the full
// total to lifetime spend, exactly once per order.
type Ledger interface {
	CreditPoints(ctx context.Context, ownerID string, points int64) error
	AddLifetimeSpend(ctx context.Context, ownerID string, amount decimal.Decimal) error
}
