// Package cart models the customer's pending product selections.
package cart

import (
	"context"
	"time"
)

// Options captures the per-line customisation a customer picked.
type Options struct {
	Spec   string   `json:"spec,omitempty"`
	Flavor string   `json:"flavor,omitempty"`
	Spicy  string   `json:"spicy,omitempty"`
	Addons []string `json:"addons,omitempty"`
}

// Line is one unpurchased selection. Lines referenced by an order survive
// until that order settles; a failed or abandoned checkout must not lose
// the customer's cart.
type Line struct {
	ID        string
	OwnerID   string
	ProductID string
	Quantity  int
	Options   Options
	Checked   bool
	CreatedAt time.Time
}

// Repository provides owner-scoped access to cart lines.
//
// DeleteByIDs must filter on ownerID as well as the ids so a settlement for
// one user can never remove another user's lines.
type Repository interface {
	ListByIDs(ctx context.Context, ownerID string, ids []string) ([]Line, error)
	DeleteByIDs(ctx context.Context, ownerID string, ids []string) error
}
