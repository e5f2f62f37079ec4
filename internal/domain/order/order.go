// Package order implements the settlement pipeline: assembling a priced,
// stock-committed order from cart lines, reconciling it against payment
// confirmations, and reversing it on cancellation.
package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
	"github.com/mingrao/skewer-shop/internal/domain/store"
)

// Status is the order lifecycle state. Transitions are pending→paid→completed
// with pending→cancelled as the only other path; paid, completed and
// cancelled are otherwise terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to
	// someone else.
	ErrNotFound = errors.New("order not found")
	// ErrEmptySelection is returned when none of the requested cart lines
	// resolve for the caller.
	ErrEmptySelection = errors.New("no cart lines selected")
	// ErrAddressRequired is returned for delivery orders without an address.
	ErrAddressRequired = errors.New("delivery orders require an address")
	// ErrInvalidDeliveryMode is returned for unknown delivery modes.
	ErrInvalidDeliveryMode = errors.New("invalid delivery mode")
	// ErrDeliveryDisabled is returned when a delivery order is placed while
	// the store has delivery switched off.
	ErrDeliveryDisabled = errors.New("delivery is currently disabled")
)

// InvalidStateError reports a transition attempted from the wrong status.
type InvalidStateError struct {
	Current Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order is %s", e.Current)
}

// LineItem is a purchase-time snapshot. Prices are frozen here; catalog
// edits after assembly never affect an existing order. Bonus lines come from
// product vouchers and are zero-priced but still consume stock.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Options   cart.Options    `json:"options"`
	Bonus     bool            `json:"bonus,omitempty"`
}

// Order is the immutable settlement aggregate. Only status and its
// companion timestamps change after creation, and only through the
// conditional repository transitions.
type Order struct {
	ID                  string
	OrderNo             string
	OwnerID             string
	Items               []LineItem
	Subtotal            decimal.Decimal
	DiscountAmount      decimal.Decimal
	DeliveryFee         decimal.Decimal
	Total               decimal.Decimal
	DeliveryMode        store.DeliveryMode
	DeliveryAddressID   string
	CouponID            string
	VoucherIDs          []string
	ConsumedCartLineIDs []string
	Remark              string
	Status              Status
	CancelReason        string
	CreatedAt           time.Time
	PaidAt              *time.Time
	CompletedAt         *time.Time
}

// NewOrderNo generates the external-facing order number: the date as
// YYYYMMDD followed by six random digits. Uniqueness is enforced by the
// orders table; collisions within a day are a retry, not a correctness bug.
func NewOrderNo(now time.Time) string {
	return fmt.Sprintf("%s%06d", now.Format("20060102"), rand.IntN(1_000_000))
}

// Repository persists orders. The three transition methods are conditional
// single-row updates keyed on the current status; they report whether this
// call performed the transition so callers can make side effects exactly-once.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetForOwner(ctx context.Context, ownerID, idOrNo string) (*Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (*Order, error)
	ListForOwner(ctx context.Context, ownerID string, status Status, page, pageSize int) ([]Order, int, error)
	// TransitionToPaid flips pending→paid and sets paid_at.
	TransitionToPaid(ctx context.Context, id string, at time.Time) (bool, error)
	// TransitionToCancelled flips pending→cancelled and records the reason.
	TransitionToCancelled(ctx context.Context, id, reason string) (bool, error)
	// TransitionToCompleted flips paid→completed and sets completed_at.
	TransitionToCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}
