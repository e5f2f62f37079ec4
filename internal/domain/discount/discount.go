// Package discount models issued-to-user coupon and voucher instruments and
// the arithmetic that turns one into a concrete discount for a priced cart.
package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount instrument behaviours.
type Kind string

const (
	// KindPercentageOff keeps Value percent of the price payable: a Value of
	// 80 means the customer pays 80% and the discount is the remaining 20%.
	// This is the only supported reading of percentage coupons.
	KindPercentageOff Kind = "percentage_off"
	// KindFlatAmountOff subtracts Value from the subtotal, capped at it.
	KindFlatAmountOff Kind = "flat_amount_off"
	// KindFreeProduct waives exactly one unit of the scoped product when the
	// cart contains a checked line for it.
	KindFreeProduct Kind = "free_specific_product"
	// KindProductVoucher grants UnitCount free units of the scoped product as
	// bonus order lines. Vouchers never reduce the subtotal.
	KindProductVoucher Kind = "product_voucher"
)

// Status is the lifecycle state of an issued instrument.
type Status string

const (
	StatusAvailable Status = "available"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
)

// ErrNotFound is returned when an instrument does not exist or is not owned
// by the requesting user.
var ErrNotFound = errors.New("discount instrument not found")

// RejectReason classifies why an instrument could not be applied.
type RejectReason string

const (
	ReasonNotAvailable    RejectReason = "not_available"
	ReasonExpired         RejectReason = "expired"
	ReasonMinSpendNotMet  RejectReason = "min_spend_not_met"
	ReasonProductNotInCart RejectReason = "product_not_in_cart"
	ReasonKindMismatch    RejectReason = "kind_mismatch"
)

// RejectionError reports an ineligible instrument. Callers that run in
// lenient mode surface the message as a warning instead of failing.
type RejectionError struct {
	Reason RejectReason
	msg    string
}

func (e *RejectionError) Error() string { return e.msg }

func reject(reason RejectReason, format string, args ...any) error {
	return &RejectionError{Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// Instrument is one issued coupon or voucher. It belongs to a single user
// and applies to at most one order in its lifetime.
type Instrument struct {
	ID              string
	OwnerID         string
	TemplateID      string
	Kind            Kind
	Name            string
	Value           decimal.Decimal
	MinSpend        decimal.Decimal
	ScopedProductID string
	UnitCount       int
	ExpiresAt       *time.Time
	Status          Status
}

// Expired reports whether the instrument's expiry has passed at now.
func (i *Instrument) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// CartLine is the slice of cart state the resolver needs: identity, unit
// price and quantity in cart insertion order.
type CartLine struct {
	LineID    string
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Resolution is the outcome of a successful resolve: the amount to subtract
// from the subtotal and, for free-product coupons, the line it applied to.
type Resolution struct {
	Amount          decimal.Decimal
	AppliesToLineID string
}

// Repository provides owner-scoped instrument access.
//
// Reads detect expiry lazily: an instrument found past its expiry comes back
// with StatusExpired (and the row is flipped) instead of via any sweeper.
// MarkUsed transitions available→used only; rows in any other state are
// left untouched so settlement retries cannot double-consume.
type Repository interface {
	FindForOwner(ctx context.Context, ownerID, id string) (*Instrument, error)
	MarkUsed(ctx context.Context, ownerID string, ids []string, orderID string) error
}
