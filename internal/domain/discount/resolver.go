package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolve computes the discount a coupon instrument yields for a priced
// cart. It has no side effects: instruments are only marked used when the
// order settles, because resolution may be speculative (the customer can
// still change their coupon choice before paying).
//
// Rules run in a fixed order and the first failing rule rejects:
// availability, expiry, minimum spend, then kind-specific applicability.
// The returned amount never exceeds subtotal.
func Resolve(ins *Instrument, lines []CartLine, subtotal decimal.Decimal, now time.Time) (Resolution, error) {
	if ins.Status != StatusAvailable {
		return Resolution{}, reject(ReasonNotAvailable, "%s is not available", ins.Name)
	}
	if ins.Expired(now) {
		return Resolution{}, reject(ReasonExpired, "%s has expired", ins.Name)
	}
	if ins.MinSpend.IsPositive() && subtotal.LessThan(ins.MinSpend) {
		return Resolution{}, reject(ReasonMinSpendNotMet,
			"%s requires a minimum spend of %s", ins.Name, ins.MinSpend.StringFixed(2))
	}

	switch ins.Kind {
	case KindFreeProduct:
		return resolveFreeProduct(ins, lines, subtotal)
	case KindPercentageOff:
		// Value is the percentage still payable, so the discount is the rest.
		payable := ins.Value.Div(hundred)
		amount := subtotal.Mul(decimal.NewFromInt(1).Sub(payable)).Round(2)
		return Resolution{Amount: clamp(amount, subtotal)}, nil
	case KindFlatAmountOff:
		return Resolution{Amount: clamp(ins.Value, subtotal)}, nil
	default:
		return Resolution{}, reject(ReasonKindMismatch, "%s cannot be applied as a coupon", ins.Name)
	}
}

// resolveFreeProduct waives one unit of the scoped product. The scan follows
// cart insertion order and the first matching line wins; quantity on that
// line never multiplies the discount.
func resolveFreeProduct(ins *Instrument, lines []CartLine, subtotal decimal.Decimal) (Resolution, error) {
	for _, line := range lines {
		if line.ProductID == ins.ScopedProductID {
			return Resolution{
				Amount:          clamp(line.UnitPrice, subtotal),
				AppliesToLineID: line.LineID,
			}, nil
		}
	}
	return Resolution{}, reject(ReasonProductNotInCart,
		"%s applies to a product that is not in the selection", ins.Name)
}

// ResolveVoucher checks whether a product voucher can be redeemed on an
// order. Vouchers carry no subtotal arithmetic; eligibility is availability,
// expiry and kind only.
func ResolveVoucher(ins *Instrument, now time.Time) error {
	if ins.Kind != KindProductVoucher {
		return reject(ReasonKindMismatch, "%s is not a product voucher", ins.Name)
	}
	if ins.Status != StatusAvailable {
		return reject(ReasonNotAvailable, "%s is not available", ins.Name)
	}
	if ins.Expired(now) {
		return reject(ReasonExpired, "%s has expired", ins.Name)
	}
	return nil
}

func clamp(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}
