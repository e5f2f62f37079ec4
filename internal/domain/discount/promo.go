package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrCodeNotFound is returned when a promo code does not exist.
	ErrCodeNotFound = errors.New("promo code not found")
	// ErrAlreadyRedeemed is returned when the caller has already turned the
	// code into an instrument.
	ErrAlreadyRedeemed = errors.New("promo code already redeemed")
)

// PromoCode is a bulk-ingested, issue-ready discount template keyed by the
// code the customer types in. Codes stay redeemable indefinitely; each user
// can turn a given code into an instrument once.
type PromoCode struct {
	Code            string
	Kind            Kind
	Value           decimal.Decimal
	MinSpend        decimal.Decimal
	ScopedProductID string
	Description     string
}

// PromoRepository resolves redeemable codes and persists the instruments
// issued from them. IssueInstrument reports ErrAlreadyRedeemed when the
// owner already holds an instrument for the same template.
type PromoRepository interface {
	FindPromoCode(ctx context.Context, code string) (*PromoCode, error)
	IssueInstrument(ctx context.Context, ins *Instrument) error
}

// Redeem issues the instrument a promo code describes to ownerID. The
// template collapses into the instrument row at issue time; the code is kept
// as the template id so a second redemption by the same user is rejected.
func Redeem(ctx context.Context, repo PromoRepository, ownerID, code string) (*Instrument, error) {
	pc, err := repo.FindPromoCode(ctx, code)
	if err != nil {
		return nil, err
	}

	ins := &Instrument{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		TemplateID:      pc.Code,
		Kind:            pc.Kind,
		Name:            pc.Description,
		Value:           pc.Value,
		MinSpend:        pc.MinSpend,
		ScopedProductID: pc.ScopedProductID,
		UnitCount:       1,
		Status:          StatusAvailable,
	}
	if err := repo.IssueInstrument(ctx, ins); err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			return nil, ErrAlreadyRedeemed
		}
		return nil, errors.Wrap(err, "issue instrument")
	}
	return ins, nil
}
