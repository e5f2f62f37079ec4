package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mingrao/skewer-shop/internal/domain/discount"
)

const (
	getInstrumentSQL = `SELECT id, owner_id, template_id, kind, name, value, min_spend,
			scoped_product_id, unit_count, expires_at, status
		FROM discount_instruments
		WHERE id = $1 AND owner_id = $2`

	expireInstrumentSQL = `UPDATE discount_instruments SET status = 'expired'
		WHERE id = $1 AND status = 'available'`

	markUsedSQL = `UPDATE discount_instruments
		SET status = 'used', used_order_id = $3, used_at = $4
		WHERE owner_id = $1 AND id = ANY($2) AND status = 'available'`

	findPromoCodeSQL = `SELECT code, kind, value, min_spend, scoped_product_id, description
		FROM promo_codes
		WHERE code = $1`

	issueInstrumentSQL = `INSERT INTO discount_instruments
			(id, owner_id, template_id, kind, name, value, min_spend,
			 scoped_product_id, unit_count, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
)

var (
	_ discount.Repository      = (*DiscountRepository)(nil)
	_ discount.PromoRepository = (*DiscountRepository)(nil)
)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
// Expiry is detected lazily on read; there is no sweeper.
type DiscountRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool, now: time.Now}
}

// FindForOwner loads the caller's instrument. An instrument read past its
// expiry comes back as expired and the row is flipped in place.
func (r *DiscountRepository) FindForOwner(ctx context.Context, ownerID, id string) (*discount.Instrument, error) {
	rows, err := r.pool.Query(ctx, getInstrumentSQL, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting instrument %q: %w", id, err)
	}

	ins, err := pgx.CollectExactlyOneRow(rows, scanInstrument)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting instrument %q: %w", id, err)
	}

	if ins.Status == discount.StatusAvailable && ins.Expired(r.now()) {
		ins.Status = discount.StatusExpired
		if _, err := r.pool.Exec(ctx, expireInstrumentSQL, id); err != nil {
			return nil, fmt.Errorf("expiring instrument %q: %w", id, err)
		}
	}
	return &ins, nil
}

// MarkUsed consumes the caller's available instruments among ids, linking
// them to orderID. Rows in any other state stay untouched, which is what
// makes a settlement retry harmless.
func (r *DiscountRepository) MarkUsed(ctx context.Context, ownerID string, ids []string, orderID string) error {
	if _, err := r.pool.Exec(ctx, markUsedSQL, ownerID, ids, orderID, r.now()); err != nil {
		return fmt.Errorf("marking instruments used: %w", err)
	}
	return nil
}

// FindPromoCode loads a bulk-ingested promo code template.
func (r *DiscountRepository) FindPromoCode(ctx context.Context, code string) (*discount.PromoCode, error) {
	rows, err := r.pool.Query(ctx, findPromoCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("getting promo code: %w", err)
	}

	pc, err := pgx.CollectExactlyOneRow(rows, scanPromoCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("getting promo code: %w", err)
	}
	return &pc, nil
}

// IssueInstrument writes a freshly redeemed instrument. The partial unique
// index on (owner_id, template_id) turns a repeat redemption into
// discount.ErrAlreadyRedeemed.
func (r *DiscountRepository) IssueInstrument(ctx context.Context, ins *discount.Instrument) error {
	_, err := r.pool.Exec(ctx, issueInstrumentSQL,
		ins.ID, ins.OwnerID, ins.TemplateID, ins.Kind, ins.Name,
		ins.Value, ins.MinSpend, nullable(ins.ScopedProductID),
		ins.UnitCount, ins.ExpiresAt, ins.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return discount.ErrAlreadyRedeemed
		}
		return fmt.Errorf("issuing instrument %q: %w", ins.ID, err)
	}
	return nil
}

func scanPromoCode(row pgx.CollectableRow) (discount.PromoCode, error) {
	var (
		pc     discount.PromoCode
		scoped *string
	)
	err := row.Scan(&pc.Code, &pc.Kind, &pc.Value, &pc.MinSpend, &scoped, &pc.Description)
	if scoped != nil {
		pc.ScopedProductID = *scoped
	}
	return pc, err
}

func scanInstrument(row pgx.CollectableRow) (discount.Instrument, error) {
	var (
		ins    discount.Instrument
		scoped *string
	)
	err := row.Scan(
		&ins.ID, &ins.OwnerID, &ins.TemplateID, &ins.Kind, &ins.Name,
		&ins.Value, &ins.MinSpend, &scoped, &ins.UnitCount,
		&ins.ExpiresAt, &ins.Status,
	)
	if scoped != nil {
		ins.ScopedProductID = *scoped
	}
	return ins, err
}
