package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mingrao/skewer-shop/internal/domain/store"
)

const getStoreConfigSQL = `SELECT name, delivery_enabled, free_delivery_threshold, delivery_fee
	FROM store_config WHERE id = 1`

var _ store.Provider = (*StoreRepository)(nil)

// StoreRepository reads the single-row store configuration.
type StoreRepository struct {
	pool *pgxpool.Pool
}

// NewStoreRepository returns a StoreRepository that uses the given pool.
func NewStoreRepository(pool *pgxpool.Pool) *StoreRepository {
	return &StoreRepository{pool: pool}
}

// StoreConfig loads the merchant configuration. A missing row means the
// deployment was never seeded; checkout treats that as retryable.
func (r *StoreRepository) StoreConfig(ctx context.Context) (*store.Config, error) {
	var cfg store.Config
	err := r.pool.QueryRow(ctx, getStoreConfigSQL).Scan(
		&cfg.Name, &cfg.DeliveryEnabled, &cfg.FreeDeliveryThreshold, &cfg.DeliveryFee,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotConfigured
		}
		return nil, fmt.Errorf("loading store config: %w", err)
	}
	return &cfg, nil
}
