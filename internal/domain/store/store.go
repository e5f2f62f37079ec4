// Package store carries the merchant's store configuration and the delivery
// fee rules derived from it.
package store

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned when no store configuration row exists.
// Checkout cannot price delivery without it.
var ErrNotConfigured = errors.New("store is not configured")

// Config is the single-merchant store configuration. It is injected as a
// Provider rather than read from any ambient global so a second store is a
// wiring change, not a rewrite.
type Config struct {
	Name                  string
	DeliveryEnabled       bool
	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
}

// Provider yields the current store configuration.
type Provider interface {
	StoreConfig(ctx context.Context) (*Config, error)
}
