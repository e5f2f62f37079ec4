package store

import (
	"github.com/shopspring/decimal"
)

// DeliveryMode selects how the customer receives the order.
type DeliveryMode string

const (
	ModePickup   DeliveryMode = "pickup"
	ModeDelivery DeliveryMode = "delivery"
)

// Valid reports whether m is a known delivery mode.
func (m DeliveryMode) Valid() bool {
	return m == ModePickup || m == ModeDelivery
}

// DeliveryFee computes the fee for an order. Pickup is always free; delivery
// is free once the (post-discount) subtotal reaches the store's threshold.
// Pure function; the caller supplies the Config and handles ErrNotConfigured
// from the Provider.
func DeliveryFee(mode DeliveryMode, subtotal decimal.Decimal, cfg *Config) decimal.Decimal {
	if mode != ModeDelivery {
		return decimal.Zero
	}
	if subtotal.GreaterThanOrEqual(cfg.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return cfg.DeliveryFee
}
