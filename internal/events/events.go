// Package events publishes order lifecycle events for downstream consumers
// (kitchen display, analytics). Publishing is best-effort: the settlement
// pipeline never fails an order because a broker was unreachable.
package events

import (
	"context"
	"time"
)

// Event types emitted on the order topic.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderPaid      = "order.paid"
	TypeOrderCancelled = "order.cancelled"
)

// OrderEvent is the wire payload for every order lifecycle event.
type OrderEvent struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	OrderNo   string    `json:"order_no"`
	OwnerID   string    `json:"owner_id"`
	Total     string    `json:"total"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits order events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, evt OrderEvent) error
}

// Nop is a Publisher that drops every event. Used when no brokers are
// configured.
type Nop struct{}

func (Nop) Publish(context.Context, OrderEvent) error { return nil }
