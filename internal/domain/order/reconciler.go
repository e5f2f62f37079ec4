package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/domain/loyalty"
	"github.com/mingrao/skewer-shop/internal/events"
)

// Outcome reports what a settlement confirmation did.
type Outcome int

const (
	// OutcomeSettled means this call performed the pending→paid transition.
	OutcomeSettled Outcome = iota
	// OutcomeAlreadySettled means the order had already left pending; no side
	// effects were applied by this call.
	OutcomeAlreadySettled
	// OutcomeNotFound means no order matches the reference.
	OutcomeNotFound
)

// Reconciler owns every status transition after assembly. Payment
// confirmations arrive at-least-once from two transports (gateway webhook
// and client polling); both funnel into ConfirmPayment, which is the single
// idempotent command handler.
type Reconciler struct {
	orders    Repository
	products  catalog.Repository
	carts     cart.Repository
	discounts discount.Repository
	ledger    loyalty.Ledger
	publisher events.Publisher
	lg        *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler with the required collaborators.
func NewReconciler(
	orders Repository,
	products catalog.Repository,
	carts cart.Repository,
	discounts discount.Repository,
	ledger loyalty.Ledger,
	publisher events.Publisher,
	lg *zap.Logger,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		products:  products,
		carts:     carts,
		discounts: discounts,
		ledger:    ledger,
		publisher: publisher,
		lg:        lg,
		now:       time.Now,
	}
}

// ConfirmPayment settles the order identified by its external reference
// (the order number handed to the gateway). Idempotence hinges on the
// conditional pending→paid update: only the call that wins it runs the paid
// side effects, so a retried webhook or a webhook racing a poll yields
// exactly one coupon consumption and one loyalty credit.
//
// Side-effect failures after the transition are logged, not returned: the
// order is paid, and a later reconciliation pass can repair the rest.
func (r *Reconciler) ConfirmPayment(ctx context.Context, orderNo string) (Outcome, *Order, error) {
	o, err := r.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return OutcomeNotFound, nil, nil
		}
		return 0, nil, errors.Wrap(err, "load order")
	}

	now := r.now()
	won, err := r.orders.TransitionToPaid(ctx, o.ID, now)
	if err != nil {
		return 0, nil, errors.Wrap(err, "transition to paid")
	}
	if !won {
		r.lg.Info("settlement already processed", zap.String("order_no", orderNo))
		return OutcomeAlreadySettled, o, nil
	}

	o.Status = StatusPaid
	o.PaidAt = &now

	r.applyPaidSideEffects(ctx, o, now)

	evt := events.OrderEvent{
		EventID:   uuid.New().String(),
		Type:      events.TypeOrderPaid,
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		OwnerID:   o.OwnerID,
		Total:     o.Total.StringFixed(2),
		Status:    string(o.Status),
		Timestamp: now,
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.lg.Warn("publish order.paid failed", zap.String("order_no", o.OrderNo), zap.Error(err))
	}

	r.lg.Info("order settled",
		zap.String("order_no", o.OrderNo),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return OutcomeSettled, o, nil
}

// applyPaidSideEffects runs once, on the call that won the transition:
// consume the discount instruments, clear the consumed cart lines (scoped to
// the owner) and accrue loyalty.
func (r *Reconciler) applyPaidSideEffects(ctx context.Context, o *Order, now time.Time) {
	instruments := make([]string, 0, len(o.VoucherIDs)+1)
	if o.CouponID != "" {
		instruments = append(instruments, o.CouponID)
	}
	instruments = append(instruments, o.VoucherIDs...)
	if len(instruments) > 0 {
		if err := r.discounts.MarkUsed(ctx, o.OwnerID, instruments, o.ID); err != nil {
			r.lg.Error("mark instruments used failed",
				zap.String("order_no", o.OrderNo), zap.Error(err))
		}
	}

	if len(o.ConsumedCartLineIDs) > 0 {
		if err := r.carts.DeleteByIDs(ctx, o.OwnerID, o.ConsumedCartLineIDs); err != nil {
			r.lg.Error("cart cleanup failed",
				zap.String("order_no", o.OrderNo), zap.Error(err))
		}
	}

	points := o.Total.IntPart()
	if points > 0 {
		if err := r.ledger.CreditPoints(ctx, o.OwnerID, points); err != nil {
			r.lg.Error("points credit failed",
				zap.String("order_no", o.OrderNo), zap.Error(err))
		}
	}
	if err := r.ledger.AddLifetimeSpend(ctx, o.OwnerID, o.Total); err != nil {
		r.lg.Error("lifetime spend update failed",
			zap.String("order_no", o.OrderNo), zap.Error(err))
	}
}

// Cancel reverses a pending order: flip the status, restore stock for every
// line item (bonus lines included) and record the reason. Instruments tied
// to a pending order were never marked used, so there is nothing to release.
func (r *Reconciler) Cancel(ctx context.Context, ownerID, orderID, reason string) (*Order, error) {
	o, err := r.orders.GetForOwner(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, &InvalidStateError{Current: o.Status}
	}

	if reason == "" {
		reason = "cancelled by customer"
	}
	won, err := r.orders.TransitionToCancelled(ctx, o.ID, reason)
	if err != nil {
		return nil, errors.Wrap(err, "transition to cancelled")
	}
	if !won {
		// Lost a race against settlement or another cancel.
		current, err := r.orders.GetForOwner(ctx, ownerID, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{Current: current.Status}
	}

	o.Status = StatusCancelled
	o.CancelReason = reason

	for _, item := range o.Items {
		if err := r.products.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			r.lg.Error("stock restore on cancel failed",
				zap.String("order_no", o.OrderNo),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}

	evt := events.OrderEvent{
		EventID:   uuid.New().String(),
		Type:      events.TypeOrderCancelled,
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		OwnerID:   o.OwnerID,
		Total:     o.Total.StringFixed(2),
		Status:    string(o.Status),
		Timestamp: r.now(),
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.lg.Warn("publish order.cancelled failed", zap.String("order_no", o.OrderNo), zap.Error(err))
	}

	return o, nil
}

// Complete marks a paid order as fulfilled. Only paid orders qualify;
// pending orders must settle first and terminal states stay put.
func (r *Reconciler) Complete(ctx context.Context, ownerID, orderID string) (*Order, error) {
	o, err := r.orders.GetForOwner(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaid {
		return nil, &InvalidStateError{Current: o.Status}
	}

	now := r.now()
	won, err := r.orders.TransitionToCompleted(ctx, o.ID, now)
	if err != nil {
		return nil, errors.Wrap(err, "transition to completed")
	}
	if !won {
		current, err := r.orders.GetForOwner(ctx, ownerID, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{Current: current.Status}
	}

	o.Status = StatusCompleted
	o.CompletedAt = &now
	return o, nil
}
