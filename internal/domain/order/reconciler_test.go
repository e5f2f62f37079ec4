package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/events"
)

type reconcilerFixture struct {
	catalog    *mockCatalog
	carts      *mockCarts
	discounts  *mockDiscounts
	orders     *mockOrders
	ledger     *mockLedger
	pub        *recordingPublisher
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T, cat *mockCatalog, carts *mockCarts, discounts *mockDiscounts) *reconcilerFixture {
	f := &reconcilerFixture{
		catalog:   cat,
		carts:     carts,
		discounts: discounts,
		orders:    newMockOrders(),
		ledger:    newMockLedger(),
		pub:       &recordingPublisher{},
	}
	f.reconciler = NewReconciler(
		f.orders, f.catalog, f.carts, f.discounts, f.ledger, f.pub, zaptest.NewLogger(t),
	)
	return f
}

// seedPendingOrder persists a pending order shaped like assembler output.
func seedPendingOrder(t *testing.T, f *reconcilerFixture, mutate func(*Order)) *Order {
	t.Helper()
	o := &Order{
		ID:      uuid.New().String(),
		OrderNo: NewOrderNo(time.Now()),
		OwnerID: "u1",
		Items: []LineItem{
			{ProductID: "a", Name: "Skewer", UnitPrice: d("3.50"), Quantity: 4},
		},
		Subtotal:            d("14.00"),
		DiscountAmount:      d("0"),
		DeliveryFee:         d("0"),
		Total:               d("14.00"),
		DeliveryMode:        "pickup",
		ConsumedCartLineIDs: []string{"l1"},
		Status:              StatusPending,
		CreatedAt:           time.Now(),
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func TestConfirmPayment_SettlesOnce(t *testing.T) {
	f := newReconcilerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3.50"), Stock: 0}),
		newMockCarts(line("l1", "u1", "a", 4)),
		newMockDiscounts(
			discount.Instrument{
				ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
				Name: "3 off", Value: d("3"), Status: discount.StatusAvailable,
			},
			discount.Instrument{
				ID: "v1", OwnerID: "u1", Kind: discount.KindProductVoucher,
				Name: "free skewers", ScopedProductID: "a", UnitCount: 2,
				Status: discount.StatusAvailable,
			},
		),
	)
	o := seedPendingOrder(t, f, func(o *Order) {
		o.CouponID = "c1"
		o.VoucherIDs = []string{"v1"}
		o.DiscountAmount = d("3")
		o.Total = d("11.00")
	})

	outcome, settled, err := f.reconciler.ConfirmPayment(context.Background(), o.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, outcome)
	assert.Equal(t, StatusPaid, settled.Status)
	require.NotNil(t, settled.PaidAt)

	// Instruments consumed and linked to this order.
	coupon, err := f.discounts.FindForOwner(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, discount.StatusUsed, coupon.Status)
	assert.Equal(t, o.ID, f.discounts.usedWith["c1"])
	assert.Equal(t, o.ID, f.discounts.usedWith["v1"])

	// Cart lines removed only now.
	remaining, _ := f.carts.ListByIDs(context.Background(), "u1", []string{"l1"})
	assert.Empty(t, remaining)

	// One point per currency unit, floored, plus lifetime spend.
	assert.Equal(t, int64(11), f.ledger.points["u1"])
	assert.True(t, d("11.00").Equal(f.ledger.spend["u1"]))

	assert.Len(t, f.pub.byType(events.TypeOrderPaid), 1)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newReconcilerFixture(t,
		newMockCatalog(),
		newMockCarts(line("l1", "u1", "a", 4)),
		newMockDiscounts(discount.Instrument{
			ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
			Name: "3 off", Value: d("3"), Status: discount.StatusAvailable,
		}),
	)
	o := seedPendingOrder(t, f, func(o *Order) { o.CouponID = "c1" })

	ctx := context.Background()
	first, _, err := f.reconciler.ConfirmPayment(ctx, o.OrderNo)
	require.NoError(t, err)
	second, again, err := f.reconciler.ConfirmPayment(ctx, o.OrderNo)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, first)
	assert.Equal(t, OutcomeAlreadySettled, second)
	assert.Equal(t, StatusPaid, again.Status)

	// Exactly one credit and one paid event despite the retry.
	assert.Equal(t, 1, f.ledger.credits)
	assert.Equal(t, int64(14), f.ledger.points["u1"])
	assert.True(t, d("14.00").Equal(f.ledger.spend["u1"]))
	assert.Len(t, f.pub.byType(events.TypeOrderPaid), 1)
}

func TestConfirmPayment_UnknownReference(t *testing.T) {
	f := newReconcilerFixture(t, newMockCatalog(), newMockCarts(), newMockDiscounts())

	outcome, o, err := f.reconciler.ConfirmPayment(context.Background(), "20250601000000")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Nil(t, o)
}

func TestCancel_RestoresStock(t *testing.T) {
	f := newReconcilerFixture(t,
		newMockCatalog(
			catalog.Product{ID: "a", Name: "Skewer", Price: d("3.50"), Stock: 6},
			catalog.Product{ID: "b", Name: "Cola", Price: d("2"), Stock: 0},
		),
		newMockCarts(),
		newMockDiscounts(),
	)
	o := seedPendingOrder(t, f, func(o *Order) {
		o.Items = append(o.Items, LineItem{
			ProductID: "b", Name: "Cola", UnitPrice: d("0"), Quantity: 2, Bonus: true,
		})
	})

	cancelled, err := f.reconciler.Cancel(context.Background(), "u1", o.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)

	// Every line restored, bonus lines included.
	assert.Equal(t, 10, f.catalog.stock("a"))
	assert.Equal(t, 2, f.catalog.stock("b"))

	assert.Len(t, f.pub.byType(events.TypeOrderCancelled), 1)
}

func TestCancel_DefaultReason(t *testing.T) {
	f := newReconcilerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3.50"), Stock: 0}),
		newMockCarts(),
		newMockDiscounts(),
	)
	o := seedPendingOrder(t, f, nil)

	cancelled, err := f.reconciler.Cancel(context.Background(), "u1", o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "cancelled by customer", cancelled.CancelReason)
}

func TestCancel_OnlyFromPending(t *testing.T) {
	f := newReconcilerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3.50"), Stock: 0}),
		newMockCarts(),
		newMockDiscounts(),
	)
	o := seedPendingOrder(t, f, nil)

	_, _, err := f.reconciler.ConfirmPayment(context.Background(), o.OrderNo)
	require.NoError(t, err)

	_, err = f.reconciler.Cancel(context.Background(), "u1", o.ID, "too late")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusPaid, ise.Current)

	// Paid orders keep their stock commitment.
	assert.Equal(t, 0, f.catalog.stock("a"))
}

func TestCancel_NotOwned(t *testing.T) {
	f := newReconcilerFixture(t, newMockCatalog(), newMockCarts(), newMockDiscounts())
	o := seedPendingOrder(t, f, nil)

	_, err := f.reconciler.Cancel(context.Background(), "intruder", o.ID, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestComplete_Transitions(t *testing.T) {
	f := newReconcilerFixture(t, newMockCatalog(), newMockCarts(), newMockDiscounts())
	o := seedPendingOrder(t, f, nil)
	ctx := context.Background()

	// pending → completed is not a legal move.
	_, err := f.reconciler.Complete(ctx, "u1", o.ID)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusPending, ise.Current)

	_, _, err = f.reconciler.ConfirmPayment(ctx, o.OrderNo)
	require.NoError(t, err)

	completed, err := f.reconciler.Complete(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// Completed is terminal.
	_, err = f.reconciler.Complete(ctx, "u1", o.ID)
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusCompleted, ise.Current)
}

func TestOrderNoFormat(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	n := NewOrderNo(now)
	require.Len(t, n, 14)
	assert.Equal(t, "20250601", n[:8])
	for _, c := range n[8:] {
		assert.True(t, c >= '0' && c <= '9')
	}
}

// Guard the total invariant on assembler output: total equals
// max(0, subtotal − discount) + fee and never goes negative.
func TestTotalInvariant(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("4"), Stock: 10}),
		newMockCarts(line("l1", "u1", "a", 1)),
		newMockDiscounts(discount.Instrument{
			ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
			Name: "huge", Value: d("999"), Status: discount.StatusAvailable,
		}),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: "pickup",
	})
	require.NoError(t, err)
	assert.True(t, res.Order.Total.GreaterThanOrEqual(d("0")))

	withCoupon, err := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("4"), Stock: 10}),
		newMockCarts(line("l1", "u1", "a", 1)),
		newMockDiscounts(discount.Instrument{
			ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
			Name: "huge", Value: d("999"), Status: discount.StatusAvailable,
		}),
	).assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: "pickup",
		CouponID:     "c1",
	})
	require.NoError(t, err)
	o := withCoupon.Order
	assert.True(t, o.Total.Equal(decimal.Max(o.Subtotal.Sub(o.DiscountAmount), decimal.Zero).Add(o.DeliveryFee)))
	assert.True(t, o.Total.GreaterThanOrEqual(d("0")))
}
