package order

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/domain/store"
	"github.com/mingrao/skewer-shop/internal/events"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func defaultStore() *mockStoreProvider {
	return &mockStoreProvider{cfg: &store.Config{
		Name:                  "test store",
		DeliveryEnabled:       true,
		FreeDeliveryThreshold: d("50"),
		DeliveryFee:           d("5"),
	}}
}

type assemblerFixture struct {
	catalog   *mockCatalog
	carts     *mockCarts
	discounts *mockDiscounts
	store     *mockStoreProvider
	orders    *mockOrders
	pub       *recordingPublisher
	assembler *Assembler
}

func newAssemblerFixture(t *testing.T, cat *mockCatalog, carts *mockCarts, discounts *mockDiscounts) *assemblerFixture {
	f := &assemblerFixture{
		catalog:   cat,
		carts:     carts,
		discounts: discounts,
		store:     defaultStore(),
		orders:    newMockOrders(),
		pub:       &recordingPublisher{},
	}
	f.assembler = NewAssembler(
		f.catalog, f.carts, f.discounts, f.store, f.orders, f.pub, zaptest.NewLogger(t),
	)
	return f
}

func line(id, owner, productID string, qty int) cart.Line {
	return cart.Line{ID: id, OwnerID: owner, ProductID: productID, Quantity: qty, Checked: true}
}

func TestCreateOrder_PickupNoDiscount(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("5"), Stock: 10}),
		newMockCarts(line("l1", "u1", "a", 2)),
		newMockDiscounts(),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
	})
	require.NoError(t, err)

	o := res.Order
	assert.True(t, d("10").Equal(o.Subtotal))
	assert.True(t, decimal.Zero.Equal(o.DeliveryFee))
	assert.True(t, d("10").Equal(o.Total))
	assert.Equal(t, StatusPending, o.Status)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"l1"}, o.ConsumedCartLineIDs)
	assert.Len(t, o.OrderNo, 14)

	// Stock committed, cart untouched until settlement.
	assert.Equal(t, 8, f.catalog.stock("a"))
	remaining, _ := f.carts.ListByIDs(context.Background(), "u1", []string{"l1"})
	assert.Len(t, remaining, 1)

	require.NotNil(t, f.orders.get(o.ID))
	assert.Len(t, f.pub.byType(events.TypeOrderCreated), 1)
}

func TestCreateOrder_DeliveryFees(t *testing.T) {
	tests := []struct {
		name      string
		unitPrice string
		wantFee   string
		wantTotal string
	}{
		{"below threshold pays fee", "40", "5", "45"},
		{"at threshold free", "50", "0", "50"},
		{"above threshold free", "60", "0", "60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAssemblerFixture(t,
				newMockCatalog(catalog.Product{ID: "a", Name: "Combo", Price: d(tt.unitPrice), Stock: 5}),
				newMockCarts(line("l1", "u1", "a", 1)),
				newMockDiscounts(),
			)

			res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
				OwnerID:           "u1",
				CartLineIDs:       []string{"l1"},
				DeliveryMode:      store.ModeDelivery,
				DeliveryAddressID: "addr-1",
			})
			require.NoError(t, err)
			assert.True(t, d(tt.wantFee).Equal(res.Order.DeliveryFee),
				"fee: expected %s, got %s", tt.wantFee, res.Order.DeliveryFee)
			assert.True(t, d(tt.wantTotal).Equal(res.Order.Total),
				"total: expected %s, got %s", tt.wantTotal, res.Order.Total)
		})
	}
}

func TestCreateOrder_FeeUsesDiscountedSubtotal(t *testing.T) {
	// Subtotal 55 crosses the free threshold, but a 10 coupon drops the
	// payable amount to 45, so delivery is charged.
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Combo", Price: d("55"), Stock: 5}),
		newMockCarts(line("l1", "u1", "a", 1)),
		newMockDiscounts(discount.Instrument{
			ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
			Name: "10 off", Value: d("10"), Status: discount.StatusAvailable,
		}),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:           "u1",
		CartLineIDs:       []string{"l1"},
		DeliveryMode:      store.ModeDelivery,
		DeliveryAddressID: "addr-1",
		CouponID:          "c1",
	})
	require.NoError(t, err)
	assert.True(t, d("5").Equal(res.Order.DeliveryFee))
	assert.True(t, d("50").Equal(res.Order.Total))
	assert.Equal(t, "c1", res.Order.CouponID)
	assert.Empty(t, res.Warnings)
}

func TestCreateOrder_LenientCouponBelowMinSpend(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("25"), Stock: 5}),
		newMockCarts(line("l1", "u1", "a", 1)),
		newMockDiscounts(discount.Instrument{
			ID: "c1", OwnerID: "u1", Kind: discount.KindFlatAmountOff,
			Name: "10 off over 30", Value: d("10"), MinSpend: d("30"),
			Status: discount.StatusAvailable,
		}),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
		CouponID:     "c1",
	})
	require.NoError(t, err)

	assert.True(t, decimal.Zero.Equal(res.Order.DiscountAmount))
	assert.True(t, d("25").Equal(res.Order.Total))
	assert.Empty(t, res.Order.CouponID, "dropped coupon must not be linked to the order")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "minimum spend")
}

func TestCreateOrder_VoucherAddsBonusLine(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(
			catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 20},
			catalog.Product{ID: "b", Name: "Cola", Price: d("2"), Stock: 20},
		),
		newMockCarts(line("l1", "u1", "a", 2)),
		newMockDiscounts(discount.Instrument{
			ID: "v1", OwnerID: "u1", Kind: discount.KindProductVoucher,
			Name: "10 free skewers", ScopedProductID: "b", UnitCount: 10,
			Status: discount.StatusAvailable,
		}),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
		VoucherIDs:   []string{"v1"},
	})
	require.NoError(t, err)

	o := res.Order
	require.Len(t, o.Items, 2)
	bonus := o.Items[1]
	assert.True(t, bonus.Bonus)
	assert.True(t, decimal.Zero.Equal(bonus.UnitPrice))
	assert.Equal(t, 10, bonus.Quantity)
	assert.Equal(t, []string{"v1"}, o.VoucherIDs)

	// Bonus lines do not change the price but do consume stock.
	assert.True(t, d("6").Equal(o.Total))
	assert.Equal(t, 10, f.catalog.stock("b"))
}

func TestCreateOrder_DuplicateVoucherCollapsed(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(
			catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 20},
			catalog.Product{ID: "b", Name: "Cola", Price: d("2"), Stock: 20},
		),
		newMockCarts(line("l1", "u1", "a", 2)),
		newMockDiscounts(discount.Instrument{
			ID: "v1", OwnerID: "u1", Kind: discount.KindProductVoucher,
			Name: "free cola", ScopedProductID: "b", UnitCount: 1,
			Status: discount.StatusAvailable,
		}),
	)

	res, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
		VoucherIDs:   []string{"v1", "v1"},
	})
	require.NoError(t, err)

	o := res.Order
	require.Len(t, o.Items, 2, "repeated voucher id must grant a single bonus line")
	assert.Equal(t, 1, o.Items[1].Quantity)
	assert.Equal(t, []string{"v1"}, o.VoucherIDs)
	assert.Equal(t, 19, f.catalog.stock("b"), "stock must be decremented once")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "more than once")
}

func TestCreateOrder_DeliveryDisabled(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 5}),
		newMockCarts(line("l1", "u1", "a", 1)),
		newMockDiscounts(),
	)
	f.store.cfg.DeliveryEnabled = false

	_, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:           "u1",
		CartLineIDs:       []string{"l1"},
		DeliveryMode:      store.ModeDelivery,
		DeliveryAddressID: "addr-1",
	})
	require.ErrorIs(t, err, ErrDeliveryDisabled)
	assert.Equal(t, 5, f.catalog.stock("a"))

	// Pickup is unaffected by the delivery switch.
	_, err = f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
	})
	require.NoError(t, err)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 1}),
		newMockCarts(line("l1", "u1", "a", 2)),
		newMockDiscounts(),
	)

	_, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1"},
		DeliveryMode: store.ModePickup,
	})

	var ise *catalog.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "Skewer", ise.ProductName)
	assert.Equal(t, 1, f.catalog.stock("a"), "no decrement may survive a rejected checkout")
}

func TestCreateOrder_CompensatesOnPersistFailure(t *testing.T) {
	f := newAssemblerFixture(t,
		newMockCatalog(
			catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 5},
			catalog.Product{ID: "b", Name: "Cola", Price: d("2"), Stock: 5},
		),
		newMockCarts(
			line("l1", "u1", "a", 2),
			line("l2", "u1", "b", 1),
		),
		newMockDiscounts(),
	)
	f.orders.createErr = errors.New("write refused")

	_, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
		OwnerID:      "u1",
		CartLineIDs:  []string{"l1", "l2"},
		DeliveryMode: store.ModePickup,
	})
	require.Error(t, err)

	assert.Equal(t, 5, f.catalog.stock("a"))
	assert.Equal(t, 5, f.catalog.stock("b"))
	assert.Equal(t, 2, f.catalog.restores["a"])
	assert.Equal(t, 1, f.catalog.restores["b"])
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	f := newAssemblerFixture(t, newMockCatalog(), newMockCarts(), newMockDiscounts())
	ctx := context.Background()

	_, err := f.assembler.CreateOrder(ctx, CreateOrderRequest{
		OwnerID: "u1", CartLineIDs: []string{"l1"}, DeliveryMode: "drone",
	})
	require.ErrorIs(t, err, ErrInvalidDeliveryMode)

	_, err = f.assembler.CreateOrder(ctx, CreateOrderRequest{
		OwnerID: "u1", CartLineIDs: []string{"l1"}, DeliveryMode: store.ModeDelivery,
	})
	require.ErrorIs(t, err, ErrAddressRequired)

	_, err = f.assembler.CreateOrder(ctx, CreateOrderRequest{
		OwnerID: "u1", DeliveryMode: store.ModePickup,
	})
	require.ErrorIs(t, err, ErrEmptySelection)

	// Lines owned by someone else resolve to nothing.
	f2 := newAssemblerFixture(t,
		newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: 5}),
		newMockCarts(line("l1", "other", "a", 1)),
		newMockDiscounts(),
	)
	_, err = f2.assembler.CreateOrder(ctx, CreateOrderRequest{
		OwnerID: "u1", CartLineIDs: []string{"l1"}, DeliveryMode: store.ModePickup,
	})
	require.ErrorIs(t, err, ErrEmptySelection)
}

func TestCreateOrder_NoOversell(t *testing.T) {
	const buyers = 8
	stock := buyers - 1

	cat := newMockCatalog(catalog.Product{ID: "a", Name: "Skewer", Price: d("3"), Stock: stock})

	lines := make([]cart.Line, buyers)
	for i := range lines {
		lines[i] = line("l"+string(rune('0'+i)), "u1", "a", 1)
	}
	f := newAssemblerFixture(t, cat, newMockCarts(lines...), newMockDiscounts())

	var (
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)

	var g errgroup.Group
	for i := range buyers {
		id := lines[i].ID
		g.Go(func() error {
			_, err := f.assembler.CreateOrder(context.Background(), CreateOrderRequest{
				OwnerID:      "u1",
				CartLineIDs:  []string{id},
				DeliveryMode: store.ModePickup,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				var ise *catalog.InsufficientStockError
				if !errors.As(err, &ise) {
					return err
				}
				outOfStock++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, f.catalog.stock("a"))
}
