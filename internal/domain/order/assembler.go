package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mingrao/skewer-shop/internal/domain/cart"
	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/domain/store"
	"github.com/mingrao/skewer-shop/internal/events"
)

// CreateOrderRequest holds the checkout input.
type CreateOrderRequest struct {
	OwnerID           string
	CartLineIDs       []string
	DeliveryMode      store.DeliveryMode
	DeliveryAddressID string
	CouponID          string
	VoucherIDs        []string
	Remark            string
}

// CreateOrderResult is the assembled order plus non-fatal warnings. An
// ineligible coupon or voucher does not fail checkout; it is dropped and
// reported here so the client can tell the customer.
type CreateOrderResult struct {
	Order    *Order
	Warnings []string
}

// Assembler builds priced, stock-committed orders.
type Assembler struct {
	products  catalog.Repository
	carts     cart.Repository
	discounts discount.Repository
	storeCfg  store.Provider
	orders    Repository
	publisher events.Publisher
	lg        *zap.Logger
	now       func() time.Time
}

// NewAssembler creates an Assembler with the required collaborators.
func NewAssembler(
	products catalog.Repository,
	carts cart.Repository,
	discounts discount.Repository,
	storeCfg store.Provider,
	orders Repository,
	publisher events.Publisher,
	lg *zap.Logger,
) *Assembler {
	return &Assembler{
		products:  products,
		carts:     carts,
		discounts: discounts,
		storeCfg:  storeCfg,
		orders:    orders,
		publisher: publisher,
		lg:        lg,
		now:       time.Now,
	}
}

// CreateOrder runs the checkout pipeline: load the caller's cart lines,
// freeze prices, resolve the optional coupon and vouchers, price delivery,
// decrement stock and persist the pending order.
//
// Stock decrements and the order write behave as one unit: each decrement is
// an atomic conditional update, and any later failure restores every
// decrement already applied before returning. Cart lines are only recorded
// in ConsumedCartLineIDs here; deletion waits for settlement so an abandoned
// checkout keeps the customer's cart intact.
func (a *Assembler) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if !req.DeliveryMode.Valid() {
		return nil, ErrInvalidDeliveryMode
	}
	if req.DeliveryMode == store.ModeDelivery && req.DeliveryAddressID == "" {
		return nil, ErrAddressRequired
	}
	if len(req.CartLineIDs) == 0 {
		return nil, ErrEmptySelection
	}

	lines, err := a.carts.ListByIDs(ctx, req.OwnerID, req.CartLineIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load cart lines")
	}
	if len(lines) == 0 {
		return nil, ErrEmptySelection
	}

	items, resolverLines, subtotal, err := a.priceLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	var warnings []string
	now := a.now()

	discountAmount := decimal.Zero
	couponID := req.CouponID
	if couponID != "" {
		amount, warning, err := a.resolveCoupon(ctx, req.OwnerID, couponID, resolverLines, subtotal, now)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
			couponID = ""
		}
		discountAmount = amount
	}

	// An instrument grants its units on exactly one order, so repeats of the
	// same id in the request collapse to a single redemption.
	voucherIDs := make([]string, 0, len(req.VoucherIDs))
	seenVouchers := make(map[string]bool, len(req.VoucherIDs))
	for _, id := range req.VoucherIDs {
		if seenVouchers[id] {
			warnings = append(warnings, "voucher listed more than once; applied once")
			continue
		}
		seenVouchers[id] = true
		item, warning, err := a.redeemVoucher(ctx, req.OwnerID, id, now)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
			continue
		}
		items = append(items, *item)
		voucherIDs = append(voucherIDs, id)
	}

	// Delivery is priced on what the customer actually pays for goods.
	discounted := decimal.Max(subtotal.Sub(discountAmount), decimal.Zero)

	cfg, err := a.storeCfg.StoreConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load store config")
	}
	if req.DeliveryMode == store.ModeDelivery && !cfg.DeliveryEnabled {
		return nil, ErrDeliveryDisabled
	}
	fee := store.DeliveryFee(req.DeliveryMode, discounted, cfg)

	total := discounted.Add(fee).Round(2)

	consumed := make([]string, len(lines))
	for i, l := range lines {
		consumed[i] = l.ID
	}

	o := &Order{
		ID:                  uuid.New().String(),
		OrderNo:             NewOrderNo(now),
		OwnerID:             req.OwnerID,
		Items:               items,
		Subtotal:            subtotal.Round(2),
		DiscountAmount:      discountAmount.Round(2),
		DeliveryFee:         fee.Round(2),
		Total:               total,
		DeliveryMode:        req.DeliveryMode,
		DeliveryAddressID:   req.DeliveryAddressID,
		CouponID:            couponID,
		VoucherIDs:          voucherIDs,
		ConsumedCartLineIDs: consumed,
		Remark:              req.Remark,
		Status:              StatusPending,
		CreatedAt:           now,
	}

	if err := a.commitStock(ctx, o); err != nil {
		return nil, err
	}

	evt := events.OrderEvent{
		EventID:   uuid.New().String(),
		Type:      events.TypeOrderCreated,
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		OwnerID:   o.OwnerID,
		Total:     o.Total.StringFixed(2),
		Status:    string(o.Status),
		Timestamp: now,
	}
	if err := a.publisher.Publish(ctx, evt); err != nil {
		a.lg.Warn("publish order.created failed", zap.String("order_no", o.OrderNo), zap.Error(err))
	}

	return &CreateOrderResult{Order: o, Warnings: warnings}, nil
}

// priceLines freezes catalog prices into line item snapshots and computes
// the subtotal. Stock is pre-checked here for a friendly error; the
// authoritative check is the conditional decrement in commitStock.
func (a *Assembler) priceLines(ctx context.Context, lines []cart.Line) ([]LineItem, []discount.CartLine, decimal.Decimal, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	fetched, err := a.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	byID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]LineItem, 0, len(lines))
	resolverLines := make([]discount.CartLine, 0, len(lines))
	subtotal := decimal.Zero

	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, nil, decimal.Zero, catalog.ErrNotFound
		}
		if p.Stock < l.Quantity {
			return nil, nil, decimal.Zero, &catalog.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
			}
		}

		items = append(items, LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
			Options:   l.Options,
		})
		resolverLines = append(resolverLines, discount.CartLine{
			LineID:    l.ID,
			ProductID: l.ProductID,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
		})
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	return items, resolverLines, subtotal, nil
}

// resolveCoupon applies the lenient policy: a rejection becomes a warning
// and the order proceeds undiscounted; anything else is a hard failure.
func (a *Assembler) resolveCoupon(
	ctx context.Context,
	ownerID, couponID string,
	lines []discount.CartLine,
	subtotal decimal.Decimal,
	now time.Time,
) (decimal.Decimal, string, error) {
	ins, err := a.discounts.FindForOwner(ctx, ownerID, couponID)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			return decimal.Zero, "coupon not found", nil
		}
		return decimal.Zero, "", errors.Wrap(err, "find coupon")
	}

	res, err := discount.Resolve(ins, lines, subtotal, now)
	if err != nil {
		var rej *discount.RejectionError
		if errors.As(err, &rej) {
			a.lg.Info("coupon dropped",
				zap.String("coupon_id", couponID),
				zap.String("reason", string(rej.Reason)),
			)
			return decimal.Zero, "coupon could not be applied: " + rej.Error(), nil
		}
		return decimal.Zero, "", errors.Wrap(err, "resolve coupon")
	}

	return res.Amount, "", nil
}

// redeemVoucher turns an eligible product voucher into a zero-priced bonus
// line item. Ineligible vouchers are skipped with a warning.
func (a *Assembler) redeemVoucher(ctx context.Context, ownerID, voucherID string, now time.Time) (*LineItem, string, error) {
	ins, err := a.discounts.FindForOwner(ctx, ownerID, voucherID)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			return nil, "voucher not found", nil
		}
		return nil, "", errors.Wrap(err, "find voucher")
	}

	if err := discount.ResolveVoucher(ins, now); err != nil {
		var rej *discount.RejectionError
		if errors.As(err, &rej) {
			return nil, "voucher could not be applied: " + rej.Error(), nil
		}
		return nil, "", errors.Wrap(err, "resolve voucher")
	}

	p, err := a.products.GetByID(ctx, ins.ScopedProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, "voucher product is no longer available", nil
		}
		return nil, "", errors.Wrap(err, "get voucher product")
	}
	if p.Stock < ins.UnitCount {
		return nil, "voucher product is out of stock", nil
	}

	return &LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: decimal.Zero,
		Quantity:  ins.UnitCount,
		Bonus:     true,
	}, "", nil
}

// commitStock decrements stock for every line (bonus lines included) and
// persists the order. On any failure it compensates by restoring the
// decrements already applied, leaving no partial mutation behind.
func (a *Assembler) commitStock(ctx context.Context, o *Order) error {
	done := make([]LineItem, 0, len(o.Items))

	restore := func() {
		for _, item := range done {
			if err := a.products.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
				a.lg.Error("stock restore failed",
					zap.String("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
					zap.Error(err),
				)
			}
		}
	}

	for _, item := range o.Items {
		if err := a.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			restore()
			var ise *catalog.InsufficientStockError
			if errors.As(err, &ise) {
				return ise
			}
			return errors.Wrapf(err, "decrement stock for %s", item.ProductID)
		}
		done = append(done, item)
	}

	if err := a.orders.Create(ctx, o); err != nil {
		restore()
		return errors.Wrap(err, "create order")
	}

	return nil
}
