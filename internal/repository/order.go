package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mingrao/skewer-shop/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, order_no, owner_id, subtotal, discount_amount,
			delivery_fee, total, delivery_mode, delivery_address_id, coupon_id,
			voucher_ids, consumed_cart_line_ids, remark, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, options, bonus)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectOrderSQL = `SELECT id, order_no, owner_id, subtotal, discount_amount, delivery_fee, total,
			delivery_mode, delivery_address_id, coupon_id, voucher_ids, consumed_cart_line_ids,
			remark, status, cancel_reason, created_at, paid_at, completed_at
		FROM orders`

	selectOrderItemsSQL = `SELECT product_id, name, unit_price, quantity, options, bonus
		FROM order_items WHERE order_id = $1 ORDER BY id`

	countOrdersSQL = `SELECT count(*) FROM orders WHERE owner_id = $1 AND ($2 = '' OR status = $2)`

	listOrdersSQL = selectOrderSQL + ` WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	transitionToPaidSQL = `UPDATE orders SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`

	transitionToCancelledSQL = `UPDATE orders SET status = 'cancelled', cancel_reason = $2
		WHERE id = $1 AND status = 'pending'`

	transitionToCompletedSQL = `UPDATE orders SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'paid'`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// aggregate spans the orders row and its order_items rows; Create writes
// both in one transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its line items atomically.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	voucherIDs, err := json.Marshal(o.VoucherIDs)
	if err != nil {
		return fmt.Errorf("marshaling voucher ids: %w", err)
	}
	lineIDs, err := json.Marshal(o.ConsumedCartLineIDs)
	if err != nil {
		return fmt.Errorf("marshaling cart line ids: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNo, o.OwnerID, o.Subtotal, o.DiscountAmount,
		o.DeliveryFee, o.Total, o.DeliveryMode, nullable(o.DeliveryAddressID), nullable(o.CouponID),
		voucherIDs, lineIDs, o.Remark, o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		optionsJSON, err := json.Marshal(item.Options)
		if err != nil {
			return fmt.Errorf("marshaling item options: %w", err)
		}
		_, err = tx.Exec(ctx, insertOrderItemSQL,
			o.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, optionsJSON, item.Bonus,
		)
		if err != nil {
			return fmt.Errorf("creating order item for %q: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetForOwner loads the caller's order by internal id or order number.
func (r *OrderRepository) GetForOwner(ctx context.Context, ownerID, idOrNo string) (*order.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE owner_id = $1 AND (id = $2 OR order_no = $2)`, ownerID, idOrNo)
}

// GetByOrderNo loads an order by its external reference regardless of owner.
// Settlement notifications carry only the order number.
func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*order.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE order_no = $1`, orderNo)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListForOwner returns one page of the caller's orders, newest first, plus
// the total match count for the paging header.
func (r *OrderRepository) ListForOwner(ctx context.Context, ownerID string, status order.Status, page, pageSize int) ([]order.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, ownerID, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, ownerID, string(status), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// TransitionToPaid flips pending→paid. The status predicate makes the update
// conditional: at most one caller ever sees rowsAffected = 1.
func (r *OrderRepository) TransitionToPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionToPaidSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q to paid: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionToCancelled flips pending→cancelled and records the reason.
func (r *OrderRepository) TransitionToCancelled(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionToCancelledSQL, id, reason)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q to cancelled: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionToCompleted flips paid→completed.
func (r *OrderRepository) TransitionToCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionToCompletedSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q to completed: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, selectOrderItemsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("loading items for order %q: %w", o.ID, err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("loading items for order %q: %w", o.ID, err)
	}
	o.Items = items
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		addressID    *string
		couponID     *string
		cancelReason *string
		voucherIDs   []byte
		lineIDs      []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.OwnerID, &o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.Total,
		&o.DeliveryMode, &addressID, &couponID, &voucherIDs, &lineIDs,
		&o.Remark, &o.Status, &cancelReason, &o.CreatedAt, &o.PaidAt, &o.CompletedAt,
	)
	if err != nil {
		return o, err
	}
	if addressID != nil {
		o.DeliveryAddressID = *addressID
	}
	if couponID != nil {
		o.CouponID = *couponID
	}
	if cancelReason != nil {
		o.CancelReason = *cancelReason
	}
	if err := json.Unmarshal(voucherIDs, &o.VoucherIDs); err != nil {
		return o, fmt.Errorf("decoding voucher ids: %w", err)
	}
	if err := json.Unmarshal(lineIDs, &o.ConsumedCartLineIDs); err != nil {
		return o, fmt.Errorf("decoding cart line ids: %w", err)
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.LineItem, error) {
	var (
		item        order.LineItem
		optionsJSON []byte
	)
	if err := row.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &optionsJSON, &item.Bonus); err != nil {
		return item, err
	}
	if err := json.Unmarshal(optionsJSON, &item.Options); err != nil {
		return item, fmt.Errorf("decoding item options: %w", err)
	}
	return item, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
