package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bistrohq/orders-api/internal/app"
	"github.com/bistrohq/orders-api/internal/domain"
)

type OrderRepository struct {
	querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{querier{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, user_id, reservation_id, status, created_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := r.exec(ctx, stmt, order.ID, order.UserID, order.ReservationID, order.Status, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", mapOrderWriteError(err))
	}
	if err := r.insertItems(ctx, order.ID, order.Items); err != nil {
		return err
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, id, false)
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, id, true)
}

func (r *OrderRepository) getOrder(ctx context.Context, id string, lock bool) (domain.Order, error) {
	query := `
SELECT id, user_id, reservation_id, status, created_at
FROM orders
WHERE id = $1`
	if lock {
		query += "\nFOR UPDATE"
	}

	var o domain.Order
	err := r.queryRow(ctx, query, id).
		Scan(&o.ID, &o.UserID, &o.ReservationID, &o.Status, &o.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

// ListOrders returns newest orders first.
func (r *OrderRepository) ListOrders(ctx context.Context, filter app.ListOrdersFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, user_id, reservation_id, status, created_at FROM orders")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.query(ctx, sb.String(), args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ReservationID, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate orders: %w", rows.Err())
	}
	if len(orders) == 0 {
		return nil, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// UpdateOrder writes the scalar columns only; items go through ReplaceItems.
func (r *OrderRepository) UpdateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
UPDATE orders
SET user_id = $2, reservation_id = $3, status = $4
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, order.ID, order.UserID, order.ReservationID, order.Status)
	if err != nil {
		return fmt.Errorf("update order: %w", mapOrderWriteError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// ReplaceItems deletes every item row of the order and inserts items.
// Callers run it inside WithTx.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if _, err := r.exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("delete order items: %w", err)
	}
	return r.insertItems(ctx, orderID, items)
}

func (r *OrderRepository) DeleteOrder(ctx context.Context, id string) error {
	tag, err := r.exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrOrderHasPayment
		}
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) insertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	const stmt = `
INSERT INTO order_items (id, order_id, menu_item_id, position, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6)`

	for i, item := range items {
		_, err := r.exec(ctx, stmt, item.ID, orderID, item.MenuItemID, i, item.Quantity, item.UnitPrice.StringFixed(2))
		if err != nil {
			if isForeignKeyViolation(err) {
				return &domain.MissingMenuItemsError{IDs: []string{item.MenuItemID}}
			}
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	const query = `
SELECT id, order_id, menu_item_id, quantity, unit_price
FROM order_items
WHERE order_id = ANY($1::uuid[])
ORDER BY order_id, position`

	rows, err := r.query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			item  domain.OrderItem
			price pgtype.Numeric
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = numericToDecimal(price); err != nil {
			return nil, fmt.Errorf("scan order item price: %w", err)
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate order items: %w", rows.Err())
	}
	return out, nil
}

func mapOrderWriteError(err error) error {
	switch {
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	case isForeignKeyViolation(err) && constraintName(err) == "orders_reservation_id_fkey":
		return domain.ErrReservationNotFound
	case isForeignKeyViolation(err):
		return domain.ErrUserNotFound
	}
	return err
}
