package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bistrohq/orders-api/internal/domain"
)

// DirectoryRepository backs the read-only lookups orders depend on: the menu
// catalog, users and reservations.
type DirectoryRepository struct {
	querier
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{querier{pool: pool}}
}

// ResolveAvailable returns the ids that are available and not deleted.
// Malformed ids are treated as missing.
func (r *DirectoryRepository) ResolveAvailable(ctx context.Context, ids []string) ([]domain.MenuItemPrice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
SELECT id, name, price
FROM menu_items
WHERE id::text = ANY($1::text[]) AND available AND deleted_at IS NULL`

	rows, err := r.query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve menu items: %w", err)
	}
	defer rows.Close()

	var items []domain.MenuItemPrice
	for rows.Next() {
		var (
			item  domain.MenuItemPrice
			price pgtype.Numeric
		)
		if err := rows.Scan(&item.ID, &item.Name, &price); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		if item.Price, err = numericToDecimal(price); err != nil {
			return nil, fmt.Errorf("scan menu item price: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate menu items: %w", rows.Err())
	}
	return items, nil
}

func (r *DirectoryRepository) UserName(ctx context.Context, id string) (string, error) {
	var name string
	err := r.queryRow(ctx, `SELECT name FROM users WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("get user: %w", err)
	}
	return name, nil
}

func (r *DirectoryRepository) Reservation(ctx context.Context, id string) (domain.ReservationSummary, error) {
	const query = `SELECT id, reserved_for, party_size FROM reservations WHERE id = $1`

	var res domain.ReservationSummary
	err := r.queryRow(ctx, query, id).Scan(&res.ID, &res.ReservedFor, &res.PartySize)
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.ReservationSummary{}, domain.ErrReservationNotFound
		}
		return domain.ReservationSummary{}, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}
