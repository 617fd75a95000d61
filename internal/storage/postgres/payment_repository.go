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

const paymentColumns = `id, order_id, amount, method, status, paid_at, currency, provider, provider_order_id, provider_capture_id`

type PaymentRepository struct {
	querier
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{querier{pool: pool}}
}

func (r *PaymentRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p domain.Payment) error {
	const stmt = `
INSERT INTO payments (id, order_id, amount, method, status, paid_at, currency, provider, provider_order_id, provider_capture_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.exec(ctx, stmt,
		p.ID,
		p.OrderID,
		p.Amount.StringFixed(2),
		p.Method,
		p.Status,
		p.PaidAt,
		p.Currency,
		p.Provider,
		p.ProviderOrderID,
		p.ProviderCaptureID,
	)
	if err != nil {
		return mapPaymentWriteError("create payment", err)
	}
	return nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(ctx, "get payment", query, id)
}

// GetPaymentByOrderID returns nil when the order has no payment.
func (r *PaymentRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	p, err := r.scanOne(ctx, "get payment by order", query, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetPaymentByProviderOrderForUpdate locks the payment linked to a remote
// order until the surrounding transaction ends.
func (r *PaymentRepository) GetPaymentByProviderOrderForUpdate(ctx context.Context, provider, providerOrderID string) (domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
FROM payments
WHERE provider = $1 AND provider_order_id = $2
FOR UPDATE`
	return r.scanOne(ctx, "get payment by provider order", query, provider, providerOrderID)
}

func (r *PaymentRepository) UpdatePayment(ctx context.Context, p domain.Payment) error {
	const stmt = `
UPDATE payments
SET order_id = $2, amount = $3, method = $4, status = $5, paid_at = $6, currency = $7,
	provider = $8, provider_order_id = $9, provider_capture_id = $10
WHERE id = $1`

	tag, err := r.exec(ctx, stmt,
		p.ID,
		p.OrderID,
		p.Amount.StringFixed(2),
		p.Method,
		p.Status,
		p.PaidAt,
		p.Currency,
		p.Provider,
		p.ProviderOrderID,
		p.ProviderCaptureID,
	)
	if err != nil {
		return mapPaymentWriteError("update payment", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) DeletePayment(ctx context.Context, id string) error {
	tag, err := r.exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) scanOne(ctx context.Context, op, query string, args ...any) (domain.Payment, error) {
	var (
		p      domain.Payment
		amount pgtype.Numeric
	)
	err := r.queryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.OrderID,
		&amount,
		&p.Method,
		&p.Status,
		&p.PaidAt,
		&p.Currency,
		&p.Provider,
		&p.ProviderOrderID,
		&p.ProviderCaptureID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Payment{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	if p.Amount, err = numericToDecimal(amount); err != nil {
		return domain.Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func mapPaymentWriteError(op string, err error) error {
	switch {
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	case isUniqueViolation(err) && constraintName(err) == "payments_provider_order_key":
		return domain.ErrRemoteOrderTaken
	case isUniqueViolation(err):
		return domain.ErrPaymentExists
	case isForeignKeyViolation(err):
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
