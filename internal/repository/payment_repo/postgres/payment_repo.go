package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repository/payment_repo"
)

const paymentColumns = `id, order_id, payment_transaction_id, amount, currency, status, failure_reason,
	refunded_amount, processed_at, superseded_at, created_at, updated_at`

type pgPaymentRepository struct {
	logger *zap.Logger
}

func NewPaymentRepository(l *zap.Logger) payment_repo.PaymentRepository {
	return &pgPaymentRepository{logger: l}
}

func (r *pgPaymentRepository) CreateTx(ctx context.Context, q domain.Querier, payment *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.TransactionID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		nullString(payment.FailureReason),
		payment.RefundedAmount,
		nullTime(payment.ProcessedAt),
		nullTime(payment.SupersededAt),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	r.logger.Debug("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("transaction_id", payment.TransactionID))
	return nil
}

func (r *pgPaymentRepository) GetByIDTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	return r.getOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *pgPaymentRepository) GetByIDForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	return r.getOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgPaymentRepository) GetByTransactionIDTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error) {
	return r.getOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE payment_transaction_id = $1`, transactionID)
}

func (r *pgPaymentRepository) GetByTransactionIDForUpdateTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error) {
	return r.getOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE payment_transaction_id = $1 FOR UPDATE`, transactionID)
}

func (r *pgPaymentRepository) getOne(ctx context.Context, q domain.Querier, query, key string) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var (
		failureReason           sql.NullString
		processedAt, superseded sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, key).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.TransactionID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&failureReason,
		&payment.RefundedAmount,
		&processedAt,
		&superseded,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment %s: %w", key, err)
	}
	payment.FailureReason = failureReason.String
	if processedAt.Valid {
		payment.ProcessedAt = &processedAt.Time
	}
	if superseded.Valid {
		payment.SupersededAt = &superseded.Time
	}
	return payment, nil
}

func (r *pgPaymentRepository) CountByOrderIDTx(ctx context.Context, q domain.Querier, orderID string) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE order_id = $1`, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count payments for order %s: %w", orderID, err)
	}
	return count, nil
}

func (r *pgPaymentRepository) UpdateTx(ctx context.Context, q domain.Querier, payment *domain.Payment) error {
	query := `UPDATE payments
		SET status = $2, failure_reason = $3, refunded_amount = $4, processed_at = $5, superseded_at = $6, updated_at = $7
		WHERE id = $1`
	res, err := q.ExecContext(ctx, query,
		payment.ID,
		payment.Status,
		nullString(payment.FailureReason),
		payment.RefundedAmount,
		nullTime(payment.ProcessedAt),
		nullTime(payment.SupersededAt),
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", payment.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *pgPaymentRepository) LockTransactionTx(ctx context.Context, q domain.Querier, transactionID string) error {
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, transactionID); err != nil {
		return fmt.Errorf("failed to lock transaction %s: %w", transactionID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
