package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository/inbox_repo"
)

type InboxRepository struct{}

func NewInboxRepository() *InboxRepository {
	return &InboxRepository{}
}

func (r *InboxRepository) CreateMessageTx(ctx context.Context, q domain.Querier, msg *domain.InboxMessage) error {
	query := `
		INSERT INTO webhook_inbox (id, transaction_id, event_type, payload, status, received_at, processed_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`
	var insertedID string
	err := q.QueryRowContext(ctx, query,
		msg.ID,
		msg.TransactionID,
		msg.EventType,
		msg.Payload,
		msg.Status,
		msg.ReceivedAt,
		msg.ProcessedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inbox_repo.ErrMessageAlreadyProcessed
		}
		return fmt.Errorf("failed to insert inbox message: %w", err)
	}
	return nil
}

func (r *InboxRepository) UpdateStatusTx(ctx context.Context, q domain.Querier, id string, status domain.InboxMessageStatus) error {
	query := `UPDATE webhook_inbox SET status = $1, processed_at = $2 WHERE id = $3`
	res, err := q.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update inbox message status %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for inbox message update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("inbox message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
