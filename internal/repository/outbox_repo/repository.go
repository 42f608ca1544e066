package outbox_repo

import (
	"context"

	"storefront/internal/domain"
)

type OutboxRepository interface {
	CreateMessageTx(ctx context.Context, q domain.Querier, msg *domain.OutboxMessage) error
	// CreateMessageSavepointTx inserts msg under a savepoint. On failure only
	// the savepoint is rolled back and the surrounding transaction stays usable.
	CreateMessageSavepointTx(ctx context.Context, q domain.Querier, msg *domain.OutboxMessage) error
	GetPendingMessagesTx(ctx context.Context, q domain.Querier, limit int) ([]domain.OutboxMessage, error)
	MarkSentTx(ctx context.Context, q domain.Querier, id string) error
	// MarkAttemptFailedTx bumps the attempt counter and parks the message as
	// FAILED once maxAttempts is reached.
	MarkAttemptFailedTx(ctx context.Context, q domain.Querier, id string, maxAttempts int) error
}
