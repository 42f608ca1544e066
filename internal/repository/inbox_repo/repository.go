package inbox_repo

import (
	"context"
	"errors"

	"storefront/internal/domain"
)

type InboxRepository interface {
	// CreateMessageTx returns ErrMessageAlreadyProcessed when the event id was
	// recorded before.
	CreateMessageTx(ctx context.Context, q domain.Querier, msg *domain.InboxMessage) error
	UpdateStatusTx(ctx context.Context, q domain.Querier, id string, status domain.InboxMessageStatus) error
}

var ErrMessageAlreadyProcessed = errors.New("inbox message already processed")
