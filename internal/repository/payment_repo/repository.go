package payment_repo

import (
	"context"

	"storefront/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, q domain.Querier, payment *domain.Payment) error
	GetByIDTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error)
	GetByIDForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error)
	GetByTransactionIDTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error)
	GetByTransactionIDForUpdateTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error)
	CountByOrderIDTx(ctx context.Context, q domain.Querier, orderID string) (int, error)
	UpdateTx(ctx context.Context, q domain.Querier, payment *domain.Payment) error
	// LockTransactionTx serializes work on one gateway transaction id for the
	// rest of the surrounding transaction, even before a payment row exists.
	LockTransactionTx(ctx context.Context, q domain.Querier, transactionID string) error
}
