package order_repo

import (
	"context"

	"storefront/internal/domain"
)

type OrderRepository interface {
	// CreateTx inserts the order together with its item snapshots and addresses.
	CreateTx(ctx context.Context, q domain.Querier, order *domain.Order) error
	GetByIDTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error)
	// GetForUpdateTx locks the order row until the surrounding transaction ends.
	GetForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error)
	ListByUserIDTx(ctx context.Context, q domain.Querier, userID string) ([]*domain.Order, error)
	UpdateTx(ctx context.Context, q domain.Querier, order *domain.Order) error

	AddHistoryTx(ctx context.Context, q domain.Querier, entry *domain.StatusHistoryEntry) error
	ListHistoryTx(ctx context.Context, q domain.Querier, orderID string) ([]domain.StatusHistoryEntry, error)
}
