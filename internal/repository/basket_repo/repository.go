package basket_repo

import (
	"context"

	"storefront/internal/domain"
)

type BasketRepository interface {
	CreateTx(ctx context.Context, q domain.Querier, basket *domain.Basket) error
	GetByOwnerKeyTx(ctx context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error)
	GetByOwnerKeyForUpdateTx(ctx context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error)
	// SetItemTx stores the absolute quantity of a variant in the basket.
	SetItemTx(ctx context.Context, q domain.Querier, basketID string, item domain.BasketItem) error
	RemoveItemTx(ctx context.Context, q domain.Querier, basketID, variantID string) error
	UpdatePaymentTx(ctx context.Context, q domain.Querier, basket *domain.Basket) error
	DeleteTx(ctx context.Context, q domain.Querier, basketID string) error
}
