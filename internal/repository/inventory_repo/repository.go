package inventory_repo

import (
	"context"

	"storefront/internal/domain"
)

type InventoryRepository interface {
	GetVariantTx(ctx context.Context, q domain.Querier, variantID string) (*domain.Variant, error)
	GetVariantForUpdateTx(ctx context.Context, q domain.Querier, variantID string) (*domain.Variant, error)
	// ReserveStockTx fails with domain.ErrInsufficientStock instead of going negative.
	ReserveStockTx(ctx context.Context, q domain.Querier, variantID string, quantity int) error
	ReleaseStockTx(ctx context.Context, q domain.Querier, variantID string, quantity int) error
}
