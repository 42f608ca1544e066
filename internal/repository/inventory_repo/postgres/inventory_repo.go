package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repository/inventory_repo"
)

type pgInventoryRepository struct {
	logger *zap.Logger
}

func NewInventoryRepository(l *zap.Logger) inventory_repo.InventoryRepository {
	return &pgInventoryRepository{logger: l}
}

func (r *pgInventoryRepository) GetVariantTx(ctx context.Context, q domain.Querier, variantID string) (*domain.Variant, error) {
	return r.get(ctx, q, `SELECT id, product_id, product_name, price, stock, attributes FROM product_variants WHERE id = $1`, variantID)
}

func (r *pgInventoryRepository) GetVariantForUpdateTx(ctx context.Context, q domain.Querier, variantID string) (*domain.Variant, error) {
	return r.get(ctx, q, `SELECT id, product_id, product_name, price, stock, attributes FROM product_variants WHERE id = $1 FOR UPDATE`, variantID)
}

func (r *pgInventoryRepository) get(ctx context.Context, q domain.Querier, query, variantID string) (*domain.Variant, error) {
	v := &domain.Variant{}
	err := q.QueryRowContext(ctx, query, variantID).Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Price, &v.Stock, pq.Array(&v.Attributes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get variant %s: %w", variantID, err)
	}
	return v, nil
}

func (r *pgInventoryRepository) ReserveStockTx(ctx context.Context, q domain.Querier, variantID string, quantity int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE product_variants SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, variantID, quantity)
	if err != nil {
		return fmt.Errorf("failed to reserve stock for %s: %w", variantID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reserve result: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: variant %s", domain.ErrInsufficientStock, variantID)
	}
	r.logger.Debug("Stock reserved", zap.String("variant_id", variantID), zap.Int("quantity", quantity))
	return nil
}

func (r *pgInventoryRepository) ReleaseStockTx(ctx context.Context, q domain.Querier, variantID string, quantity int) error {
	res, err := q.ExecContext(ctx, `UPDATE product_variants SET stock = stock + $2 WHERE id = $1`, variantID, quantity)
	if err != nil {
		return fmt.Errorf("failed to release stock for %s: %w", variantID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.logger.Warn("Released stock for unknown variant", zap.String("variant_id", variantID))
	}
	return nil
}
