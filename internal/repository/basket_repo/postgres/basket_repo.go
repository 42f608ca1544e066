package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repository/basket_repo"
)

type pgBasketRepository struct {
	logger *zap.Logger
}

func NewBasketRepository(l *zap.Logger) basket_repo.BasketRepository {
	return &pgBasketRepository{logger: l}
}

func (r *pgBasketRepository) CreateTx(ctx context.Context, q domain.Querier, basket *domain.Basket) error {
	query := `INSERT INTO baskets (id, owner_key, payment_amount, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := q.ExecContext(ctx, query, basket.ID, basket.OwnerKey, basket.PaymentAmount, basket.CreatedAt, basket.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create basket: %w", err)
	}
	return nil
}

func (r *pgBasketRepository) GetByOwnerKeyTx(ctx context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error) {
	return r.get(ctx, q, false, ownerKey)
}

func (r *pgBasketRepository) GetByOwnerKeyForUpdateTx(ctx context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error) {
	return r.get(ctx, q, true, ownerKey)
}

func (r *pgBasketRepository) get(ctx context.Context, q domain.Querier, forUpdate bool, ownerKey string) (*domain.Basket, error) {
	query := `SELECT id, owner_key, payment_transaction_id, client_secret, payment_amount, created_at, updated_at
		FROM baskets WHERE owner_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	basket := &domain.Basket{}
	var txID, secret sql.NullString
	err := q.QueryRowContext(ctx, query, ownerKey).Scan(
		&basket.ID,
		&basket.OwnerKey,
		&txID,
		&secret,
		&basket.PaymentAmount,
		&basket.CreatedAt,
		&basket.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("basket for %s: %w", ownerKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get basket: %w", err)
	}
	basket.PaymentTransactionID = txID.String
	basket.ClientSecret = secret.String

	rows, err := q.QueryContext(ctx,
		`SELECT product_id, variant_id, quantity FROM basket_items WHERE basket_id = $1 ORDER BY variant_id`, basket.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get basket items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.BasketItem
		if err := rows.Scan(&item.ProductID, &item.VariantID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan basket item: %w", err)
		}
		basket.Items = append(basket.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return basket, nil
}

func (r *pgBasketRepository) SetItemTx(ctx context.Context, q domain.Querier, basketID string, item domain.BasketItem) error {
	query := `INSERT INTO basket_items (basket_id, variant_id, product_id, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (basket_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity`
	if _, err := q.ExecContext(ctx, query, basketID, item.VariantID, item.ProductID, item.Quantity); err != nil {
		return fmt.Errorf("failed to set basket item %s: %w", item.VariantID, err)
	}
	return r.touch(ctx, q, basketID)
}

func (r *pgBasketRepository) RemoveItemTx(ctx context.Context, q domain.Querier, basketID, variantID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM basket_items WHERE basket_id = $1 AND variant_id = $2`, basketID, variantID)
	if err != nil {
		return fmt.Errorf("failed to remove basket item %s: %w", variantID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("basket item %s: %w", variantID, domain.ErrNotFound)
	}
	return r.touch(ctx, q, basketID)
}

func (r *pgBasketRepository) UpdatePaymentTx(ctx context.Context, q domain.Querier, basket *domain.Basket) error {
	query := `UPDATE baskets SET payment_transaction_id = $2, client_secret = $3, payment_amount = $4, updated_at = $5 WHERE id = $1`
	res, err := q.ExecContext(ctx, query,
		basket.ID,
		nullString(basket.PaymentTransactionID),
		nullString(basket.ClientSecret),
		basket.PaymentAmount,
		basket.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update basket payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("basket %s: %w", basket.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *pgBasketRepository) DeleteTx(ctx context.Context, q domain.Querier, basketID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM baskets WHERE id = $1`, basketID); err != nil {
		return fmt.Errorf("failed to delete basket %s: %w", basketID, err)
	}
	r.logger.Debug("Basket deleted", zap.String("basket_id", basketID))
	return nil
}

func (r *pgBasketRepository) touch(ctx context.Context, q domain.Querier, basketID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE baskets SET updated_at = NOW() WHERE id = $1`, basketID); err != nil {
		return fmt.Errorf("failed to touch basket %s: %w", basketID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
