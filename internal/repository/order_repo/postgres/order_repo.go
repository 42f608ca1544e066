package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repository/order_repo"
)

const (
	addressShipping = "SHIPPING"
	addressBilling  = "BILLING"
)

const orderColumns = `id, user_id, order_date, status, payment_status, currency, subtotal, shipping_cost,
	tracking_number, notes, payment_transaction_id, updated_at`

type pgOrderRepository struct {
	logger *zap.Logger
}

func NewOrderRepository(l *zap.Logger) order_repo.OrderRepository {
	return &pgOrderRepository{logger: l}
}

func (r *pgOrderRepository) CreateTx(ctx context.Context, q domain.Querier, order *domain.Order) error {
	orderQuery := `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.ExecContext(ctx, orderQuery,
		order.ID,
		order.UserID,
		order.OrderDate,
		order.Status,
		order.PaymentStatus,
		order.Currency,
		order.Subtotal,
		order.ShippingCost,
		nullString(order.TrackingNumber),
		nullString(order.Notes),
		nullString(order.PaymentTransactionID),
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tx failed to create order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, unit_price, quantity, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, item := range order.Items {
		_, err := q.ExecContext(ctx, itemQuery,
			item.ID,
			order.ID,
			item.ProductID,
			item.VariantID,
			item.ProductName,
			item.UnitPrice,
			item.Quantity,
			pq.Array(item.Attributes),
		)
		if err != nil {
			return fmt.Errorf("tx failed to create order item %s: %w", item.VariantID, err)
		}
	}

	if err := r.insertAddress(ctx, q, order.ID, addressShipping, order.ShippingAddress); err != nil {
		return err
	}
	if err := r.insertAddress(ctx, q, order.ID, addressBilling, order.BillingAddress); err != nil {
		return err
	}

	r.logger.Debug("Order inserted in transaction", zap.String("order_id", order.ID), zap.Int("items", len(order.Items)))
	return nil
}

func (r *pgOrderRepository) insertAddress(ctx context.Context, q domain.Querier, orderID, kind string, a domain.Address) error {
	query := `INSERT INTO order_addresses (order_id, kind, full_name, line1, line2, city, region, postal_code, country, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.ExecContext(ctx, query,
		orderID,
		kind,
		a.FullName,
		a.Line1,
		nullString(a.Line2),
		a.City,
		nullString(a.Region),
		a.PostalCode,
		a.Country,
		nullString(a.Phone),
	)
	if err != nil {
		return fmt.Errorf("tx failed to create %s address: %w", kind, err)
	}
	return nil
}

func (r *pgOrderRepository) GetByIDTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	return r.getOrder(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *pgOrderRepository) GetForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	return r.getOrder(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgOrderRepository) getOrder(ctx context.Context, q domain.Querier, query, id string) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		r.logger.Error("Failed to get order by ID", zap.String("order_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	if err := r.loadDetails(ctx, q, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *pgOrderRepository) ListByUserIDTx(ctx context.Context, q domain.Querier, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY order_date DESC`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to query orders for user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get orders by user ID %s: %w", userID, err)
	}

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	for _, order := range orders {
		if err := r.loadDetails(ctx, q, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *pgOrderRepository) UpdateTx(ctx context.Context, q domain.Querier, order *domain.Order) error {
	query := `UPDATE orders
		SET status = $2, payment_status = $3, tracking_number = $4, notes = $5, payment_transaction_id = $6, updated_at = $7
		WHERE id = $1`
	res, err := q.ExecContext(ctx, query,
		order.ID,
		order.Status,
		order.PaymentStatus,
		nullString(order.TrackingNumber),
		nullString(order.Notes),
		nullString(order.PaymentTransactionID),
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update order", zap.String("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	r.logger.Debug("Order updated", zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	return nil
}

func (r *pgOrderRepository) AddHistoryTx(ctx context.Context, q domain.Querier, entry *domain.StatusHistoryEntry) error {
	query := `INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_at, notes, tracking_number, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.OrderID,
		nullString(string(entry.FromStatus)),
		entry.ToStatus,
		entry.ChangedAt,
		nullString(entry.Notes),
		nullString(entry.TrackingNumber),
		entry.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status history for order %s: %w", entry.OrderID, err)
	}
	return nil
}

func (r *pgOrderRepository) ListHistoryTx(ctx context.Context, q domain.Querier, orderID string) ([]domain.StatusHistoryEntry, error) {
	query := `SELECT id, order_id, from_status, to_status, changed_at, notes, tracking_number, updated_by
		FROM order_status_history WHERE order_id = $1 ORDER BY changed_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var history []domain.StatusHistoryEntry
	for rows.Next() {
		var (
			e                     domain.StatusHistoryEntry
			from, notes, tracking sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &e.ToStatus, &e.ChangedAt, &notes, &tracking, &e.UpdatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan status history row: %w", err)
		}
		e.FromStatus = domain.OrderStatus(from.String)
		e.Notes = notes.String
		e.TrackingNumber = tracking.String
		history = append(history, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return history, nil
}

func (r *pgOrderRepository) loadDetails(ctx context.Context, q domain.Querier, order *domain.Order) error {
	itemQuery := `SELECT id, product_id, variant_id, product_name, unit_price, quantity, attributes
		FROM order_items WHERE order_id = $1 ORDER BY product_name, variant_id`
	rows, err := q.QueryContext(ctx, itemQuery, order.ID)
	if err != nil {
		return fmt.Errorf("failed to get items for order %s: %w", order.ID, err)
	}
	order.Items = nil
	for rows.Next() {
		item := domain.OrderItem{OrderID: order.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.ProductName, &item.UnitPrice, &item.Quantity, pq.Array(&item.Attributes)); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order item row: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	addrQuery := `SELECT kind, full_name, line1, line2, city, region, postal_code, country, phone
		FROM order_addresses WHERE order_id = $1`
	rows, err = q.QueryContext(ctx, addrQuery, order.ID)
	if err != nil {
		return fmt.Errorf("failed to get addresses for order %s: %w", order.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind                 string
			a                    domain.Address
			line2, region, phone sql.NullString
		)
		if err := rows.Scan(&kind, &a.FullName, &a.Line1, &line2, &a.City, &region, &a.PostalCode, &a.Country, &phone); err != nil {
			return fmt.Errorf("failed to scan order address row: %w", err)
		}
		a.Line2, a.Region, a.Phone = line2.String, region.String, phone.String
		switch kind {
		case addressShipping:
			order.ShippingAddress = a
		case addressBilling:
			order.BillingAddress = a
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var tracking, notes, txID sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderDate,
		&order.Status,
		&order.PaymentStatus,
		&order.Currency,
		&order.Subtotal,
		&order.ShippingCost,
		&tracking,
		&notes,
		&txID,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.TrackingNumber = tracking.String
	order.Notes = notes.String
	order.PaymentTransactionID = txID.String
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
