package testutil

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository/basket_repo"
	"storefront/internal/repository/inbox_repo"
	"storefront/internal/repository/inventory_repo"
	"storefront/internal/repository/order_repo"
	"storefront/internal/repository/outbox_repo"
	"storefront/internal/repository/payment_repo"
)

type OrderRepo struct{ s *Store }
type PaymentRepo struct{ s *Store }
type BasketRepo struct{ s *Store }
type InventoryRepo struct{ s *Store }
type OutboxRepo struct{ s *Store }
type InboxRepo struct{ s *Store }

var (
	_ order_repo.OrderRepository         = OrderRepo{}
	_ payment_repo.PaymentRepository     = PaymentRepo{}
	_ basket_repo.BasketRepository       = BasketRepo{}
	_ inventory_repo.InventoryRepository = InventoryRepo{}
	_ outbox_repo.OutboxRepository       = OutboxRepo{}
	_ inbox_repo.InboxRepository         = InboxRepo{}
)

func (s *Store) Orders() OrderRepo { return OrderRepo{s} }
func (s *Store) Payments() PaymentRepo { return PaymentRepo{s} }
func (s *Store) Baskets() BasketRepo { return BasketRepo{s} }
func (s *Store) Inventory() InventoryRepo { return InventoryRepo{s} }
func (s *Store) Outbox() OutboxRepo { return OutboxRepo{s} }
func (s *Store) Inbox() InboxRepo { return InboxRepo{s} }

func (r OrderRepo) CreateTx(_ context.Context, q domain.Querier, order *domain.Order) error {
	defer r.s.guard(q)()
	if _, ok := r.s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r OrderRepo) GetByIDTx(_ context.Context, q domain.Querier, id string) (*domain.Order, error) {
	defer r.s.guard(q)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (r OrderRepo) GetForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	return r.GetByIDTx(ctx, q, id)
}

func (r OrderRepo) ListByUserIDTx(_ context.Context, q domain.Querier, userID string) ([]*domain.Order, error) {
	defer r.s.guard(q)()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return out, nil
}

func (r OrderRepo) UpdateTx(_ context.Context, q domain.Querier, order *domain.Order) error {
	defer r.s.guard(q)()
	if _, ok := r.s.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r OrderRepo) AddHistoryTx(_ context.Context, q domain.Querier, entry *domain.StatusHistoryEntry) error {
	defer r.s.guard(q)()
	r.s.history[entry.OrderID] = append(r.s.history[entry.OrderID], *entry)
	return nil
}

func (r OrderRepo) ListHistoryTx(_ context.Context, q domain.Querier, orderID string) ([]domain.StatusHistoryEntry, error) {
	defer r.s.guard(q)()
	return append([]domain.StatusHistoryEntry(nil), r.s.history[orderID]...), nil
}

func (r PaymentRepo) CreateTx(_ context.Context, q domain.Querier, p *domain.Payment) error {
	defer r.s.guard(q)()
	for _, existing := range r.s.payments {
		if existing.TransactionID == p.TransactionID {
			return fmt.Errorf("duplicate payment_transaction_id %s", p.TransactionID)
		}
	}
	r.s.payments[p.ID] = clonePayment(p)
	return nil
}

func (r PaymentRepo) GetByIDTx(_ context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	defer r.s.guard(q)()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return clonePayment(p), nil
}

func (r PaymentRepo) GetByIDForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	return r.GetByIDTx(ctx, q, id)
}

func (r PaymentRepo) GetByTransactionIDTx(_ context.Context, q domain.Querier, transactionID string) (*domain.Payment, error) {
	defer r.s.guard(q)()
	for _, p := range r.s.payments {
		if p.TransactionID == transactionID {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("payment %s: %w", transactionID, domain.ErrNotFound)
}

func (r PaymentRepo) GetByTransactionIDForUpdateTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error) {
	return r.GetByTransactionIDTx(ctx, q, transactionID)
}

func (r PaymentRepo) CountByOrderIDTx(_ context.Context, q domain.Querier, orderID string) (int, error) {
	defer r.s.guard(q)()
	n := 0
	for _, p := range r.s.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (r PaymentRepo) UpdateTx(_ context.Context, q domain.Querier, p *domain.Payment) error {
	defer r.s.guard(q)()
	if _, ok := r.s.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	r.s.payments[p.ID] = clonePayment(p)
	return nil
}

// LockTransactionTx is a no-op: WithinTx already serializes everything.
func (r PaymentRepo) LockTransactionTx(context.Context, domain.Querier, string) error {
	return nil
}

func (r BasketRepo) CreateTx(_ context.Context, q domain.Querier, b *domain.Basket) error {
	defer r.s.guard(q)()
	for _, existing := range r.s.baskets {
		if existing.OwnerKey == b.OwnerKey {
			return fmt.Errorf("basket for %s already exists", b.OwnerKey)
		}
	}
	r.s.baskets[b.ID] = cloneBasket(b)
	return nil
}

func (r BasketRepo) GetByOwnerKeyTx(_ context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error) {
	defer r.s.guard(q)()
	for _, b := range r.s.baskets {
		if b.OwnerKey == ownerKey {
			return cloneBasket(b), nil
		}
	}
	return nil, fmt.Errorf("basket for %s: %w", ownerKey, domain.ErrNotFound)
}

func (r BasketRepo) GetByOwnerKeyForUpdateTx(ctx context.Context, q domain.Querier, ownerKey string) (*domain.Basket, error) {
	return r.GetByOwnerKeyTx(ctx, q, ownerKey)
}

func (r BasketRepo) SetItemTx(_ context.Context, q domain.Querier, basketID string, item domain.BasketItem) error {
	defer r.s.guard(q)()
	b, ok := r.s.baskets[basketID]
	if !ok {
		return fmt.Errorf("basket %s: %w", basketID, domain.ErrNotFound)
	}
	for i := range b.Items {
		if b.Items[i].VariantID == item.VariantID {
			b.Items[i] = item
			b.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	b.Items = append(b.Items, item)
	sort.Slice(b.Items, func(i, j int) bool { return b.Items[i].VariantID < b.Items[j].VariantID })
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r BasketRepo) RemoveItemTx(_ context.Context, q domain.Querier, basketID, variantID string) error {
	defer r.s.guard(q)()
	b, ok := r.s.baskets[basketID]
	if !ok {
		return fmt.Errorf("basket %s: %w", basketID, domain.ErrNotFound)
	}
	for i := range b.Items {
		if b.Items[i].VariantID == variantID {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
			b.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("basket item %s: %w", variantID, domain.ErrNotFound)
}

func (r BasketRepo) UpdatePaymentTx(_ context.Context, q domain.Querier, basket *domain.Basket) error {
	defer r.s.guard(q)()
	b, ok := r.s.baskets[basket.ID]
	if !ok {
		return fmt.Errorf("basket %s: %w", basket.ID, domain.ErrNotFound)
	}
	b.PaymentTransactionID = basket.PaymentTransactionID
	b.ClientSecret = basket.ClientSecret
	b.PaymentAmount = basket.PaymentAmount
	b.UpdatedAt = basket.UpdatedAt
	return nil
}

func (r BasketRepo) DeleteTx(_ context.Context, q domain.Querier, basketID string) error {
	defer r.s.guard(q)()
	delete(r.s.baskets, basketID)
	return nil
}

func (r InventoryRepo) GetVariantTx(_ context.Context, q domain.Querier, variantID string) (*domain.Variant, error) {
	defer r.s.guard(q)()
	v, ok := r.s.variants[variantID]
	if !ok {
		return nil, fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}
	c := *v
	return &c, nil
}

func (r InventoryRepo) GetVariantForUpdateTx(ctx context.Context, q domain.Querier, variantID string) (*domain.Variant, error) {
	return r.GetVariantTx(ctx, q, variantID)
}

func (r InventoryRepo) ReserveStockTx(_ context.Context, q domain.Querier, variantID string, quantity int) error {
	defer r.s.guard(q)()
	v, ok := r.s.variants[variantID]
	if !ok {
		return fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}
	if v.Stock < quantity {
		return fmt.Errorf("%w: variant %s", domain.ErrInsufficientStock, variantID)
	}
	v.Stock -= quantity
	return nil
}

func (r InventoryRepo) ReleaseStockTx(_ context.Context, q domain.Querier, variantID string, quantity int) error {
	defer r.s.guard(q)()
	if v, ok := r.s.variants[variantID]; ok {
		v.Stock += quantity
	}
	return nil
}

func (r OutboxRepo) CreateMessageTx(_ context.Context, q domain.Querier, msg *domain.OutboxMessage) error {
	defer r.s.guard(q)()
	r.s.outbox = append(r.s.outbox, *msg)
	return nil
}

func (r OutboxRepo) CreateMessageSavepointTx(_ context.Context, q domain.Querier, msg *domain.OutboxMessage) error {
	defer r.s.guard(q)()
	if err := r.s.FailOutboxWrites; err != nil {
		return err
	}
	r.s.outbox = append(r.s.outbox, *msg)
	return nil
}

func (r OutboxRepo) GetPendingMessagesTx(_ context.Context, q domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	defer r.s.guard(q)()
	var out []domain.OutboxMessage
	for _, m := range r.s.outbox {
		if m.Status == domain.OutboxStatusPending {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r OutboxRepo) MarkSentTx(_ context.Context, q domain.Querier, id string) error {
	defer r.s.guard(q)()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id && r.s.outbox[i].Status == domain.OutboxStatusPending {
			now := time.Now().UTC()
			r.s.outbox[i].Status = domain.OutboxStatusSent
			r.s.outbox[i].SentAt = &now
			r.s.outbox[i].Attempts++
		}
	}
	return nil
}

func (r OutboxRepo) MarkAttemptFailedTx(_ context.Context, q domain.Querier, id string, maxAttempts int) error {
	defer r.s.guard(q)()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.s.outbox[i].Attempts++
			if r.s.outbox[i].Attempts >= maxAttempts {
				r.s.outbox[i].Status = domain.OutboxStatusFailed
			}
		}
	}
	return nil
}

func (r InboxRepo) CreateMessageTx(_ context.Context, q domain.Querier, msg *domain.InboxMessage) error {
	defer r.s.guard(q)()
	if _, ok := r.s.inbox[msg.ID]; ok {
		return inbox_repo.ErrMessageAlreadyProcessed
	}
	r.s.inbox[msg.ID] = *msg
	return nil
}

func (r InboxRepo) UpdateStatusTx(_ context.Context, q domain.Querier, id string, status domain.InboxMessageStatus) error {
	defer r.s.guard(q)()
	m, ok := r.s.inbox[id]
	if !ok {
		return fmt.Errorf("inbox message %s: %w", id, domain.ErrNotFound)
	}
	now := time.Now().UTC()
	m.Status = status
	m.ProcessedAt = &now
	r.s.inbox[id] = m
	return nil
}
