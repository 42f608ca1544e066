package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/outbox"
	"storefront/internal/repository/inventory_repo"
	"storefront/internal/repository/order_repo"
	"storefront/internal/repository/outbox_repo"
)

// StateMachine applies one status transition inside a caller-owned
// transaction. The caller must hold the order row lock.
type StateMachine struct {
	orderRepo     order_repo.OrderRepository
	inventoryRepo inventory_repo.InventoryRepository
	outboxRepo    outbox_repo.OutboxRepository
	topic         string
	logger        *zap.Logger
	now           func() time.Time
}

func NewStateMachine(
	orderRepo order_repo.OrderRepository,
	inventoryRepo inventory_repo.InventoryRepository,
	outboxRepo outbox_repo.OutboxRepository,
	topic string,
	logger *zap.Logger,
) *StateMachine {
	return &StateMachine{
		orderRepo:     orderRepo,
		inventoryRepo: inventoryRepo,
		outboxRepo:    outboxRepo,
		topic:         topic,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTx moves order to status to, releases reserved stock on cancellation,
// persists the order and appends a history row. It returns the previous
// status.
func (m *StateMachine) ApplyTx(ctx context.Context, q domain.Querier, order *domain.Order, to domain.OrderStatus, actor domain.Actor, notes, trackingNumber string) (domain.OrderStatus, error) {
	now := m.now()
	from, err := order.ApplyTransition(to, trackingNumber, now)
	if err != nil {
		return from, err
	}

	if to == domain.OrderStatusCancelled {
		for _, item := range order.Items {
			if err := m.inventoryRepo.ReleaseStockTx(ctx, q, item.VariantID, item.Quantity); err != nil {
				return from, err
			}
		}
	}

	if err := m.orderRepo.UpdateTx(ctx, q, order); err != nil {
		return from, err
	}
	entry := &domain.StatusHistoryEntry{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		FromStatus:     from,
		ToStatus:       to,
		ChangedAt:      now,
		Notes:          notes,
		TrackingNumber: order.TrackingNumber,
		UpdatedBy:      actor.UserID,
	}
	if err := m.orderRepo.AddHistoryTx(ctx, q, entry); err != nil {
		return from, err
	}
	// The notification is best effort: a lost event never undoes a transition.
	_ = m.NotifyOrderStatusChangedTx(ctx, q, order.ID, from, to, actor.UserID)
	return from, nil
}

// NotifyOrderStatusChangedTx queues the change for the outbox processor under
// a savepoint, so a failed insert leaves the caller's transaction usable.
func (m *StateMachine) NotifyOrderStatusChangedTx(ctx context.Context, q domain.Querier, orderID string, from, to domain.OrderStatus, changedBy string) error {
	now := m.now()
	msg, err := outbox.NewMessage(outbox.AggregateOrder, orderID, domain.EventOrderStatusChanged, m.topic,
		domain.OrderStatusChangedEvent{
			OrderID:    orderID,
			FromStatus: string(from),
			ToStatus:   string(to),
			ChangedBy:  changedBy,
			Timestamp:  now,
		}, now)
	if err != nil {
		return err
	}
	if err := m.outboxRepo.CreateMessageSavepointTx(ctx, q, msg); err != nil {
		m.logger.Error("Failed to queue status change notification", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	return nil
}
