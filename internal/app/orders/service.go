package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/outbox"
	"storefront/internal/repository/basket_repo"
	"storefront/internal/repository/inventory_repo"
	"storefront/internal/repository/order_repo"
	"storefront/internal/repository/outbox_repo"
)

const maxBulkOrders = 100

type OrderService interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string, actor domain.Actor) (*OrderResponse, error)
	GetHistory(ctx context.Context, orderID string, actor domain.Actor) ([]HistoryEntryResponse, error)
	ListUserOrders(ctx context.Context, userID string) ([]*OrderResponse, error)
	Transition(ctx context.Context, req *TransitionRequest) (*OrderResponse, error)
	BulkTransition(ctx context.Context, req *BulkTransitionRequest) ([]BulkTransitionResult, error)
	CancelOrder(ctx context.Context, orderID string, actor domain.Actor) (*OrderResponse, error)
}

type Config struct {
	Currency         string
	Shipping         domain.ShippingPolicy
	OrderEventsTopic string
}

type orderService struct {
	tx            domain.TxManager
	orderRepo     order_repo.OrderRepository
	basketRepo    basket_repo.BasketRepository
	inventoryRepo inventory_repo.InventoryRepository
	outboxRepo    outbox_repo.OutboxRepository
	machine       *StateMachine
	cfg           Config
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewOrderService(
	tx domain.TxManager,
	orderRepo order_repo.OrderRepository,
	basketRepo basket_repo.BasketRepository,
	inventoryRepo inventory_repo.InventoryRepository,
	outboxRepo outbox_repo.OutboxRepository,
	machine *StateMachine,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		tx:            tx,
		orderRepo:     orderRepo,
		basketRepo:    basketRepo,
		inventoryRepo: inventoryRepo,
		outboxRepo:    outboxRepo,
		machine:       machine,
		cfg:           cfg,
		metrics:       m,
		logger:        logger,
	}
}

// CreateOrder converts the owner's basket into a pending order. Every line is
// re-checked against locked variant rows, so two checkouts racing for the
// last unit cannot both succeed.
func (s *orderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.OwnerKey) == "" {
		return nil, fmt.Errorf("%w: user id and basket owner are required", domain.ErrInvalidInput)
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		if err := req.BillingAddress.Validate(); err != nil {
			return nil, err
		}
		billing = *req.BillingAddress
	}

	var result *CreateOrderResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		basket, err := s.basketRepo.GetByOwnerKeyForUpdateTx(ctx, q, req.OwnerKey)
		if err != nil {
			return err
		}
		if basket.IsEmpty() {
			return fmt.Errorf("basket %s is empty: %w", basket.ID, domain.ErrNotFound)
		}

		now := time.Now().UTC()
		order := &domain.Order{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			OrderDate:       now,
			Status:          domain.OrderStatusPending,
			PaymentStatus:   domain.OrderPaymentPending,
			Currency:        s.cfg.Currency,
			Notes:           strings.TrimSpace(req.Notes),
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  billing,
			UpdatedAt:       now,
		}

		// Lock variants in a stable order so concurrent checkouts of
		// overlapping baskets cannot deadlock.
		lines := slices.Clone(basket.Items)
		slices.SortFunc(lines, func(a, b domain.BasketItem) int { return strings.Compare(a.VariantID, b.VariantID) })
		for _, line := range lines {
			if line.Quantity <= 0 {
				return fmt.Errorf("%w: quantity for variant %s must be positive", domain.ErrInvalidInput, line.VariantID)
			}
			variant, err := s.inventoryRepo.GetVariantForUpdateTx(ctx, q, line.VariantID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: variant %s is no longer available", domain.ErrInsufficientStock, line.VariantID)
			}
			if err != nil {
				return err
			}
			if line.Quantity > variant.Stock {
				return fmt.Errorf("%w: variant %s has %d in stock, requested %d",
					domain.ErrInsufficientStock, variant.ID, variant.Stock, line.Quantity)
			}
			item := domain.OrderItem{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				ProductID:   variant.ProductID,
				VariantID:   variant.ID,
				ProductName: variant.ProductName,
				UnitPrice:   variant.Price,
				Quantity:    line.Quantity,
				Attributes:  slices.Clone(variant.Attributes),
			}
			order.Items = append(order.Items, item)
			order.Subtotal += item.LineTotal()
		}
		order.ShippingCost = s.cfg.Shipping.Cost(order.Subtotal)

		if err := s.orderRepo.CreateTx(ctx, q, order); err != nil {
			return err
		}
		if err := s.orderRepo.AddHistoryTx(ctx, q, &domain.StatusHistoryEntry{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ToStatus:  domain.OrderStatusPending,
			ChangedAt: now,
			Notes:     "order placed",
			UpdatedBy: req.UserID,
		}); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := s.inventoryRepo.ReserveStockTx(ctx, q, item.VariantID, item.Quantity); err != nil {
				return err
			}
		}
		if err := s.basketRepo.DeleteTx(ctx, q, basket.ID); err != nil {
			return err
		}

		msg, err := outbox.NewMessage(outbox.AggregateOrder, order.ID, domain.EventOrderCreated, s.cfg.OrderEventsTopic,
			domain.OrderCreatedEvent{
				OrderID:   order.ID,
				UserID:    order.UserID,
				Total:     order.Total(),
				Currency:  order.Currency,
				Timestamp: now,
			}, now)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.CreateMessageTx(ctx, q, msg); err != nil {
			return err
		}

		result = &CreateOrderResult{Order: mapOrderToResponse(order)}
		if basket.PaymentTransactionID != "" {
			result.Provisional = &domain.PaymentHandle{
				TransactionID: basket.PaymentTransactionID,
				ClientSecret:  basket.ClientSecret,
				Amount:        basket.PaymentAmount,
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to create order from basket",
			zap.String("owner_key", req.OwnerKey),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Order created from basket",
		zap.String("order_id", result.Order.ID),
		zap.String("user_id", req.UserID),
		zap.Int64("total", result.Order.Total))
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor domain.Actor) (*OrderResponse, error) {
	order, err := s.viewable(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	return mapOrderToResponse(order), nil
}

func (s *orderService) GetHistory(ctx context.Context, orderID string, actor domain.Actor) ([]HistoryEntryResponse, error) {
	if _, err := s.viewable(ctx, orderID, actor); err != nil {
		return nil, err
	}
	history, err := s.orderRepo.ListHistoryTx(ctx, s.tx.DB(), orderID)
	if err != nil {
		s.logger.Error("Failed to get status history", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}
	return mapHistoryToResponse(history), nil
}

func (s *orderService) viewable(ctx context.Context, orderID string, actor domain.Actor) (*domain.Order, error) {
	order, err := s.orderRepo.GetByIDTx(ctx, s.tx.DB(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("Order not found", zap.String("order_id", orderID))
		}
		return nil, err
	}
	if !actor.CanView(order) {
		return nil, fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string) ([]*OrderResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	orders, err := s.orderRepo.ListByUserIDTx(ctx, s.tx.DB(), userID)
	if err != nil {
		s.logger.Error("Failed to get orders for user", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return mapOrdersToResponse(orders), nil
}

func (s *orderService) Transition(ctx context.Context, req *TransitionRequest) (*OrderResponse, error) {
	to, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, err
	}
	order, err := s.transition(ctx, req.OrderID, to, req.Actor, req.Notes, req.TrackingNumber, nil)
	if err != nil {
		return nil, err
	}
	return mapOrderToResponse(order), nil
}

// BulkTransition applies the same target status to each order in its own
// transaction. One failure does not stop the rest.
func (s *orderService) BulkTransition(ctx context.Context, req *BulkTransitionRequest) ([]BulkTransitionResult, error) {
	if len(req.OrderIDs) == 0 {
		return nil, fmt.Errorf("%w: order_ids is required", domain.ErrInvalidInput)
	}
	if len(req.OrderIDs) > maxBulkOrders {
		return nil, fmt.Errorf("%w: at most %d orders per request", domain.ErrInvalidInput, maxBulkOrders)
	}
	to, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(req.OrderIDs))
	results := make([]BulkTransitionResult, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		res := BulkTransitionResult{OrderID: id}
		order, err := s.transition(ctx, id, to, req.Actor, req.Notes, req.TrackingNumber, nil)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Status = string(order.Status)
		}
		results = append(results, res)
	}
	return results, nil
}

// CancelOrder lets the owner cancel their own order. Admins may cancel any.
func (s *orderService) CancelOrder(ctx context.Context, orderID string, actor domain.Actor) (*OrderResponse, error) {
	owner := func(o *domain.Order) error {
		if actor.IsAdmin() || (actor.UserID != "" && o.UserID == actor.UserID) {
			return nil
		}
		return fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	order, err := s.transition(ctx, orderID, domain.OrderStatusCancelled, actor, "cancelled by "+string(actor.Role), "", owner)
	if err != nil {
		return nil, err
	}
	return mapOrderToResponse(order), nil
}

func (s *orderService) transition(ctx context.Context, orderID string, to domain.OrderStatus, actor domain.Actor, notes, trackingNumber string, authorize func(*domain.Order) error) (*domain.Order, error) {
	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		order, err := s.orderRepo.GetForUpdateTx(ctx, q, orderID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(order); err != nil {
				return err
			}
		}
		from, err = s.machine.ApplyTx(ctx, q, order, to, actor, strings.TrimSpace(notes), trackingNumber)
		if err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		s.logger.Warn("Order status transition rejected",
			zap.String("order_id", orderID),
			zap.String("to_status", string(to)),
			zap.String("actor", actor.UserID),
			zap.Error(err))
		return nil, err
	}

	s.metrics.ObserveTransition(from, to)
	s.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("old_status", string(from)),
		zap.String("new_status", string(to)),
		zap.String("actor", actor.UserID))
	return updated, nil
}
