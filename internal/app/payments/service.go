package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
	"storefront/internal/repository/basket_repo"
	"storefront/internal/repository/inbox_repo"
	"storefront/internal/repository/inventory_repo"
	"storefront/internal/repository/order_repo"
	"storefront/internal/repository/outbox_repo"
	"storefront/internal/repository/payment_repo"
)

type PaymentService interface {
	// EnsureOrderTransaction returns the single active gateway transaction
	// for an unpaid order, creating or refreshing it as needed. provisional
	// is the basket's pre-checkout transaction, adopted when its amount
	// matches the order total.
	EnsureOrderTransaction(ctx context.Context, orderID string, actor domain.Actor, provisional *domain.PaymentHandle) (*domain.PaymentHandle, error)
	EnsureBasketTransaction(ctx context.Context, ownerKey string) (*domain.PaymentHandle, error)
	HandleNotification(ctx context.Context, payload []byte, signatureHeader string) error
	Refund(ctx context.Context, req *RefundRequest) (*PaymentResponse, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error)
}

type Config struct {
	Currency           string
	Shipping           domain.ShippingPolicy
	PaymentEventsTopic string
	GatewayTimeout     time.Duration
}

type Repositories struct {
	Orders    order_repo.OrderRepository
	Payments  payment_repo.PaymentRepository
	Baskets   basket_repo.BasketRepository
	Inventory inventory_repo.InventoryRepository
	Inbox     inbox_repo.InboxRepository
	Outbox    outbox_repo.OutboxRepository
}

// StatusMachine confirms orders when a payment settles. It is implemented by
// orders.StateMachine.
type StatusMachine interface {
	ApplyTx(ctx context.Context, q domain.Querier, order *domain.Order, to domain.OrderStatus, actor domain.Actor, notes, trackingNumber string) (domain.OrderStatus, error)
}

type paymentService struct {
	tx       domain.TxManager
	repos    Repositories
	gateway  gateway.Gateway
	verifier *gateway.Verifier
	machine  StatusMachine
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentService(
	tx domain.TxManager,
	repos Repositories,
	gw gateway.Gateway,
	verifier *gateway.Verifier,
	machine StatusMachine,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		tx:       tx,
		repos:    repos,
		gateway:  gw,
		verifier: verifier,
		machine:  machine,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// callGateway bounds a gateway call by the configured timeout. Any failure,
// including the deadline, is reported as domain.ErrPaymentGateway.
func callGateway[T any](ctx context.Context, s *paymentService, op string, call func(ctx context.Context) (T, error)) (T, error) {
	if s.cfg.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
	}
	res, err := call(ctx)
	s.metrics.ObserveGatewayCall(op, err)
	if err != nil {
		s.logger.Error("Payment gateway call failed", zap.String("operation", op), zap.Error(err))
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrPaymentGateway, op, err)
	}
	return res, nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	payment, err := s.repos.Payments.GetByIDTx(ctx, s.tx.DB(), paymentID)
	if err != nil {
		return nil, err
	}
	return mapPaymentToResponse(payment), nil
}
