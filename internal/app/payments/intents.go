package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/app/baskets"
	"storefront/internal/domain"
	"storefront/internal/gateway"
)

func checkPayable(order *domain.Order) error {
	if order.PaymentStatus == domain.OrderPaymentSucceeded || order.PaymentStatus == domain.OrderPaymentRefunded {
		return fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s and cannot take payment", domain.ErrInvalidTransition, order.ID, order.Status)
	}
	return nil
}

func (s *paymentService) EnsureOrderTransaction(ctx context.Context, orderID string, actor domain.Actor, provisional *domain.PaymentHandle) (*domain.PaymentHandle, error) {
	db := s.tx.DB()
	order, err := s.repos.Orders.GetByIDTx(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(order) {
		return nil, fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	if err := checkPayable(order); err != nil {
		return nil, err
	}
	amount := order.Total()
	metadata := map[string]string{gateway.MetadataOrderID: order.ID}

	var active *domain.Payment
	if order.PaymentTransactionID != "" {
		active, err = s.repos.Payments.GetByTransactionIDTx(ctx, db, order.PaymentTransactionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if active != nil && active.Settled() {
			return nil, fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, order.ID)
		}
	}

	// Same amount on an open attempt: refresh it and keep the id.
	if active != nil && active.Active() && active.Amount == amount {
		intent, err := callGateway(ctx, s, "update_intent", func(ctx context.Context) (gateway.Intent, error) {
			return s.gateway.UpdateIntent(ctx, gateway.UpdateIntentRequest{
				TransactionID: active.TransactionID,
				Amount:        amount,
				Metadata:      metadata,
			})
		})
		if err != nil {
			return nil, err
		}
		return &domain.PaymentHandle{TransactionID: intent.TransactionID, ClientSecret: intent.ClientSecret, Amount: amount}, nil
	}

	var intent gateway.Intent
	if active == nil && provisional != nil && provisional.TransactionID != "" && provisional.Amount == amount {
		intent, err = callGateway(ctx, s, "update_intent", func(ctx context.Context) (gateway.Intent, error) {
			return s.gateway.UpdateIntent(ctx, gateway.UpdateIntentRequest{
				TransactionID: provisional.TransactionID,
				Amount:        amount,
				Metadata:      metadata,
			})
		})
		if err != nil {
			s.logger.Warn("Could not adopt provisional basket transaction, creating a new one",
				zap.String("order_id", order.ID),
				zap.String("transaction_id", provisional.TransactionID),
				zap.Error(err))
			intent = gateway.Intent{}
		} else if intent.ClientSecret == "" {
			intent.ClientSecret = provisional.ClientSecret
		}
	}

	if intent.TransactionID == "" {
		attempts, err := s.repos.Payments.CountByOrderIDTx(ctx, db, order.ID)
		if err != nil {
			return nil, err
		}
		// A retry after a timeout reuses the key and gets the same
		// transaction back. A new attempt after a failure gets a new key.
		key := fmt.Sprintf("%s:%d:%d", order.ID, amount, attempts)
		intent, err = callGateway(ctx, s, "create_intent", func(ctx context.Context) (gateway.Intent, error) {
			return s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
				Amount:         amount,
				Currency:       order.Currency,
				Metadata:       metadata,
				IdempotencyKey: key,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.attachTransaction(ctx, order.ID, amount, intent); err != nil {
		return nil, err
	}
	s.logger.Info("Payment transaction attached to order",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", intent.TransactionID),
		zap.Int64("amount", amount))
	return &domain.PaymentHandle{TransactionID: intent.TransactionID, ClientSecret: intent.ClientSecret, Amount: amount}, nil
}

// attachTransaction makes intent the order's single active attempt. The order
// is re-read under lock because the gateway call ran outside any transaction.
func (s *paymentService) attachTransaction(ctx context.Context, orderID string, amount int64, intent gateway.Intent) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		order, err := s.repos.Orders.GetForUpdateTx(ctx, q, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order); err != nil {
			return err
		}
		if order.Total() != amount {
			return fmt.Errorf("%w: order %s total changed during payment setup", domain.ErrInvalidInput, orderID)
		}
		if order.PaymentTransactionID == intent.TransactionID {
			return nil
		}

		now := s.now()
		existing, err := s.repos.Payments.GetByTransactionIDForUpdateTx(ctx, q, intent.TransactionID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if err := s.repos.Payments.CreateTx(ctx, q, &domain.Payment{
				ID:            uuid.NewString(),
				OrderID:       order.ID,
				TransactionID: intent.TransactionID,
				Amount:        amount,
				Currency:      order.Currency,
				Status:        domain.PaymentStatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}); err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.OrderID != order.ID:
			return fmt.Errorf("transaction %s already belongs to order %s", intent.TransactionID, existing.OrderID)
		case !existing.Active():
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrPaymentGateway, intent.TransactionID, existing.Status)
		}

		if err := s.supersedeTx(ctx, q, order, intent.TransactionID, now); err != nil {
			return err
		}

		order.PaymentTransactionID = intent.TransactionID
		if order.PaymentStatus == domain.OrderPaymentFailed {
			order.PaymentStatus = domain.OrderPaymentPending
		}
		order.UpdatedAt = now
		return s.repos.Orders.UpdateTx(ctx, q, order)
	})
}

// supersedeTx retires the order's current attempt when next replaces it. The
// caller holds the order lock.
func (s *paymentService) supersedeTx(ctx context.Context, q domain.Querier, order *domain.Order, next string, now time.Time) error {
	prev := order.PaymentTransactionID
	if prev == "" || prev == next {
		return nil
	}
	old, err := s.repos.Payments.GetByTransactionIDForUpdateTx(ctx, q, prev)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if old == nil || !old.Active() {
		return nil
	}
	old.SupersededAt = &now
	old.UpdatedAt = now
	if err := s.repos.Payments.UpdateTx(ctx, q, old); err != nil {
		return err
	}
	s.logger.Info("Previous payment attempt superseded",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", prev))
	return nil
}

// EnsureBasketTransaction opens a provisional transaction for a basket so the
// client can render a payment form before checkout. No payment row is written.
func (s *paymentService) EnsureBasketTransaction(ctx context.Context, ownerKey string) (*domain.PaymentHandle, error) {
	db := s.tx.DB()
	basket, err := s.repos.Baskets.GetByOwnerKeyTx(ctx, db, ownerKey)
	if err != nil {
		return nil, err
	}
	if basket.IsEmpty() {
		return nil, fmt.Errorf("basket %s is empty: %w", basket.ID, domain.ErrNotFound)
	}
	quote, err := baskets.QuoteTx(ctx, db, s.repos.Inventory, basket, s.cfg.Shipping)
	if err != nil {
		return nil, err
	}
	if unavailable := quote.Unavailable(); len(unavailable) > 0 {
		return nil, fmt.Errorf("%w: variants %v", domain.ErrInsufficientStock, unavailable)
	}
	amount := quote.Total()
	metadata := map[string]string{gateway.MetadataBasketID: basket.ID}

	if basket.PaymentTransactionID != "" && basket.PaymentAmount == amount {
		intent, err := callGateway(ctx, s, "update_intent", func(ctx context.Context) (gateway.Intent, error) {
			return s.gateway.UpdateIntent(ctx, gateway.UpdateIntentRequest{
				TransactionID: basket.PaymentTransactionID,
				Amount:        amount,
				Metadata:      metadata,
			})
		})
		if err != nil {
			return nil, err
		}
		secret := intent.ClientSecret
		if secret == "" {
			secret = basket.ClientSecret
		}
		return &domain.PaymentHandle{TransactionID: basket.PaymentTransactionID, ClientSecret: secret, Amount: amount}, nil
	}

	intent, err := callGateway(ctx, s, "create_intent", func(ctx context.Context) (gateway.Intent, error) {
		return s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
			Amount:         amount,
			Currency:       s.cfg.Currency,
			Metadata:       metadata,
			IdempotencyKey: fmt.Sprintf("%s:%d", basket.ID, amount),
		})
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		locked, err := s.repos.Baskets.GetByOwnerKeyForUpdateTx(ctx, q, ownerKey)
		if err != nil {
			return err
		}
		if locked.ID != basket.ID {
			return fmt.Errorf("basket %s was replaced: %w", basket.ID, domain.ErrNotFound)
		}
		locked.PaymentTransactionID = intent.TransactionID
		locked.ClientSecret = intent.ClientSecret
		locked.PaymentAmount = amount
		locked.UpdatedAt = s.now()
		return s.repos.Baskets.UpdatePaymentTx(ctx, q, locked)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Provisional transaction attached to basket",
		zap.String("basket_id", basket.ID),
		zap.String("transaction_id", intent.TransactionID),
		zap.Int64("amount", amount))
	return &domain.PaymentHandle{TransactionID: intent.TransactionID, ClientSecret: intent.ClientSecret, Amount: amount}, nil
}
