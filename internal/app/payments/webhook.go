package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
	"storefront/internal/outbox"
	"storefront/internal/repository/inbox_repo"
)

// errNoPaymentForTransaction marks an event whose transaction has no payment
// row and cannot be tied to an order yet.
var errNoPaymentForTransaction = errors.New("no payment recorded for transaction")

// HandleNotification verifies and applies one gateway event. A nil return
// means the event may be acknowledged, including replays and event types
// this service does not act on.
func (s *paymentService) HandleNotification(ctx context.Context, payload []byte, signatureHeader string) error {
	n, err := s.verifier.Parse(payload, signatureHeader)
	if err != nil {
		s.metrics.ObserveWebhook(metrics.WebhookRejected)
		s.logger.Warn("Rejected gateway notification", zap.Error(err))
		return err
	}
	log := s.logger.With(
		zap.String("event_id", n.EventID),
		zap.String("event_type", n.EventType),
		zap.String("transaction_id", n.TransactionID))

	outcome := metrics.WebhookApplied
	var confirmed bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		status := domain.InboxStatusProcessed
		if n.Kind == gateway.NotificationIgnored {
			status = domain.InboxStatusIgnored
		}
		now := s.now()
		err := s.repos.Inbox.CreateMessageTx(ctx, q, &domain.InboxMessage{
			ID:            n.EventID,
			TransactionID: n.TransactionID,
			EventType:     n.EventType,
			Payload:       payload,
			Status:        status,
			ReceivedAt:    now,
			ProcessedAt:   &now,
		})
		if errors.Is(err, inbox_repo.ErrMessageAlreadyProcessed) {
			outcome = metrics.WebhookDuplicate
			return nil
		}
		if err != nil {
			return err
		}
		if n.Kind == gateway.NotificationIgnored {
			outcome = metrics.WebhookIgnored
			return nil
		}

		if err := s.repos.Payments.LockTransactionTx(ctx, q, n.TransactionID); err != nil {
			return err
		}
		payment, order, err := s.lockPaymentAndOrder(ctx, q, log, n)
		if errors.Is(err, errNoPaymentForTransaction) && n.Kind != gateway.NotificationSucceeded {
			// Nothing was captured, so there is nothing to reconcile.
			outcome = metrics.WebhookIgnored
			return s.repos.Inbox.UpdateStatusTx(ctx, q, n.EventID, domain.InboxStatusIgnored)
		}
		if err != nil {
			return err
		}

		var applied bool
		switch n.Kind {
		case gateway.NotificationSucceeded:
			wasPending := order.Status == domain.OrderStatusPending
			applied, err = s.applySucceeded(ctx, q, log, n, payment, order)
			confirmed = applied && wasPending
		case gateway.NotificationFailed:
			applied, err = s.applyFailed(ctx, q, log, n, payment, order)
		}
		if err != nil {
			return err
		}
		if !applied {
			outcome = metrics.WebhookDuplicate
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveWebhook(metrics.WebhookFailed)
		log.Error("Failed to apply gateway notification", zap.Error(err))
		return err
	}

	s.metrics.ObserveWebhook(outcome)
	if confirmed {
		s.metrics.ObserveTransition(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	}
	log.Info("Gateway notification handled", zap.String("outcome", outcome))
	return nil
}

// lockPaymentAndOrder locks the order before the payment row, the same order
// attachTransaction and Refund use. A success for a transaction without a
// payment row is recorded against the order named in its metadata; without
// one the event is returned as an error so the gateway redelivers it.
func (s *paymentService) lockPaymentAndOrder(ctx context.Context, q domain.Querier, log *zap.Logger, n gateway.Notification) (*domain.Payment, *domain.Order, error) {
	payment, err := s.repos.Payments.GetByTransactionIDTx(ctx, q, n.TransactionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	if payment == nil {
		if n.Kind != gateway.NotificationSucceeded || n.OrderID == "" {
			return nil, nil, fmt.Errorf("%w: %s", errNoPaymentForTransaction, n.TransactionID)
		}
		order, err := s.repos.Orders.GetForUpdateTx(ctx, q, n.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s names unknown order %s", errNoPaymentForTransaction, n.TransactionID, n.OrderID)
		}
		if err != nil {
			return nil, nil, err
		}
		payment, err = s.recordCapturedTx(ctx, q, log, n, order)
		if err != nil {
			return nil, nil, err
		}
		return payment, order, nil
	}

	order, err := s.repos.Orders.GetForUpdateTx(ctx, q, payment.OrderID)
	if err != nil {
		return nil, nil, err
	}
	payment, err = s.repos.Payments.GetByTransactionIDForUpdateTx(ctx, q, n.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	return payment, order, nil
}

// recordCapturedTx creates the payment row for a transaction that was
// captured before it was attached to its order, e.g. a basket transaction paid
// while checkout was adopting it.
func (s *paymentService) recordCapturedTx(ctx context.Context, q domain.Querier, log *zap.Logger, n gateway.Notification, order *domain.Order) (*domain.Payment, error) {
	now := s.now()
	payment := &domain.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		TransactionID: n.TransactionID,
		Amount:        n.Amount,
		Currency:      n.Currency,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payment.Amount <= 0 {
		payment.Amount = order.Total()
	}
	if payment.Currency == "" {
		payment.Currency = order.Currency
	}
	if err := s.repos.Payments.CreateTx(ctx, q, payment); err != nil {
		return nil, err
	}

	if order.PaymentStatus != domain.OrderPaymentSucceeded && order.PaymentStatus != domain.OrderPaymentRefunded {
		if err := s.supersedeTx(ctx, q, order, n.TransactionID, now); err != nil {
			return nil, err
		}
		order.PaymentTransactionID = n.TransactionID
	}
	log.Info("Recorded payment for transaction captured before attachment",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount))
	return payment, nil
}

func (s *paymentService) applySucceeded(ctx context.Context, q domain.Querier, log *zap.Logger, n gateway.Notification, payment *domain.Payment, order *domain.Order) (bool, error) {
	if payment.Settled() {
		return false, nil
	}
	if n.Amount != 0 && n.Amount != payment.Amount {
		log.Warn("Captured amount differs from payment amount",
			zap.Int64("captured", n.Amount),
			zap.Int64("expected", payment.Amount))
	}

	now := s.now()
	payment.Status = domain.PaymentStatusSucceeded
	payment.FailureReason = ""
	payment.ProcessedAt = &now
	payment.UpdatedAt = now
	if err := s.repos.Payments.UpdateTx(ctx, q, payment); err != nil {
		return false, err
	}

	order.PaymentStatus = domain.OrderPaymentSucceeded
	switch order.Status {
	case domain.OrderStatusPending:
		if _, err := s.machine.ApplyTx(ctx, q, order, domain.OrderStatusConfirmed, domain.PaymentGatewayActor,
			"payment "+payment.TransactionID+" succeeded", ""); err != nil {
			return false, err
		}
	default:
		if order.Status == domain.OrderStatusCancelled {
			log.Warn("Payment captured for cancelled order, refund required",
				zap.String("order_id", order.ID),
				zap.String("payment_id", payment.ID))
		}
		order.UpdatedAt = now
		if err := s.repos.Orders.UpdateTx(ctx, q, order); err != nil {
			return false, err
		}
	}

	return true, s.queuePaymentEvent(ctx, q, domain.EventPaymentSucceeded, payment, "", now)
}

func (s *paymentService) applyFailed(ctx context.Context, q domain.Querier, log *zap.Logger, n gateway.Notification, payment *domain.Payment, order *domain.Order) (bool, error) {
	if payment.Settled() {
		log.Info("Ignoring failure for a settled payment", zap.String("payment_id", payment.ID))
		return false, nil
	}
	if payment.Status == domain.PaymentStatusFailed {
		return false, nil
	}

	now := s.now()
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = n.FailureReason
	payment.ProcessedAt = &now
	payment.UpdatedAt = now
	if err := s.repos.Payments.UpdateTx(ctx, q, payment); err != nil {
		return false, err
	}

	if order.PaymentTransactionID == payment.TransactionID && order.PaymentStatus == domain.OrderPaymentPending {
		order.PaymentStatus = domain.OrderPaymentFailed
		order.UpdatedAt = now
		if err := s.repos.Orders.UpdateTx(ctx, q, order); err != nil {
			return false, err
		}
	}

	return true, s.queuePaymentEvent(ctx, q, domain.EventPaymentFailed, payment, n.FailureReason, now)
}

func (s *paymentService) queuePaymentEvent(ctx context.Context, q domain.Querier, eventType string, payment *domain.Payment, reason string, now time.Time) error {
	msg, err := outbox.NewMessage(outbox.AggregatePayment, payment.ID, eventType, s.cfg.PaymentEventsTopic,
		paymentEvent(payment, reason, now), now)
	if err != nil {
		return err
	}
	return s.repos.Outbox.CreateMessageTx(ctx, q, msg)
}
