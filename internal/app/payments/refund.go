package payments

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/gateway"
)

// Refund returns money for a settled payment. The gateway is called first;
// the local record is only updated once the gateway has accepted the refund.
// Cancelling an order never refunds automatically.
func (s *paymentService) Refund(ctx context.Context, req *RefundRequest) (*PaymentResponse, error) {
	payment, err := s.repos.Payments.GetByIDTx(ctx, s.tx.DB(), req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusSucceeded && payment.Status != domain.PaymentStatusPartiallyRefunded {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrNotRefundable, payment.ID, payment.Status)
	}
	amount := payment.Refundable()
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > payment.Refundable() {
		return nil, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrInvalidAmount, amount, payment.Refundable())
	}

	refund, err := callGateway(ctx, s, "refund", func(ctx context.Context) (gateway.Refund, error) {
		return s.gateway.Refund(ctx, gateway.RefundRequest{
			TransactionID:  payment.TransactionID,
			Amount:         amount,
			IdempotencyKey: fmt.Sprintf("%s:%d:%d", payment.ID, payment.RefundedAmount, amount),
		})
	})
	if err != nil {
		return nil, err
	}

	var updated *domain.Payment
	err = s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		order, err := s.repos.Orders.GetForUpdateTx(ctx, q, payment.OrderID)
		if err != nil {
			return err
		}
		locked, err := s.repos.Payments.GetByIDForUpdateTx(ctx, q, payment.ID)
		if err != nil {
			return err
		}
		if locked.RefundedAmount != payment.RefundedAmount {
			return fmt.Errorf("%w: payment %s was refunded concurrently", domain.ErrInvalidAmount, payment.ID)
		}
		now := s.now()
		if err := locked.ApplyRefund(amount, now); err != nil {
			return err
		}
		if err := s.repos.Payments.UpdateTx(ctx, q, locked); err != nil {
			return err
		}

		if locked.Status == domain.PaymentStatusRefunded {
			order.PaymentStatus = domain.OrderPaymentRefunded
			order.UpdatedAt = now
			if err := s.repos.Orders.UpdateTx(ctx, q, order); err != nil {
				return err
			}
		}
		updated = locked
		return s.queuePaymentEvent(ctx, q, domain.EventPaymentRefunded, locked, "", now)
	})
	if err != nil {
		s.logger.Error("Refund executed at gateway but not recorded",
			zap.String("payment_id", payment.ID),
			zap.String("refund_id", refund.ID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Payment refunded",
		zap.String("payment_id", updated.ID),
		zap.String("order_id", updated.OrderID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", amount),
		zap.Int64("refunded_total", updated.RefundedAmount))
	return mapPaymentToResponse(updated), nil
}
