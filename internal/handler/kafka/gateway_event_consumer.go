package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/app/payments"
	"storefront/internal/domain"
	kafka_infra "storefront/internal/infrastructure/kafka"
)

// GatewayEvent is a webhook forwarded by an edge receiver. Payload is the raw
// body exactly as the gateway signed it.
type GatewayEvent struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// GatewayEventMessageHandler feeds relayed webhooks into the same
// reconciliation path as POST /payments/webhook. Messages that can never
// succeed are dropped; anything else is returned so the offset is not
// committed and the message is redelivered.
func GatewayEventMessageHandler(paymentService payments.PaymentService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, message []byte) error {
		var event GatewayEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logger.Error("Failed to unmarshal relayed gateway event", zap.Error(err), zap.ByteString("value", message))
			return nil
		}

		err := paymentService.HandleNotification(ctx, []byte(event.Payload), event.Signature)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrInvalidInput) {
			logger.Warn("Dropping relayed gateway event", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to process relayed gateway event: %w", err)
	}
}
