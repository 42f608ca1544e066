package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/domain"
)

const (
	AggregateOrder   = "order"
	AggregatePayment = "payment"
)

// NewMessage wraps an event for the transactional outbox. The aggregate id is
// used as the Kafka key.
func NewMessage(aggregateType, aggregateID, messageType, topic string, event any, now time.Time) (*domain.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", messageType, err)
	}
	return &domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		MessageType:   messageType,
		Topic:         topic,
		Key:           aggregateID,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     now,
	}, nil
}
