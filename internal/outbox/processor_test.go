package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/testutil"
)

type producedMessage struct {
	topic, key string
	payload    []byte
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []producedMessage
	failFor  map[string]bool
}

func (p *fakeProducer) Produce(_ context.Context, topic, key string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[key] {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, producedMessage{topic: topic, key: key, payload: message})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) sent() []producedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]producedMessage(nil), p.messages...)
}

func queue(t *testing.T, store *testutil.Store, orderID string) {
	t.Helper()
	msg, err := NewMessage(AggregateOrder, orderID, domain.EventOrderStatusChanged, "order_status_events",
		domain.OrderStatusChangedEvent{OrderID: orderID, FromStatus: "PENDING", ToStatus: "CONFIRMED"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Outbox().CreateMessageTx(context.Background(), store.DB(), msg))
}

func TestProcessBatch_PublishesAndMarksSent(t *testing.T) {
	store := testutil.NewStore()
	producer := &fakeProducer{}
	p := NewProcessor(store, store.Outbox(), producer, ProcessorConfig{PollInterval: time.Hour}, nil, zap.NewNop())

	queue(t, store, "ord-1")
	queue(t, store, "ord-2")

	sent, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	published := producer.sent()
	require.Len(t, published, 2)
	assert.Equal(t, "order_status_events", published[0].topic)
	assert.Equal(t, "ord-1", published[0].key)
	assert.JSONEq(t, string(store.OutboxMessages()[0].Payload), string(published[0].payload))

	for _, m := range store.OutboxMessages() {
		assert.Equal(t, domain.OutboxStatusSent, m.Status)
		assert.NotNil(t, m.SentAt)
	}

	sent, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "sent messages are not published twice")
}

func TestProcessBatch_FailureParksAfterMaxAttempts(t *testing.T) {
	store := testutil.NewStore()
	producer := &fakeProducer{failFor: map[string]bool{"ord-bad": true}}
	p := NewProcessor(store, store.Outbox(), producer, ProcessorConfig{PollInterval: time.Hour, MaxAttempts: 2}, nil, zap.NewNop())

	queue(t, store, "ord-bad")
	queue(t, store, "ord-good")

	sent, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "one failure does not block the batch")

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)

	msgs := store.OutboxMessages()
	assert.Equal(t, domain.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].Attempts)
	assert.Equal(t, domain.OutboxStatusSent, msgs[1].Status)

	sent, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestStartStop(t *testing.T) {
	store := testutil.NewStore()
	producer := &fakeProducer{}
	p := NewProcessor(store, store.Outbox(), producer, ProcessorConfig{PollInterval: 5 * time.Millisecond}, nil, zap.NewNop())
	queue(t, store, "ord-1")

	go p.Start(context.Background())
	assert.Eventually(t, func() bool { return len(producer.sent()) == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
}
