package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/app/payments"
	"storefront/internal/domain"
)

type stubPaymentService struct {
	payments.PaymentService
	payload   []byte
	signature string
	err       error
}

func (s *stubPaymentService) HandleNotification(_ context.Context, payload []byte, signature string) error {
	s.payload, s.signature = payload, signature
	return s.err
}

func relayed(t *testing.T, payload, signature string) []byte {
	t.Helper()
	b, err := json.Marshal(GatewayEvent{Payload: payload, Signature: signature})
	require.NoError(t, err)
	return b
}

func TestGatewayEventHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("passes raw payload and signature through", func(t *testing.T) {
		svc := &stubPaymentService{}
		handler := GatewayEventMessageHandler(svc, zap.NewNop())
		require.NoError(t, handler(ctx, relayed(t, `{"id":"evt_1"}`, "t=1,v1=ab")))
		assert.Equal(t, `{"id":"evt_1"}`, string(svc.payload))
		assert.Equal(t, "t=1,v1=ab", svc.signature)
	})

	t.Run("drops poison messages", func(t *testing.T) {
		svc := &stubPaymentService{err: domain.ErrInvalidSignature}
		handler := GatewayEventMessageHandler(svc, zap.NewNop())
		assert.NoError(t, handler(ctx, relayed(t, "{}", "bad")))
		assert.NoError(t, handler(ctx, []byte("not json")))
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		svc := &stubPaymentService{err: errors.New("db down")}
		handler := GatewayEventMessageHandler(svc, zap.NewNop())
		assert.Error(t, handler(ctx, relayed(t, "{}", "sig")))
	})
}
