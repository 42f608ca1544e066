package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	created []*stripe.PaymentIntentParams
	updated map[string]*stripe.PaymentIntentParams
	err     error
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, params)
	return &stripe.PaymentIntent{
		ID:           "pi_new",
		ClientSecret: "pi_new_secret",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (f *fakeIntentAPI) Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.updated == nil {
		f.updated = map[string]*stripe.PaymentIntentParams{}
	}
	f.updated[id] = params
	return &stripe.PaymentIntent{ID: id, ClientSecret: id + "_secret", Amount: *params.Amount}, nil
}

type fakeRefundAPI struct {
	last   *stripe.RefundParams
	status stripe.RefundStatus
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.last = params
	return &stripe.Refund{ID: "re_1", Amount: *params.Amount, Status: f.status}, nil
}

func newTestGateway(t *testing.T, intents *fakeIntentAPI, refunds *fakeRefundAPI) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway(StripeConfig{intents: intents, refunds: refunds})
	require.NoError(t, err)
	return g
}

func TestCreateIntentSendsIdempotencyKeyAndMetadata(t *testing.T) {
	intents := &fakeIntentAPI{}
	g := newTestGateway(t, intents, &fakeRefundAPI{})

	intent, err := g.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:         4200,
		Currency:       "USD",
		Metadata:       map[string]string{MetadataOrderID: "ord-1"},
		IdempotencyKey: "ord-1:4200:0",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_new", intent.TransactionID)
	assert.Equal(t, "pi_new_secret", intent.ClientSecret)
	assert.Equal(t, IntentStatusPending, intent.Status)

	require.Len(t, intents.created, 1)
	params := intents.created[0]
	require.NotNil(t, params.IdempotencyKey)
	assert.Equal(t, "ord-1:4200:0", *params.IdempotencyKey)
	assert.Equal(t, "usd", *params.Currency)
	assert.Equal(t, "ord-1", params.Metadata[MetadataOrderID])
}

func TestCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	g := newTestGateway(t, &fakeIntentAPI{}, &fakeRefundAPI{})
	_, err := g.CreateIntent(context.Background(), CreateIntentRequest{Amount: 0, Currency: "usd"})
	require.Error(t, err)
}

func TestCreateIntentWrapsStripeErrors(t *testing.T) {
	g := newTestGateway(t, &fakeIntentAPI{err: errors.New("rate limited")}, &fakeRefundAPI{})
	_, err := g.CreateIntent(context.Background(), CreateIntentRequest{Amount: 10, Currency: "usd"})
	require.ErrorContains(t, err, "rate limited")
}

func TestRefundFailedStatusIsAnError(t *testing.T) {
	refunds := &fakeRefundAPI{status: stripe.RefundStatusFailed}
	g := newTestGateway(t, &fakeIntentAPI{}, refunds)

	_, err := g.Refund(context.Background(), RefundRequest{TransactionID: "pi_1", Amount: 500, IdempotencyKey: "pay-1:0:500"})
	require.Error(t, err)
	assert.Equal(t, "pi_1", *refunds.last.PaymentIntent)
}

func TestRefundSucceeded(t *testing.T) {
	refunds := &fakeRefundAPI{status: stripe.RefundStatusSucceeded}
	g := newTestGateway(t, &fakeIntentAPI{}, refunds)

	r, err := g.Refund(context.Background(), RefundRequest{TransactionID: "pi_1", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Amount)
	assert.Nil(t, refunds.last.IdempotencyKey)
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{})
	require.Error(t, err)
}
