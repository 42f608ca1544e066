package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger

	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// StripeGateway implements Gateway with Stripe PaymentIntents.
type StripeGateway struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	logger  *zap.Logger
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	intents, refunds := cfg.intents, cfg.refunds
	if intents == nil || refunds == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents, refunds = sc.PaymentIntents, sc.Refunds
	}
	return &StripeGateway{intents: intents, refunds: refunds, logger: logger}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger.Info("Payment intent created",
		zap.String("transaction_id", intent.ID),
		zap.Int64("amount", intent.Amount))
	return toIntent(intent), nil
}

func (g *StripeGateway) UpdateIntent(ctx context.Context, req UpdateIntentRequest) (Intent, error) {
	if req.TransactionID == "" {
		return Intent{}, errors.New("stripe: transaction id is required")
	}
	params := &stripe.PaymentIntentParams{
		Amount: stripe.Int64(req.Amount),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.Update(req.TransactionID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: update payment intent: %w", err)
	}
	g.logger.Debug("Payment intent updated",
		zap.String("transaction_id", intent.ID),
		zap.Int64("amount", intent.Amount))
	return toIntent(intent), nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return Refund{}, fmt.Errorf("stripe: refund %s ended as %s", refund.ID, refund.Status)
	}
	g.logger.Info("Refund issued",
		zap.String("transaction_id", req.TransactionID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", refund.Amount))
	return Refund{
		ID:            refund.ID,
		TransactionID: req.TransactionID,
		Amount:        refund.Amount,
		Status:        string(refund.Status),
	}, nil
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	status := IntentStatusPending
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = IntentStatusFailed
	}
	return Intent{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
		Status:        status,
	}
}
