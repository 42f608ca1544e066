package testutil

import (
	"context"
	"fmt"
	"sync"

	"storefront/internal/gateway"
)

// FakeGateway mimics a PSP: create calls with the same idempotency key return
// the same transaction, and every call is recorded.
type FakeGateway struct {
	mu sync.Mutex

	intents    map[string]gateway.Intent
	byKey      map[string]string
	seq        int
	Creates    int
	Updates    int
	Refunds    []gateway.RefundRequest
	LastUpdate gateway.UpdateIntentRequest

	// Err, when set, is returned by every call.
	Err error
	// Block, when set, makes calls wait until ctx is done.
	Block bool
}

var _ gateway.Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents: map[string]gateway.Intent{},
		byKey:   map[string]string{},
	}
}

func (g *FakeGateway) fail(ctx context.Context) error {
	if g.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.Err
}

func (g *FakeGateway) CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (gateway.Intent, error) {
	if err := g.fail(ctx); err != nil {
		return gateway.Intent{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return g.intents[id], nil
	}
	g.seq++
	g.Creates++
	intent := gateway.Intent{
		TransactionID: fmt.Sprintf("pi_%d", g.seq),
		ClientSecret:  fmt.Sprintf("pi_%d_secret", g.seq),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        gateway.IntentStatusPending,
	}
	g.intents[intent.TransactionID] = intent
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = intent.TransactionID
	}
	return intent, nil
}

func (g *FakeGateway) UpdateIntent(ctx context.Context, req gateway.UpdateIntentRequest) (gateway.Intent, error) {
	if err := g.fail(ctx); err != nil {
		return gateway.Intent{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[req.TransactionID]
	if !ok {
		return gateway.Intent{}, fmt.Errorf("no such payment intent: %s", req.TransactionID)
	}
	g.Updates++
	g.LastUpdate = req
	intent.Amount = req.Amount
	g.intents[req.TransactionID] = intent
	return intent, nil
}

func (g *FakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Refund, error) {
	if err := g.fail(ctx); err != nil {
		return gateway.Refund{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Refunds = append(g.Refunds, req)
	return gateway.Refund{
		ID:            fmt.Sprintf("re_%d", len(g.Refunds)),
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Status:        "succeeded",
	}, nil
}

// SeedIntent registers a transaction created outside the fake, e.g. a
// provisional basket intent.
func (g *FakeGateway) SeedIntent(intent gateway.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.TransactionID] = intent
}

func (g *FakeGateway) Counts() (creates, updates int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Creates, g.Updates
}
