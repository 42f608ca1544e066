// Package testutil provides in-memory implementations of the repositories,
// the transaction manager and the payment gateway for service tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"storefront/internal/domain"
)

var errFakeQuerier = errors.New("testutil: fake querier does not execute SQL")

// fakeQuerier marks whether a repository call runs inside WithinTx.
type fakeQuerier struct {
	inTx bool
}

func (fakeQuerier) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errFakeQuerier
}

func (fakeQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errFakeQuerier
}

func (fakeQuerier) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

// Store is a single in-memory database. WithinTx holds a global lock for the
// whole transaction and restores a snapshot when fn fails, which gives the
// services the same serialization the row locks give them in Postgres.
type Store struct {
	mu sync.Mutex

	orders   map[string]*domain.Order
	history  map[string][]domain.StatusHistoryEntry
	payments map[string]*domain.Payment
	baskets  map[string]*domain.Basket
	variants map[string]*domain.Variant
	inbox    map[string]domain.InboxMessage
	outbox   []domain.OutboxMessage

	// FailNextTx makes the next WithinTx call fail after fn succeeds, to
	// simulate a commit failure.
	FailNextTx error
	// FailOutboxWrites makes every savepoint-guarded outbox insert fail.
	FailOutboxWrites error
}

func NewStore() *Store {
	return &Store{
		orders:   map[string]*domain.Order{},
		history:  map[string][]domain.StatusHistoryEntry{},
		payments: map[string]*domain.Payment{},
		baskets:  map[string]*domain.Basket{},
		variants: map[string]*domain.Variant{},
		inbox:    map[string]domain.InboxMessage{},
	}
}

func (s *Store) DB() domain.Querier {
	return fakeQuerier{}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, q domain.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(ctx, fakeQuerier{inTx: true})
	if err == nil && s.FailNextTx != nil {
		err, s.FailNextTx = s.FailNextTx, nil
	}
	if err != nil {
		s.restore(snap)
	}
	return err
}

func (s *Store) guard(q domain.Querier) func() {
	if fq, ok := q.(fakeQuerier); ok && fq.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	orders   map[string]*domain.Order
	history  map[string][]domain.StatusHistoryEntry
	payments map[string]*domain.Payment
	baskets  map[string]*domain.Basket
	variants map[string]*domain.Variant
	inbox    map[string]domain.InboxMessage
	outbox   []domain.OutboxMessage
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		orders:   make(map[string]*domain.Order, len(s.orders)),
		history:  make(map[string][]domain.StatusHistoryEntry, len(s.history)),
		payments: make(map[string]*domain.Payment, len(s.payments)),
		baskets:  make(map[string]*domain.Basket, len(s.baskets)),
		variants: make(map[string]*domain.Variant, len(s.variants)),
		inbox:    make(map[string]domain.InboxMessage, len(s.inbox)),
		outbox:   append([]domain.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	for k, v := range s.history {
		snap.history[k] = append([]domain.StatusHistoryEntry(nil), v...)
	}
	for k, v := range s.payments {
		snap.payments[k] = clonePayment(v)
	}
	for k, v := range s.baskets {
		snap.baskets[k] = cloneBasket(v)
	}
	for k, v := range s.variants {
		c := *v
		snap.variants[k] = &c
	}
	for k, v := range s.inbox {
		snap.inbox[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.orders = snap.orders
	s.history = snap.history
	s.payments = snap.payments
	s.baskets = snap.baskets
	s.variants = snap.variants
	s.inbox = snap.inbox
	s.outbox = snap.outbox
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = make([]domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.Attributes = append([]string(nil), item.Attributes...)
		c.Items[i] = item
	}
	return &c
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		c.ProcessedAt = &t
	}
	if p.SupersededAt != nil {
		t := *p.SupersededAt
		c.SupersededAt = &t
	}
	return &c
}

func cloneBasket(b *domain.Basket) *domain.Basket {
	c := *b
	c.Items = append([]domain.BasketItem(nil), b.Items...)
	return &c
}

// Seed and inspection helpers for tests.

func (s *Store) SeedVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = &v
}

func (s *Store) Variant(id string) domain.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.variants[id]; ok {
		return *v
	}
	return domain.Variant{}
}

func (s *Store) SeedOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
}

func (s *Store) Order(id string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return cloneOrder(o)
	}
	return nil
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) History(orderID string) []domain.StatusHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StatusHistoryEntry(nil), s.history[orderID]...)
}

func (s *Store) SeedPayment(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clonePayment(p)
}

func (s *Store) Payment(id string) *domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (s *Store) PaymentsForOrder(orderID string) []*domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

func (s *Store) SeedBasket(b *domain.Basket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baskets[b.ID] = cloneBasket(b)
}

func (s *Store) BasketByOwner(ownerKey string) *domain.Basket {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.baskets {
		if b.OwnerKey == ownerKey {
			return cloneBasket(b)
		}
	}
	return nil
}

func (s *Store) OutboxMessages() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.outbox...)
}

func (s *Store) InboxMessage(id string) (domain.InboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.inbox[id]
	return m, ok
}
