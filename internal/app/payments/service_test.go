package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/app/orders"
	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/repository/order_repo"
	"storefront/internal/repository/payment_repo"
	"storefront/internal/testutil"
)

const webhookSecret = "whsec_test"

var (
	owner    = domain.Actor{UserID: "user-1", Role: domain.RoleCustomer}
	stranger = domain.Actor{UserID: "user-2", Role: domain.RoleCustomer}
)

type fixture struct {
	svc   PaymentService
	store *testutil.Store
	gw    *testutil.FakeGateway
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the repositories before the service is
// built.
func newFixtureWith(t *testing.T, wrap func(*Repositories)) *fixture {
	t.Helper()
	store := testutil.NewStore()
	gw := testutil.NewFakeGateway()
	logger := zap.NewNop()
	machine := orders.NewStateMachine(store.Orders(), store.Inventory(), store.Outbox(), "order_status_events", logger)
	repos := Repositories{
		Orders:    store.Orders(),
		Payments:  store.Payments(),
		Baskets:   store.Baskets(),
		Inventory: store.Inventory(),
		Inbox:     store.Inbox(),
		Outbox:    store.Outbox(),
	}
	if wrap != nil {
		wrap(&repos)
	}
	svc := NewPaymentService(store,
		repos,
		gw,
		gateway.NewVerifier(webhookSecret, 5*time.Minute),
		machine,
		Config{
			Currency:           "usd",
			Shipping:           domain.FlatRateShipping{Fee: 500, FreeThreshold: 5000},
			PaymentEventsTopic: "payment_events",
			GatewayTimeout:     50 * time.Millisecond,
		}, nil, logger)
	return &fixture{svc: svc, store: store, gw: gw}
}

func (f *fixture) seedOrder(id string, status domain.OrderStatus) *domain.Order {
	now := time.Now().UTC()
	o := &domain.Order{
		ID:            id,
		UserID:        "user-1",
		OrderDate:     now,
		Status:        status,
		PaymentStatus: domain.OrderPaymentPending,
		Currency:      "usd",
		Subtotal:      3000,
		ShippingCost:  500,
		Items:         []domain.OrderItem{{ID: "item-1", OrderID: id, VariantID: "var-mug", ProductName: "Mug", UnitPrice: 1500, Quantity: 2}},
		UpdatedAt:     now,
	}
	f.store.SeedOrder(o)
	return o
}

func (f *fixture) deliver(t *testing.T, eventID, eventType, txID string, extra string) error {
	t.Helper()
	payload := testutil.IntentEvent(eventID, eventType, txID, 3500, extra)
	return f.svc.HandleNotification(context.Background(), payload, testutil.SignWebhook(payload, webhookSecret, time.Now()))
}

func (f *fixture) paymentFor(t *testing.T, txID string) *domain.Payment {
	t.Helper()
	for _, p := range f.store.PaymentsForOrder("ord-1") {
		if p.TransactionID == txID {
			return p
		}
	}
	t.Fatalf("no payment for %s", txID)
	return nil
}

func countHistory(entries []domain.StatusHistoryEntry, to domain.OrderStatus) int {
	var n int
	for _, e := range entries {
		if e.ToStatus == to {
			n++
		}
	}
	return n
}

func TestEnsureOrderTransaction_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	ctx := context.Background()

	first, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner, nil)
	require.NoError(t, err)
	second, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner, nil)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(3500), first.Amount)
	assert.NotEmpty(t, second.ClientSecret)

	creates, updates := f.gw.Counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates, "second call refreshes the open transaction")
	assert.Len(t, f.store.PaymentsForOrder("ord-1"), 1)
	assert.Equal(t, first.TransactionID, f.store.Order("ord-1").PaymentTransactionID)
}

func TestEnsureOrderTransaction_ConcurrentCallsShareOneTransaction(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
			if assert.NoError(t, err) {
				ids[i] = h.TransactionID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.store.PaymentsForOrder("ord-1"), 1)
}

func TestEnsureOrderTransaction_NewAttemptAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	ctx := context.Background()

	first, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner, nil)
	require.NoError(t, err)
	require.NoError(t, f.deliver(t, "evt_fail", gateway.EventIntentFailed, first.TransactionID,
		`,"last_payment_error":{"code":"card_declined","message":"Your card was declined."}`))
	assert.Equal(t, domain.OrderPaymentFailed, f.store.Order("ord-1").PaymentStatus)

	second, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, second.TransactionID)

	order := f.store.Order("ord-1")
	assert.Equal(t, second.TransactionID, order.PaymentTransactionID)
	assert.Equal(t, domain.OrderPaymentPending, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "Your card was declined.", f.paymentFor(t, first.TransactionID).FailureReason)
}

func TestEnsureOrderTransaction_AdoptsMatchingProvisional(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	f.gw.SeedIntent(gateway.Intent{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})

	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner,
		&domain.PaymentHandle{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})
	require.NoError(t, err)

	assert.Equal(t, "pi_basket", h.TransactionID)
	creates, _ := f.gw.Counts()
	assert.Zero(t, creates)
	assert.Equal(t, "ord-1", f.gw.LastUpdate.Metadata[gateway.MetadataOrderID])
	assert.Equal(t, "pi_basket", f.store.Order("ord-1").PaymentTransactionID)
}

func TestEnsureOrderTransaction_IgnoresStaleProvisional(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	f.gw.SeedIntent(gateway.Intent{TransactionID: "pi_basket", Amount: 1200})

	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner,
		&domain.PaymentHandle{TransactionID: "pi_basket", Amount: 1200})
	require.NoError(t, err)
	assert.NotEqual(t, "pi_basket", h.TransactionID)
	creates, _ := f.gw.Counts()
	assert.Equal(t, 1, creates)
}

func TestEnsureOrderTransaction_GatewayFailureLeavesNoTrace(t *testing.T) {
	for name, setup := range map[string]func(*testutil.FakeGateway){
		"error":   func(g *testutil.FakeGateway) { g.Err = errors.New("connection reset") },
		"timeout": func(g *testutil.FakeGateway) { g.Block = true },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.seedOrder("ord-1", domain.OrderStatusPending)
			setup(f.gw)

			_, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
			require.ErrorIs(t, err, domain.ErrPaymentGateway)
			assert.Empty(t, f.store.PaymentsForOrder("ord-1"))
			assert.Empty(t, f.store.Order("ord-1").PaymentTransactionID)
		})
	}
}

func TestEnsureOrderTransaction_Rejections(t *testing.T) {
	f := newFixture(t)
	paid := f.seedOrder("ord-paid", domain.OrderStatusConfirmed)
	paid.PaymentStatus = domain.OrderPaymentSucceeded
	f.store.SeedOrder(paid)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	f.seedOrder("ord-cancelled", domain.OrderStatusCancelled)
	ctx := context.Background()

	_, err := f.svc.EnsureOrderTransaction(ctx, "ord-paid", owner, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
	_, err = f.svc.EnsureOrderTransaction(ctx, "ord-cancelled", owner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.EnsureOrderTransaction(ctx, "ord-1", stranger, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.EnsureOrderTransaction(ctx, "missing", owner, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	creates, updates := f.gw.Counts()
	assert.Zero(t, creates+updates)
}

func TestEnsureBasketTransaction(t *testing.T) {
	f := newFixture(t)
	f.store.SeedVariant(domain.Variant{ID: "var-mug", ProductID: "prod-mug", Price: 800, Stock: 5})
	f.store.SeedBasket(&domain.Basket{ID: "basket-1", OwnerKey: "anon:abc",
		Items: []domain.BasketItem{{VariantID: "var-mug", Quantity: 2}}})
	ctx := context.Background()

	first, err := f.svc.EnsureBasketTransaction(ctx, "anon:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2100), first.Amount)

	basket := f.store.BasketByOwner("anon:abc")
	assert.Equal(t, first.TransactionID, basket.PaymentTransactionID)
	assert.Equal(t, int64(2100), basket.PaymentAmount)

	again, err := f.svc.EnsureBasketTransaction(ctx, "anon:abc")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, again.TransactionID)

	// Price change: a new transaction replaces the provisional one.
	f.store.SeedVariant(domain.Variant{ID: "var-mug", ProductID: "prod-mug", Price: 900, Stock: 5})
	changed, err := f.svc.EnsureBasketTransaction(ctx, "anon:abc")
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, changed.TransactionID)
	assert.Equal(t, int64(2300), f.store.BasketByOwner("anon:abc").PaymentAmount)
	assert.Empty(t, f.store.PaymentsForOrder(""), "basket intents have no payment rows")

	_, err = f.svc.EnsureBasketTransaction(ctx, "anon:none")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleNotification_SucceededConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))

	order := f.store.Order("ord-1")
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, domain.OrderPaymentSucceeded, order.PaymentStatus)

	payment := f.paymentFor(t, h.TransactionID)
	assert.Equal(t, domain.PaymentStatusSucceeded, payment.Status)
	assert.NotNil(t, payment.ProcessedAt)

	history := f.store.History("ord-1")
	require.Len(t, history, 1)
	assert.Equal(t, domain.OrderStatusPending, history[0].FromStatus)
	assert.Equal(t, domain.PaymentGatewayActor.UserID, history[0].UpdatedBy)

	msg, ok := f.store.InboxMessage("evt_1")
	require.True(t, ok)
	assert.Equal(t, domain.InboxStatusProcessed, msg.Status)

	var types []string
	for _, m := range f.store.OutboxMessages() {
		types = append(types, m.MessageType)
	}
	assert.ElementsMatch(t, []string{domain.EventOrderStatusChanged, domain.EventPaymentSucceeded}, types)
}

func TestHandleNotification_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))
	outbox := len(f.store.OutboxMessages())

	// Same event id, then a distinct event id for the same success.
	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))
	require.NoError(t, f.deliver(t, "evt_2", gateway.EventIntentSucceeded, h.TransactionID, ""))

	assert.Len(t, f.store.History("ord-1"), 1)
	assert.Len(t, f.store.OutboxMessages(), outbox)
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("ord-1").Status)
}

func TestHandleNotification_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eventID := "evt_same"
			if i%2 == 1 {
				eventID = "evt_retry"
			}
			assert.NoError(t, f.deliver(t, eventID, gateway.EventIntentSucceeded, h.TransactionID, ""))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, countHistory(f.store.History("ord-1"), domain.OrderStatusConfirmed))
}

func TestHandleNotification_OutOfOrder(t *testing.T) {
	t.Run("failed after succeeded is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder("ord-1", domain.OrderStatusPending)
		h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
		require.NoError(t, err)

		require.NoError(t, f.deliver(t, "evt_ok", gateway.EventIntentSucceeded, h.TransactionID, ""))
		require.NoError(t, f.deliver(t, "evt_late_fail", gateway.EventIntentFailed, h.TransactionID, ""))

		assert.Equal(t, domain.PaymentStatusSucceeded, f.paymentFor(t, h.TransactionID).Status)
		assert.Equal(t, domain.OrderPaymentSucceeded, f.store.Order("ord-1").PaymentStatus)
	})

	t.Run("succeeded after failed wins", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder("ord-1", domain.OrderStatusPending)
		h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
		require.NoError(t, err)

		require.NoError(t, f.deliver(t, "evt_fail", gateway.EventIntentFailed, h.TransactionID, ""))
		require.NoError(t, f.deliver(t, "evt_ok", gateway.EventIntentSucceeded, h.TransactionID, ""))

		order := f.store.Order("ord-1")
		assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
		assert.Equal(t, domain.OrderPaymentSucceeded, order.PaymentStatus)
	})

	t.Run("succeeded for cancelled order does not resurrect it", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder("ord-1", domain.OrderStatusPending)
		h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
		require.NoError(t, err)
		cancelled := f.store.Order("ord-1")
		cancelled.Status = domain.OrderStatusCancelled
		f.store.SeedOrder(cancelled)

		require.NoError(t, f.deliver(t, "evt_ok", gateway.EventIntentSucceeded, h.TransactionID, ""))

		order := f.store.Order("ord-1")
		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		assert.Equal(t, domain.OrderPaymentSucceeded, order.PaymentStatus)
		assert.Equal(t, domain.PaymentStatusSucceeded, f.paymentFor(t, h.TransactionID).Status)
		assert.Empty(t, f.gw.Refunds, "no automatic refund")
	})
}

func TestHandleNotification_IgnoredAndRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := []byte(`{"id":"evt_other","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
	require.NoError(t, f.svc.HandleNotification(ctx, payload, testutil.SignWebhook(payload, webhookSecret, time.Now())))
	msg, ok := f.store.InboxMessage("evt_other")
	require.True(t, ok)
	assert.Equal(t, domain.InboxStatusIgnored, msg.Status)

	require.NoError(t, f.deliver(t, "evt_unknown_tx", gateway.EventIntentFailed, "pi_unknown", ""))
	msg, ok = f.store.InboxMessage("evt_unknown_tx")
	require.True(t, ok)
	assert.Equal(t, domain.InboxStatusIgnored, msg.Status)

	bad := testutil.IntentEvent("evt_bad", gateway.EventIntentSucceeded, "pi_1", 1, "")
	err := f.svc.HandleNotification(ctx, bad, testutil.SignWebhook(bad, "whsec_wrong", time.Now()))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	_, ok = f.store.InboxMessage("evt_bad")
	assert.False(t, ok)
}

func TestHandleNotification_FailedTransactionIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)

	f.store.FailNextTx = errors.New("commit failed")
	require.Error(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))
	_, ok := f.store.InboxMessage("evt_1")
	assert.False(t, ok, "inbox row rolls back with the rest")

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("ord-1").Status)
}

const orderMetadata = `,"metadata":{"order_id":"ord-1"}`

func TestHandleNotification_CaptureBeforeAttachmentConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder("ord-1", domain.OrderStatusPending)
	f.gw.SeedIntent(gateway.Intent{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})

	// The customer pays the basket transaction after checkout tagged it with
	// the order id but before the order points at it.
	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, "pi_basket", orderMetadata))

	order := f.store.Order("ord-1")
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, domain.OrderPaymentSucceeded, order.PaymentStatus)
	assert.Equal(t, "pi_basket", order.PaymentTransactionID)
	p := f.paymentFor(t, "pi_basket")
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, int64(3500), p.Amount)
	assert.Equal(t, 1, countHistory(f.store.History("ord-1"), domain.OrderStatusConfirmed))

	_, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner,
		&domain.PaymentHandle{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, "pi_basket", orderMetadata))
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("ord-1").Status)
	assert.Len(t, f.store.PaymentsForOrder("ord-1"), 1)
	assert.Equal(t, 1, countHistory(f.store.History("ord-1"), domain.OrderStatusConfirmed))
}

func TestHandleNotification_CaptureSupersedesOpenAttempt(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, "pi_basket", orderMetadata))

	assert.Equal(t, "pi_basket", f.store.Order("ord-1").PaymentTransactionID)
	assert.NotNil(t, f.paymentFor(t, h.TransactionID).SupersededAt)
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("ord-1").Status)
}

func TestHandleNotification_UnattributedCaptureIsRedelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder("ord-1", domain.OrderStatusPending)
	f.gw.SeedIntent(gateway.Intent{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})

	// Paid before checkout: no payment row and no order id yet.
	require.Error(t, f.deliver(t, "evt_early", gateway.EventIntentSucceeded, "pi_basket", ""))
	_, ok := f.store.InboxMessage("evt_early")
	assert.False(t, ok, "the event is not acknowledged")

	require.Error(t, f.deliver(t, "evt_orphan", gateway.EventIntentSucceeded, "pi_other", `,"metadata":{"order_id":"ord-missing"}`))
	_, ok = f.store.InboxMessage("evt_orphan")
	assert.False(t, ok)

	_, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner,
		&domain.PaymentHandle{TransactionID: "pi_basket", ClientSecret: "pi_basket_secret", Amount: 3500})
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_early", gateway.EventIntentSucceeded, "pi_basket", ""))
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("ord-1").Status)
	assert.Equal(t, domain.PaymentStatusSucceeded, f.paymentFor(t, "pi_basket").Status)
}

// lockLog records the order in which rows are locked.
type lockLog struct {
	mu    sync.Mutex
	locks []string
}

func (l *lockLog) add(kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = append(l.locks, kind)
}

func (l *lockLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.locks
	l.locks = nil
	return out
}

type lockingOrders struct {
	order_repo.OrderRepository
	log *lockLog
}

func (r lockingOrders) GetForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Order, error) {
	r.log.add("order")
	return r.OrderRepository.GetForUpdateTx(ctx, q, id)
}

type lockingPayments struct {
	payment_repo.PaymentRepository
	log *lockLog
}

func (r lockingPayments) GetByIDForUpdateTx(ctx context.Context, q domain.Querier, id string) (*domain.Payment, error) {
	r.log.add("payment")
	return r.PaymentRepository.GetByIDForUpdateTx(ctx, q, id)
}

func (r lockingPayments) GetByTransactionIDForUpdateTx(ctx context.Context, q domain.Querier, transactionID string) (*domain.Payment, error) {
	r.log.add("payment")
	return r.PaymentRepository.GetByTransactionIDForUpdateTx(ctx, q, transactionID)
}

func TestRowLocksTakeOrderBeforePayment(t *testing.T) {
	log := &lockLog{}
	f := newFixtureWith(t, func(r *Repositories) {
		r.Orders = lockingOrders{OrderRepository: r.Orders, log: log}
		r.Payments = lockingPayments{PaymentRepository: r.Payments, log: log}
	})
	ctx := context.Background()
	f.seedOrder("ord-1", domain.OrderStatusPending)

	assertOrderFirst := func(t *testing.T, locks []string) {
		t.Helper()
		require.NotEmpty(t, locks)
		assert.Equal(t, "order", locks[0], "locks taken: %v", locks)
	}

	h, err := f.svc.EnsureOrderTransaction(ctx, "ord-1", owner, nil)
	require.NoError(t, err)
	assertOrderFirst(t, log.take())

	require.NoError(t, f.deliver(t, "evt_1", gateway.EventIntentSucceeded, h.TransactionID, ""))
	assertOrderFirst(t, log.take())

	p := f.paymentFor(t, h.TransactionID)
	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentID: p.ID, Amount: cents(500)})
	require.NoError(t, err)
	assertOrderFirst(t, log.take())
}

func settledPayment(f *fixture) *domain.Payment {
	f.seedOrder("ord-1", domain.OrderStatusConfirmed)
	now := time.Now().UTC()
	p := &domain.Payment{
		ID: "pay-1", OrderID: "ord-1", TransactionID: "pi_paid", Amount: 3500, Currency: "usd",
		Status: domain.PaymentStatusSucceeded, ProcessedAt: &now, CreatedAt: now, UpdatedAt: now,
	}
	f.store.SeedPayment(p)
	return p
}

func cents(v int64) *int64 { return &v }

func TestRefund_PartialThenRemainder(t *testing.T) {
	f := newFixture(t)
	settledPayment(f)
	ctx := context.Background()

	res, err := f.svc.Refund(ctx, &RefundRequest{PaymentID: "pay-1", Amount: cents(1000)})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PaymentStatusPartiallyRefunded), res.Status)
	assert.Equal(t, int64(1000), res.RefundedAmount)
	assert.Equal(t, domain.OrderPaymentSucceeded, f.store.Order("ord-1").PaymentStatus)

	res, err = f.svc.Refund(ctx, &RefundRequest{PaymentID: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PaymentStatusRefunded), res.Status)
	assert.Equal(t, int64(3500), res.RefundedAmount)
	assert.Equal(t, domain.OrderPaymentRefunded, f.store.Order("ord-1").PaymentStatus)

	require.Len(t, f.gw.Refunds, 2)
	assert.Equal(t, int64(2500), f.gw.Refunds[1].Amount)
	assert.NotEqual(t, f.gw.Refunds[0].IdempotencyKey, f.gw.Refunds[1].IdempotencyKey)

	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentID: "pay-1", Amount: cents(1)})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
}

func TestRefund_Bounds(t *testing.T) {
	f := newFixture(t)
	settledPayment(f)
	ctx := context.Background()

	for _, v := range []int64{0, -5, 3501} {
		_, err := f.svc.Refund(ctx, &RefundRequest{PaymentID: "pay-1", Amount: cents(v)})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %d", v)
	}
	assert.Empty(t, f.gw.Refunds)
	assert.Zero(t, f.store.Payment("pay-1").RefundedAmount)
}

func TestRefund_GatewayFailureDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	settledPayment(f)
	f.gw.Err = errors.New("gateway down")

	_, err := f.svc.Refund(context.Background(), &RefundRequest{PaymentID: "pay-1"})
	require.ErrorIs(t, err, domain.ErrPaymentGateway)
	p := f.store.Payment("pay-1")
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.Zero(t, p.RefundedAmount)
}

func TestRefund_PendingPaymentNotRefundable(t *testing.T) {
	f := newFixture(t)
	f.seedOrder("ord-1", domain.OrderStatusPending)
	h, err := f.svc.EnsureOrderTransaction(context.Background(), "ord-1", owner, nil)
	require.NoError(t, err)
	p := f.paymentFor(t, h.TransactionID)

	_, err = f.svc.Refund(context.Background(), &RefundRequest{PaymentID: p.ID})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
}
