package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/testutil"
)

var (
	customer = domain.Actor{UserID: "user-1", Role: domain.RoleCustomer}
	stranger = domain.Actor{UserID: "user-2", Role: domain.RoleCustomer}
	admin    = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
)

var testAddress = domain.Address{
	FullName:   "Ada Lovelace",
	Line1:      "1 Analytical St",
	City:       "London",
	PostalCode: "N1 9GU",
	Country:    "GB",
}

func newTestService(t *testing.T) (OrderService, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore()
	logger := zap.NewNop()
	machine := NewStateMachine(store.Orders(), store.Inventory(), store.Outbox(), "order_status_events", logger)
	svc := NewOrderService(store, store.Orders(), store.Baskets(), store.Inventory(), store.Outbox(), machine,
		Config{
			Currency:         "usd",
			Shipping:         domain.FlatRateShipping{Fee: 500, FreeThreshold: 5000},
			OrderEventsTopic: "order_status_events",
		}, nil, logger)
	return svc, store
}

func seedCatalog(store *testutil.Store) {
	store.SeedVariant(domain.Variant{ID: "var-red-m", ProductID: "prod-shirt", ProductName: "Shirt", Price: 1500, Stock: 3, Attributes: []string{"red", "M"}})
	store.SeedVariant(domain.Variant{ID: "var-mug", ProductID: "prod-mug", ProductName: "Mug", Price: 800, Stock: 10})
}

func seedBasket(store *testutil.Store, items ...domain.BasketItem) {
	store.SeedBasket(&domain.Basket{ID: "basket-1", OwnerKey: "user:user-1", Items: items})
}

func placeOrder(t *testing.T, svc OrderService) *CreateOrderResult {
	t.Helper()
	res, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey:        "user:user-1",
		UserID:          "user-1",
		ShippingAddress: testAddress,
	})
	require.NoError(t, err)
	return res
}

func TestCreateOrder_SnapshotsBasket(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store,
		domain.BasketItem{ProductID: "prod-shirt", VariantID: "var-red-m", Quantity: 2},
		domain.BasketItem{ProductID: "prod-mug", VariantID: "var-mug", Quantity: 1},
	)

	res := placeOrder(t, svc)
	order := res.Order

	assert.Equal(t, string(domain.OrderStatusPending), order.Status)
	assert.Equal(t, string(domain.OrderPaymentPending), order.PaymentStatus)
	assert.Equal(t, int64(3800), order.Subtotal)
	assert.Equal(t, int64(500), order.ShippingCost)
	assert.Equal(t, int64(4300), order.Total)
	assert.Equal(t, testAddress, order.BillingAddress, "billing defaults to shipping")
	require.Len(t, order.Items, 2)
	assert.Nil(t, res.Provisional)

	assert.Equal(t, 1, store.Variant("var-red-m").Stock)
	assert.Equal(t, 9, store.Variant("var-mug").Stock)
	assert.Nil(t, store.BasketByOwner("user:user-1"), "basket is removed on conversion")

	history := store.History(order.ID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OrderStatus(""), history[0].FromStatus)
	assert.Equal(t, domain.OrderStatusPending, history[0].ToStatus)

	msgs := store.OutboxMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EventOrderCreated, msgs[0].MessageType)
	assert.Equal(t, order.ID, msgs[0].Key)
}

func TestCreateOrder_FreeShippingAtThreshold(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 7})

	res := placeOrder(t, svc)
	assert.Equal(t, int64(5600), res.Order.Subtotal)
	assert.Zero(t, res.Order.ShippingCost)
}

func TestCreateOrder_ItemSnapshotIsFrozen(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-red-m", Quantity: 1})

	res := placeOrder(t, svc)
	store.SeedVariant(domain.Variant{ID: "var-red-m", ProductID: "prod-shirt", ProductName: "Renamed", Price: 9999, Stock: 2})

	got, err := svc.GetOrder(context.Background(), res.Order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, "Shirt", got.Items[0].ProductName)
	assert.Equal(t, int64(1500), got.Items[0].UnitPrice)
	assert.Equal(t, []string{"red", "M"}, got.Items[0].Attributes)
}

func TestCreateOrder_RevalidatesStock(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store,
		domain.BasketItem{VariantID: "var-mug", Quantity: 1},
		domain.BasketItem{VariantID: "var-red-m", Quantity: 2},
	)
	// Stock dropped after the items were added.
	store.SeedVariant(domain.Variant{ID: "var-red-m", ProductID: "prod-shirt", ProductName: "Shirt", Price: 1500, Stock: 1})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey: "user:user-1", UserID: "user-1", ShippingAddress: testAddress,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Zero(t, store.OrderCount())
	assert.Equal(t, 10, store.Variant("var-mug").Stock, "no partial reservation survives")
	assert.NotNil(t, store.BasketByOwner("user:user-1"))
	assert.Empty(t, store.OutboxMessages())
}

func TestCreateOrder_MissingVariant(t *testing.T) {
	svc, store := newTestService(t)
	seedBasket(store, domain.BasketItem{VariantID: "var-gone", Quantity: 1})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey: "user:user-1", UserID: "user-1", ShippingAddress: testAddress,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCreateOrder_EmptyOrMissingBasket(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey: "user:user-1", UserID: "user-1", ShippingAddress: testAddress,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seedBasket(store)
	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey: "user:user-1", UserID: "user-1", ShippingAddress: testAddress,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		OwnerKey: "user:user-1", UserID: "user-1", ShippingAddress: domain.Address{FullName: "x"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateOrder_ReturnsProvisionalTransaction(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	store.SeedBasket(&domain.Basket{
		ID: "basket-1", OwnerKey: "user:user-1",
		Items:                []domain.BasketItem{{VariantID: "var-mug", Quantity: 1}},
		PaymentTransactionID: "pi_basket", ClientSecret: "pi_basket_secret", PaymentAmount: 1300,
	})

	res := placeOrder(t, svc)
	require.NotNil(t, res.Provisional)
	assert.Equal(t, "pi_basket", res.Provisional.TransactionID)
	assert.Equal(t, int64(1300), res.Provisional.Amount)
}

func TestTransition_HappyPathWritesHistory(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	id := placeOrder(t, svc).Order.ID
	ctx := context.Background()

	_, err := svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "confirmed", Actor: admin})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "PROCESSING", Actor: admin})
	require.NoError(t, err)
	got, err := svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "SHIPPED", TrackingNumber: "1Z999", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "SHIPPED", got.Status)
	assert.Equal(t, "1Z999", got.TrackingNumber)

	got, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "DELIVERED", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "1Z999", got.TrackingNumber, "tracking number is retained")

	history := store.History(id)
	require.Len(t, history, 5)
	assert.Equal(t, domain.OrderStatusShipped, history[3].ToStatus)
	assert.Equal(t, domain.OrderStatusProcessing, history[3].FromStatus)
	assert.Equal(t, "admin-1", history[3].UpdatedBy)

	var changed int
	for _, m := range store.OutboxMessages() {
		if m.MessageType == domain.EventOrderStatusChanged {
			changed++
		}
	}
	assert.Equal(t, 4, changed)
}

func TestTransition_Rejections(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	id := placeOrder(t, svc).Order.ID
	ctx := context.Background()

	_, err := svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "DELIVERED", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "BOGUS", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: "missing", Status: "CONFIRMED", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "CONFIRMED", Actor: admin})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "PROCESSING", Actor: admin})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "SHIPPED", TrackingNumber: "  ", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrTrackingRequired)

	order := store.Order(id)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Len(t, store.History(id), 3, "rejected transitions leave no history")
}

func TestTransition_CancelReleasesStock(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-red-m", Quantity: 2})
	id := placeOrder(t, svc).Order.ID
	require.Equal(t, 1, store.Variant("var-red-m").Stock)

	_, err := svc.Transition(context.Background(), &TransitionRequest{OrderID: id, Status: "CANCELLED", Notes: "out of region", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Variant("var-red-m").Stock)

	_, err = svc.Transition(context.Background(), &TransitionRequest{OrderID: id, Status: "CONFIRMED", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "cancelled is terminal")
	assert.Equal(t, 3, store.Variant("var-red-m").Stock)
}

func TestTransition_CancelConfirmedOrderReleasesStock(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-red-m", Quantity: 2})
	id := placeOrder(t, svc).Order.ID
	ctx := context.Background()

	_, err := svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "CONFIRMED", Actor: admin})
	require.NoError(t, err)
	require.Equal(t, 1, store.Variant("var-red-m").Stock, "confirmation keeps the reservation")

	res, err := svc.Transition(ctx, &TransitionRequest{OrderID: id, Status: "CANCELLED", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", res.Status)
	assert.Equal(t, 3, store.Variant("var-red-m").Stock)

	history := store.History(id)
	require.Len(t, history, 3)
	assert.Equal(t, domain.OrderStatusConfirmed, history[2].FromStatus)
	assert.Equal(t, domain.OrderStatusCancelled, history[2].ToStatus)
}

func TestTransition_NotificationFailureDoesNotFailTransition(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	id := placeOrder(t, svc).Order.ID
	queued := len(store.OutboxMessages())

	store.FailOutboxWrites = errors.New("outbox unavailable")
	res, err := svc.Transition(context.Background(), &TransitionRequest{OrderID: id, Status: "CONFIRMED", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", res.Status)

	assert.Equal(t, domain.OrderStatusConfirmed, store.Order(id).Status)
	assert.Len(t, store.History(id), 2)
	assert.Len(t, store.OutboxMessages(), queued, "no status event was queued")
}

func TestTransition_StatusChangedEventPayload(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	id := placeOrder(t, svc).Order.ID

	_, err := svc.Transition(context.Background(), &TransitionRequest{OrderID: id, Status: "CONFIRMED", Actor: admin})
	require.NoError(t, err)

	msgs := store.OutboxMessages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "order_status_events", last.Topic)

	var event domain.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(last.Payload, &event))
	assert.Equal(t, id, event.OrderID)
	assert.Equal(t, "PENDING", event.FromStatus)
	assert.Equal(t, "CONFIRMED", event.ToStatus)
	assert.Equal(t, "admin-1", event.ChangedBy)
}

func TestBulkTransition_PartialSuccess(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	first := placeOrder(t, svc).Order.ID
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	second := placeOrder(t, svc).Order.ID
	_, err := svc.Transition(context.Background(), &TransitionRequest{OrderID: second, Status: "CANCELLED", Actor: admin})
	require.NoError(t, err)

	results, err := svc.BulkTransition(context.Background(), &BulkTransitionRequest{
		OrderIDs: []string{first, second, "missing", first},
		Status:   "CONFIRMED",
		Actor:    admin,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "CONFIRMED", results[0].Status)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrInvalidTransition)
	assert.NotEmpty(t, results[1].Error)
	assert.ErrorIs(t, results[2].Err, domain.ErrNotFound)

	_, err = svc.BulkTransition(context.Background(), &BulkTransitionRequest{Status: "CONFIRMED", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancelOrder_OwnerOnly(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 2})
	id := placeOrder(t, svc).Order.ID

	_, err := svc.CancelOrder(context.Background(), id, stranger)
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 8, store.Variant("var-mug").Stock)

	got, err := svc.CancelOrder(context.Background(), id, customer)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", got.Status)
	assert.Equal(t, 10, store.Variant("var-mug").Stock)
}

func TestReads_EnforceVisibility(t *testing.T) {
	svc, store := newTestService(t)
	seedCatalog(store)
	seedBasket(store, domain.BasketItem{VariantID: "var-mug", Quantity: 1})
	id := placeOrder(t, svc).Order.ID
	ctx := context.Background()

	_, err := svc.GetOrder(ctx, id, stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.GetHistory(ctx, id, stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.GetOrder(ctx, id, admin)
	assert.NoError(t, err)
	history, err := svc.GetHistory(ctx, id, customer)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	orders, err := svc.ListUserOrders(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	orders, err = svc.ListUserOrders(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, orders)
}
