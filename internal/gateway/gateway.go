package gateway

import "context"

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
)

// Intent is the gateway-side transaction a customer completes payment against.
type Intent struct {
	TransactionID string
	ClientSecret  string
	Amount        int64
	Currency      string
	Status        IntentStatus
}

type CreateIntentRequest struct {
	Amount   int64
	Currency string
	// Metadata is echoed back on gateway notifications.
	Metadata       map[string]string
	IdempotencyKey string
}

type UpdateIntentRequest struct {
	TransactionID string
	Amount        int64
	Metadata      map[string]string
}

type RefundRequest struct {
	TransactionID  string
	Amount         int64
	IdempotencyKey string
}

type Refund struct {
	ID            string
	TransactionID string
	Amount        int64
	Status        string
}

// Gateway is the outbound contract with the payment service provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	UpdateIntent(ctx context.Context, req UpdateIntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

const (
	MetadataOrderID  = "order_id"
	MetadataBasketID = "basket_id"
)
