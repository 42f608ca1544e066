package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"storefront/internal/domain"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

type NotificationKind string

const (
	NotificationSucceeded NotificationKind = "succeeded"
	NotificationFailed    NotificationKind = "failed"
	NotificationIgnored   NotificationKind = "ignored"
)

// Notification is a verified gateway event reduced to what reconciliation needs.
type Notification struct {
	EventID       string
	EventType     string
	Kind          NotificationKind
	TransactionID string
	Amount        int64
	Currency      string
	FailureReason string
	OrderID       string
}

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Parse checks the HMAC-SHA256 signature header against the raw payload and
// decodes the event. Any signature problem is reported as
// domain.ErrInvalidSignature without further detail.
func (v *Verifier) Parse(payload []byte, signatureHeader string) (Notification, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, v.secret, v.tolerance); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Notification{}, fmt.Errorf("%w: malformed event: %v", domain.ErrInvalidInput, err)
	}
	if event.ID == "" {
		return Notification{}, fmt.Errorf("%w: event id is missing", domain.ErrInvalidInput)
	}

	n := Notification{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      NotificationIgnored,
	}
	switch n.EventType {
	case EventIntentSucceeded:
		n.Kind = NotificationSucceeded
	case EventIntentFailed, EventIntentCanceled:
		n.Kind = NotificationFailed
	default:
		return n, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return Notification{}, fmt.Errorf("%w: event %s has no data object", domain.ErrInvalidInput, event.ID)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return Notification{}, fmt.Errorf("%w: malformed payment intent: %v", domain.ErrInvalidInput, err)
	}
	if intent.ID == "" {
		return Notification{}, fmt.Errorf("%w: event %s has no transaction id", domain.ErrInvalidInput, event.ID)
	}

	n.TransactionID = intent.ID
	n.Amount = intent.Amount
	n.Currency = string(intent.Currency)
	n.OrderID = intent.Metadata[MetadataOrderID]
	if n.Kind == NotificationFailed {
		n.FailureReason = failureReason(n.EventType, &intent)
	}
	return n, nil
}

func failureReason(eventType string, intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil {
		if intent.LastPaymentError.Msg != "" {
			return intent.LastPaymentError.Msg
		}
		if intent.LastPaymentError.Code != "" {
			return string(intent.LastPaymentError.Code)
		}
	}
	if eventType == EventIntentCanceled {
		if intent.CancellationReason != "" {
			return "canceled: " + string(intent.CancellationReason)
		}
		return "canceled"
	}
	return "payment failed"
}
