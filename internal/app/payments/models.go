package payments

import (
	"time"

	"storefront/internal/domain"
)

type EnsureTransactionRequest struct {
	OrderID string `json:"order_id,omitempty"`
}

type RefundRequest struct {
	PaymentID string `json:"-"`
	// Amount defaults to the full refundable remainder when nil.
	Amount *int64 `json:"amount,omitempty"`
}

type PaymentResponse struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	TransactionID  string     `json:"payment_transaction_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	RefundedAmount int64      `json:"refunded_amount"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func mapPaymentToResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		FailureReason:  p.FailureReason,
		RefundedAmount: p.RefundedAmount,
		ProcessedAt:    p.ProcessedAt,
		CreatedAt:      p.CreatedAt,
	}
}

func paymentEvent(p *domain.Payment, reason string, now time.Time) domain.PaymentEvent {
	return domain.PaymentEvent{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		Reason:         reason,
		Timestamp:      now,
	}
}
