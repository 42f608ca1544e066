package domain

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type Payment struct {
	ID             string
	OrderID        string
	TransactionID  string
	Amount         int64
	Currency       string
	Status         PaymentStatus
	FailureReason  string
	RefundedAmount int64
	ProcessedAt    *time.Time
	SupersededAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settled reports whether the gateway has captured funds for this attempt.
func (p *Payment) Settled() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// Active reports whether this is an open attempt a customer can still pay.
func (p *Payment) Active() bool {
	return p.Status == PaymentStatusPending && p.SupersededAt == nil
}

func (p *Payment) Refundable() int64 {
	return p.Amount - p.RefundedAmount
}

// ApplyRefund records a refund that the gateway has already executed.
func (p *Payment) ApplyRefund(amount int64, now time.Time) error {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return fmt.Errorf("%w: payment %s is %s", ErrNotRefundable, p.ID, p.Status)
	}
	if amount <= 0 || amount > p.Refundable() {
		return fmt.Errorf("%w: requested %d, refundable %d", ErrInvalidAmount, amount, p.Refundable())
	}
	p.RefundedAmount += amount
	if p.Refundable() == 0 {
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = now
	return nil
}

// PaymentHandle is what the client needs to complete payment directly with
// the gateway.
type PaymentHandle struct {
	TransactionID string `json:"paymentTransactionId"`
	ClientSecret  string `json:"clientSecret"`
	Amount        int64  `json:"amount"`
}
