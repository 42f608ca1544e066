package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTrackingRequired  = errors.New("tracking number required")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrNotRefundable     = errors.New("payment not refundable")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrPaymentGateway    = errors.New("payment gateway error")
)
