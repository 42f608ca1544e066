package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderPaymentStatus is the order-level view of payment progress.
type OrderPaymentStatus string

const (
	OrderPaymentPending   OrderPaymentStatus = "PENDING"
	OrderPaymentSucceeded OrderPaymentStatus = "SUCCEEDED"
	OrderPaymentFailed    OrderPaymentStatus = "FAILED"
	OrderPaymentRefunded  OrderPaymentStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// ParseOrderStatus accepts any letter case, e.g. "Shipped" or "SHIPPED".
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, s)
}

func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	if strings.TrimSpace(a.FullName) == "" || strings.TrimSpace(a.Line1) == "" ||
		strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.PostalCode) == "" ||
		strings.TrimSpace(a.Country) == "" {
		return fmt.Errorf("%w: address requires full_name, line1, city, postal_code and country", ErrInvalidInput)
	}
	return nil
}

// OrderItem is a snapshot of the catalog line at checkout time. It is never
// updated after the order is created.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	VariantID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
	Attributes  []string
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type Order struct {
	ID                   string
	UserID               string
	OrderDate            time.Time
	Status               OrderStatus
	PaymentStatus        OrderPaymentStatus
	Currency             string
	Subtotal             int64
	ShippingCost         int64
	TrackingNumber       string
	Notes                string
	PaymentTransactionID string
	Items                []OrderItem
	ShippingAddress      Address
	BillingAddress       Address
	UpdatedAt            time.Time
}

func (o *Order) Total() int64 {
	return o.Subtotal + o.ShippingCost
}

// ApplyTransition moves the order to the target status and returns the
// previous one. Tracking numbers may be set or amended but never cleared.
func (o *Order) ApplyTransition(to OrderStatus, trackingNumber string, now time.Time) (OrderStatus, error) {
	from := o.Status
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	trackingNumber = strings.TrimSpace(trackingNumber)
	if to == OrderStatusShipped && trackingNumber == "" {
		return from, ErrTrackingRequired
	}
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.Status = to
	o.UpdatedAt = now
	return from, nil
}

// StatusHistoryEntry is one row of the append-only audit trail.
type StatusHistoryEntry struct {
	ID             string
	OrderID        string
	FromStatus     OrderStatus
	ToStatus       OrderStatus
	ChangedAt      time.Time
	Notes          string
	TrackingNumber string
	UpdatedBy      string
}
