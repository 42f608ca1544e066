package orders

import (
	"time"

	"storefront/internal/domain"
)

type CreateOrderRequest struct {
	OwnerKey        string          `json:"-"`
	UserID          string          `json:"-"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// CreateOrderResult carries the basket's provisional transaction, if it had
// one, so the payment step can try to adopt it.
type CreateOrderResult struct {
	Order       *OrderResponse
	Provisional *domain.PaymentHandle
}

type TransitionRequest struct {
	OrderID        string       `json:"-"`
	Status         string       `json:"status"`
	Notes          string       `json:"notes,omitempty"`
	TrackingNumber string       `json:"tracking_number,omitempty"`
	Actor          domain.Actor `json:"-"`
}

type BulkTransitionRequest struct {
	OrderIDs       []string     `json:"order_ids"`
	Status         string       `json:"status"`
	Notes          string       `json:"notes,omitempty"`
	TrackingNumber string       `json:"tracking_number,omitempty"`
	Actor          domain.Actor `json:"-"`
}

type BulkTransitionResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

type OrderItemResponse struct {
	ProductID   string   `json:"product_id"`
	VariantID   string   `json:"variant_id"`
	ProductName string   `json:"product_name"`
	UnitPrice   int64    `json:"unit_price"`
	Quantity    int      `json:"quantity"`
	LineTotal   int64    `json:"line_total"`
	Attributes  []string `json:"attributes,omitempty"`
}

type OrderResponse struct {
	ID                   string              `json:"id"`
	UserID               string              `json:"user_id"`
	OrderDate            time.Time           `json:"order_date"`
	Status               string              `json:"status"`
	PaymentStatus        string              `json:"payment_status"`
	Currency             string              `json:"currency"`
	Subtotal             int64               `json:"subtotal"`
	ShippingCost         int64               `json:"shipping_cost"`
	Total                int64               `json:"total"`
	TrackingNumber       string              `json:"tracking_number,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	PaymentTransactionID string              `json:"payment_transaction_id,omitempty"`
	Items                []OrderItemResponse `json:"items"`
	ShippingAddress      domain.Address      `json:"shipping_address"`
	BillingAddress       domain.Address      `json:"billing_address"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

type HistoryEntryResponse struct {
	FromStatus     string    `json:"from_status,omitempty"`
	ToStatus       string    `json:"to_status"`
	ChangedAt      time.Time `json:"changed_at"`
	Notes          string    `json:"notes,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	UpdatedBy      string    `json:"updated_by"`
}

func mapOrderToResponse(order *domain.Order) *OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemResponse{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal(),
			Attributes:  item.Attributes,
		}
	}
	return &OrderResponse{
		ID:                   order.ID,
		UserID:               order.UserID,
		OrderDate:            order.OrderDate,
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		Currency:             order.Currency,
		Subtotal:             order.Subtotal,
		ShippingCost:         order.ShippingCost,
		Total:                order.Total(),
		TrackingNumber:       order.TrackingNumber,
		Notes:                order.Notes,
		PaymentTransactionID: order.PaymentTransactionID,
		Items:                items,
		ShippingAddress:      order.ShippingAddress,
		BillingAddress:       order.BillingAddress,
		UpdatedAt:            order.UpdatedAt,
	}
}

func mapOrdersToResponse(orders []*domain.Order) []*OrderResponse {
	responses := make([]*OrderResponse, len(orders))
	for i, order := range orders {
		responses[i] = mapOrderToResponse(order)
	}
	return responses
}

func mapHistoryToResponse(history []domain.StatusHistoryEntry) []HistoryEntryResponse {
	responses := make([]HistoryEntryResponse, len(history))
	for i, e := range history {
		responses[i] = HistoryEntryResponse{
			FromStatus:     string(e.FromStatus),
			ToStatus:       string(e.ToStatus),
			ChangedAt:      e.ChangedAt,
			Notes:          e.Notes,
			TrackingNumber: e.TrackingNumber,
			UpdatedBy:      e.UpdatedBy,
		}
	}
	return responses
}
