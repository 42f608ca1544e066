package baskets

type AddItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type BasketResponse struct {
	ID                   string      `json:"id,omitempty"`
	Items                []QuoteLine `json:"items"`
	Subtotal             int64       `json:"subtotal"`
	Shipping             int64       `json:"shipping"`
	Total                int64       `json:"total"`
	Unavailable          []string    `json:"unavailable,omitempty"`
	PaymentTransactionID string      `json:"payment_transaction_id,omitempty"`
}

func (v *BasketView) Response() *BasketResponse {
	items := v.Quote.Lines
	if items == nil {
		items = []QuoteLine{}
	}
	return &BasketResponse{
		ID:                   v.Basket.ID,
		Items:                items,
		Subtotal:             v.Quote.Subtotal,
		Shipping:             v.Quote.Shipping,
		Total:                v.Quote.Total(),
		Unavailable:          v.Quote.Unavailable(),
		PaymentTransactionID: v.Basket.PaymentTransactionID,
	}
}
