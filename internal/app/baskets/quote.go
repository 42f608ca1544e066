package baskets

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/repository/inventory_repo"
)

type QuoteLine struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	ProductName string `json:"productName"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	Available   bool   `json:"available"`
}

// Quote prices a basket at current catalog prices.
type Quote struct {
	Lines    []QuoteLine
	Subtotal int64
	Shipping int64
}

func (q *Quote) Total() int64 {
	return q.Subtotal + q.Shipping
}

// Unavailable lists variants that are gone or short on stock.
func (q *Quote) Unavailable() []string {
	var ids []string
	for _, l := range q.Lines {
		if !l.Available {
			ids = append(ids, l.VariantID)
		}
	}
	return ids
}

// QuoteTx reads every line's variant through q. Missing variants are reported
// as unavailable lines rather than errors.
func QuoteTx(ctx context.Context, q domain.Querier, inventory inventory_repo.InventoryRepository, basket *domain.Basket, shipping domain.ShippingPolicy) (*Quote, error) {
	quote := &Quote{}
	if basket == nil {
		return quote, nil
	}
	for _, item := range basket.Items {
		line := QuoteLine{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity}
		v, err := inventory.GetVariantTx(ctx, q, item.VariantID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to price variant %s: %w", item.VariantID, err)
		default:
			line.ProductName = v.ProductName
			line.UnitPrice = v.Price
			line.Available = item.Quantity <= v.Stock
			quote.Subtotal += v.Price * int64(item.Quantity)
		}
		quote.Lines = append(quote.Lines, line)
	}
	if len(quote.Lines) > 0 {
		quote.Shipping = shipping.Cost(quote.Subtotal)
	}
	return quote, nil
}
