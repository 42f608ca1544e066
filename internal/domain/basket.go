package domain

import "time"

type BasketItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Basket holds pending selections for an owner key, which is either a user id
// or an anonymous token issued by the session layer.
type Basket struct {
	ID                   string
	OwnerKey             string
	Items                []BasketItem
	PaymentTransactionID string
	ClientSecret         string
	PaymentAmount        int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (b *Basket) IsEmpty() bool {
	return b == nil || len(b.Items) == 0
}

// Variant is the catalog/inventory view the converter reads at checkout.
type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	Price       int64
	Stock       int
	Attributes  []string
}
