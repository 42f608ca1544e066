package domain

type ShippingPolicy interface {
	Cost(subtotal int64) int64
}

// FlatRateShipping charges Fee on every order below FreeThreshold. A zero
// threshold disables free shipping.
type FlatRateShipping struct {
	Fee           int64
	FreeThreshold int64
}

func (s FlatRateShipping) Cost(subtotal int64) int64 {
	if s.FreeThreshold > 0 && subtotal >= s.FreeThreshold {
		return 0
	}
	return s.Fee
}
