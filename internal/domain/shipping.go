package domain

// Default shipping policy constants, in VND.
const (
	StandardShippingFee   Money = 30_000
	FreeShippingThreshold Money = 599_000
)

// ShippingPolicy computes the delivery fee for an order given its subtotal
// after discounts. Implementations must be pure: same inputs, same fee.
type ShippingPolicy interface {
	Fee(subtotal Money, address Address) Money
}

// FlatRatePolicy charges a fixed fee below a free-shipping threshold.
type FlatRatePolicy struct {
	FlatFee       Money
	FreeThreshold Money
}

// Fee implements ShippingPolicy.
func (p FlatRatePolicy) Fee(subtotal Money, _ Address) Money {
	if subtotal <= 0 {
		return 0
	}
	if p.FreeThreshold > 0 && subtotal >= p.FreeThreshold {
		return 0
	}
	return p.FlatFee
}

// DefaultShippingPolicy returns the storefront's standard policy:
// 30,000 VND flat, free at 599,000 VND and above.
func DefaultShippingPolicy() ShippingPolicy {
	return FlatRatePolicy{FlatFee: StandardShippingFee, FreeThreshold: FreeShippingThreshold}
}
