package cart

import "github.com/shopspring/decimal"

var (
	// TaxRate is applied to the subtotal.
	TaxRate = decimal.RequireFromString("0.10")
	// FreeShippingThreshold is the subtotal above which shipping is free.
	FreeShippingThreshold = decimal.NewFromInt(100)
	// FlatShipping is charged up to and including the threshold.
	FlatShipping = decimal.NewFromInt(10)
)

// Totals are the derived money fields of a cart.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// DeriveTotals computes the totals of items. Every field is computed from
// the unrounded subtotal and then rounded to cents on its own, so Total is
// not necessarily the sum of the rounded parts. An empty cart has all-zero
// totals.
func DeriveTotals(items []Item) Totals {
	if len(items) == 0 {
		return Totals{
			Subtotal: decimal.Zero,
			Tax:      decimal.Zero,
			Shipping: decimal.Zero,
			Total:    decimal.Zero,
		}
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	tax := subtotal.Mul(TaxRate)
	shipping := FlatShipping
	if subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	total := subtotal.Add(tax).Add(shipping)

	return Totals{
		Subtotal: subtotal.Round(2),
		Tax:      tax.Round(2),
		Shipping: shipping.Round(2),
		Total:    total.Round(2),
	}
}
