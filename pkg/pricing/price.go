package pricing

// EffectiveUnitPrice returns the discounted price when it undercuts the list price.
func EffectiveUnitPrice(priceCents int64, discountedCents *int64) int64 {
	if discountedCents == nil {
		return priceCents
	}
	if d := *discountedCents; d > 0 && d < priceCents {
		return d
	}
	return priceCents
}

// Line is the input needed to price one cart or order line.
type Line struct {
	UnitPriceCents       int64
	DiscountedPriceCents *int64
	Quantity             int
	Promotion            Promotion
}

// LinePrice is the priced breakdown of a Line.
type LinePrice struct {
	PromotionalItems
	ListTotalCents int64
	LineTotalCents int64
}

// PriceLine computes the list and promotion-adjusted totals for a line.
func PriceLine(line Line) LinePrice {
	promo := line.Promotion
	if promo == nil {
		promo = NoPromotion{}
	}
	items := CalculatePromotionalItems(promo, line.Quantity)
	effective := EffectiveUnitPrice(line.UnitPriceCents, line.DiscountedPriceCents)
	return LinePrice{
		PromotionalItems: items,
		ListTotalCents:   line.UnitPriceCents * int64(items.PaidQuantity),
		LineTotalCents:   effective * int64(items.PaidQuantity),
	}
}

// OrderTotals is the frozen pricing of an order.
type OrderTotals struct {
	SubtotalCents     int64
	ShippingCostCents int64
	TotalCents        int64
}

// ComputeOrderTotals sums line totals and adds the inventory shipping price.
func ComputeOrderTotals(lineTotals []int64, shippingCents int64) OrderTotals {
	var subtotal int64
	for _, v := range lineTotals {
		subtotal += v
	}
	if shippingCents < 0 {
		shippingCents = 0
	}
	return OrderTotals{
		SubtotalCents:     subtotal,
		ShippingCostCents: shippingCents,
		TotalCents:        subtotal + shippingCents,
	}
}
