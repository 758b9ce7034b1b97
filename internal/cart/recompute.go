package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/pricing"
)

// Recompute refreshes every line's price snapshot from drugs and rewrites the
// group and cart totals. Lines whose drug is missing keep their last snapshot.
func Recompute(cart *models.Cart, drugs map[uuid.UUID]models.Drug, now time.Time) {
	cart.TotalCartPriceCents = 0
	cart.TotalPriceAfterDiscountCents = 0
	for gi := range cart.Groups {
		group := &cart.Groups[gi]
		group.TotalInventoryPriceCents = 0
		for li := range group.Items {
			line := &group.Items[li]
			var promo pricing.Promotion = pricing.NoPromotion{}
			if drug, ok := drugs[line.DrugID]; ok {
				line.DrugName = drug.Name
				line.UnitPriceCents = drug.PriceCents
				line.DiscountedPriceCents = drug.DiscountedPriceCents
				promo = drug.Promotion(now)
			}
			priced := pricing.PriceLine(pricing.Line{
				UnitPriceCents:       line.UnitPriceCents,
				DiscountedPriceCents: line.DiscountedPriceCents,
				Quantity:             line.Quantity,
				Promotion:            promo,
			})
			line.PaidQuantity = priced.PaidQuantity
			line.FreeQuantity = priced.FreeItems
			line.TotalDelivered = priced.TotalDelivered
			line.LineTotalCents = priced.LineTotalCents

			group.TotalInventoryPriceCents += priced.LineTotalCents
			cart.TotalCartPriceCents += priced.ListTotalCents
			cart.TotalPriceAfterDiscountCents += priced.LineTotalCents
		}
	}
}

// DrugIDs lists the distinct drugs referenced by the cart.
func DrugIDs(cart *models.Cart) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for _, group := range cart.Groups {
		for _, line := range group.Items {
			if _, ok := seen[line.DrugID]; ok {
				continue
			}
			seen[line.DrugID] = struct{}{}
			ids = append(ids, line.DrugID)
		}
	}
	return ids
}
