// Package pricing holds the promotional quantity and price arithmetic shared by
// the cart and the order reconciler. Every function here is pure.
package pricing

import (
	"time"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
)

// Promotion is the closed set of promotion rules a drug can carry.
type Promotion interface {
	Kind() enums.PromotionKind
	isPromotion()
}

// NoPromotion applies no adjustment.
type NoPromotion struct{}

func (NoPromotion) Kind() enums.PromotionKind { return enums.PromotionKindNone }
func (NoPromotion) isPromotion()              {}

// BuyNGetMFree grants FreeQuantity units for every BuyQuantity units purchased.
type BuyNGetMFree struct {
	BuyQuantity  int
	FreeQuantity int
}

func (BuyNGetMFree) Kind() enums.PromotionKind { return enums.PromotionKindBuyNGetMFree }
func (BuyNGetMFree) isPromotion()              {}

func (b BuyNGetMFree) active() bool {
	return b.BuyQuantity > 0 && b.FreeQuantity > 0
}

// PromotionFromFields rebuilds the variant from its column representation.
// An expired or malformed rule resolves to NoPromotion.
func PromotionFromFields(kind enums.PromotionKind, buy, free int, endsAt *time.Time, now time.Time) Promotion {
	if kind != enums.PromotionKindBuyNGetMFree {
		return NoPromotion{}
	}
	if endsAt != nil && endsAt.Before(now) {
		return NoPromotion{}
	}
	promo := BuyNGetMFree{BuyQuantity: buy, FreeQuantity: free}
	if !promo.active() {
		return NoPromotion{}
	}
	return promo
}

// PromotionalItems is the quantity breakdown for one line.
type PromotionalItems struct {
	FullOffers     int `json:"full_offers"`
	FreeItems      int `json:"free_items"`
	PaidQuantity   int `json:"paid_quantity"`
	TotalDelivered int `json:"total_delivered"`
}

// CalculatePromotionalItems splits a requested quantity into paid and free units.
// Stock is checked against TotalDelivered; revenue uses PaidQuantity.
func CalculatePromotionalItems(promo Promotion, quantity int) PromotionalItems {
	if quantity < 0 {
		quantity = 0
	}
	bogo, ok := promo.(BuyNGetMFree)
	if !ok || !bogo.active() {
		return PromotionalItems{PaidQuantity: quantity, TotalDelivered: quantity}
	}
	fullOffers := quantity / bogo.BuyQuantity
	free := fullOffers * bogo.FreeQuantity
	paid := fullOffers*bogo.BuyQuantity + quantity%bogo.BuyQuantity
	return PromotionalItems{
		FullOffers:     fullOffers,
		FreeItems:      free,
		PaidQuantity:   paid,
		TotalDelivered: paid + free,
	}
}
