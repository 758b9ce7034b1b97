package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/pricing"
)

// Drug is a catalog entry owned by an inventory. Stock only changes through
// atomic increments in the stock ledger.
type Drug struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID           uuid.UUID           `gorm:"column:inventory_id;type:uuid;not null;index"`
	Name                  string              `gorm:"column:name;not null"`
	PriceCents            int64               `gorm:"column:price_cents;not null"`
	DiscountedPriceCents  *int64              `gorm:"column:discounted_price_cents"`
	Stock                 int                 `gorm:"column:stock;not null;check:stock >= 0"`
	PromotionKind         enums.PromotionKind `gorm:"column:promotion_kind;type:promotion_kind;not null;default:'none'"`
	PromotionBuyQuantity  int                 `gorm:"column:promotion_buy_quantity;not null;default:0"`
	PromotionFreeQuantity int                 `gorm:"column:promotion_free_quantity;not null;default:0"`
	PromotionEndsAt       *time.Time          `gorm:"column:promotion_ends_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *Drug) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	if d.PromotionKind == "" {
		d.PromotionKind = enums.PromotionKindNone
	}
	return nil
}

// Promotion resolves the stored rule into its variant as of now.
func (d Drug) Promotion(now time.Time) pricing.Promotion {
	return pricing.PromotionFromFields(d.PromotionKind, d.PromotionBuyQuantity, d.PromotionFreeQuantity, d.PromotionEndsAt, now)
}
