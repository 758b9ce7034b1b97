package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart is the single open cart of a pharmacy. Totals are derived from the
// groups and rewritten on every recompute.
type Cart struct {
	ID                           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PharmacyID                   uuid.UUID            `gorm:"column:pharmacy_id;type:uuid;not null;uniqueIndex:ux_carts_pharmacy"`
	TotalCartPriceCents          int64                `gorm:"column:total_cart_price_cents;not null;default:0"`
	TotalPriceAfterDiscountCents int64                `gorm:"column:total_price_after_discount_cents;not null;default:0"`
	Groups                       []CartInventoryGroup `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt                    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// Group returns the inventory group for inventoryID, if present.
func (c *Cart) Group(inventoryID uuid.UUID) *CartInventoryGroup {
	for i := range c.Groups {
		if c.Groups[i].InventoryID == inventoryID {
			return &c.Groups[i]
		}
	}
	return nil
}

// CartInventoryGroup holds the lines a cart has against one inventory.
type CartInventoryGroup struct {
	ID                       uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	CartID                   uuid.UUID      `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_groups_inventory,priority:1"`
	InventoryID              uuid.UUID      `gorm:"column:inventory_id;type:uuid;not null;uniqueIndex:ux_cart_groups_inventory,priority:2"`
	TotalInventoryPriceCents int64          `gorm:"column:total_inventory_price_cents;not null;default:0"`
	Items                    []CartLineItem `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	CreatedAt                time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartInventoryGroup) TableName() string { return "cart_inventory_groups" }

func (g *CartInventoryGroup) BeforeCreate(*gorm.DB) error {
	assignID(&g.ID)
	return nil
}

// CartLineItem is one drug in a group with its price snapshot.
type CartLineItem struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	GroupID              uuid.UUID `gorm:"column:group_id;type:uuid;not null;uniqueIndex:ux_cart_items_drug,priority:1"`
	DrugID               uuid.UUID `gorm:"column:drug_id;type:uuid;not null;uniqueIndex:ux_cart_items_drug,priority:2"`
	DrugName             string    `gorm:"column:drug_name;not null"`
	Quantity             int       `gorm:"column:quantity;not null"`
	UnitPriceCents       int64     `gorm:"column:unit_price_cents;not null"`
	DiscountedPriceCents *int64    `gorm:"column:discounted_price_cents"`
	PaidQuantity         int       `gorm:"column:paid_quantity;not null;default:0"`
	FreeQuantity         int       `gorm:"column:free_quantity;not null;default:0"`
	TotalDelivered       int       `gorm:"column:total_delivered;not null;default:0"`
	LineTotalCents       int64     `gorm:"column:line_total_cents;not null;default:0"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartLineItem) TableName() string { return "cart_line_items" }

func (i *CartLineItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
