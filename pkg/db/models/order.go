package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/types"
)

// Order is placed by a pharmacy against one inventory. Status only changes
// through the order state machine; History is append-only.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber         string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	PharmacyID          uuid.UUID           `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	InventoryID         uuid.UUID           `gorm:"column:inventory_id;type:uuid;not null;index"`
	Status              enums.OrderStatus   `gorm:"column:status;type:order_status;not null"`
	SubtotalCents       int64               `gorm:"column:subtotal_cents;not null"`
	ShippingCostCents   int64               `gorm:"column:shipping_cost_cents;not null;default:0"`
	TotalCents          int64               `gorm:"column:total_cents;not null"`
	PaymentMethod       enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null"`
	PaidAt              *time.Time          `gorm:"column:paid_at"`
	DeliveryAddress     types.Address       `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	DeliveryGeolocation *types.GeoPoint     `gorm:"column:delivery_geolocation;type:jsonb;serializer:json"`
	DeliveryPhone       string              `gorm:"column:delivery_phone"`
	ActualDeliveryDate  *time.Time          `gorm:"column:actual_delivery_date"`
	CancelReason        *string             `gorm:"column:cancel_reason"`
	Items               []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History             []OrderStatusEvent  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// LastEvent returns the newest history entry, or nil for an unsaved order.
func (o *Order) LastEvent() *OrderStatusEvent {
	if len(o.History) == 0 {
		return nil
	}
	last := &o.History[0]
	for i := range o.History {
		if o.History[i].Sequence > last.Sequence {
			last = &o.History[i]
		}
	}
	return last
}

// OrderLineItem is a frozen copy of a cart line at placement time.
type OrderLineItem struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID              uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	DrugID               uuid.UUID `gorm:"column:drug_id;type:uuid;not null"`
	DrugName             string    `gorm:"column:drug_name;not null"`
	Quantity             int       `gorm:"column:quantity;not null"`
	PaidQuantity         int       `gorm:"column:paid_quantity;not null"`
	FreeQuantity         int       `gorm:"column:free_quantity;not null;default:0"`
	TotalDelivered       int       `gorm:"column:total_delivered;not null"`
	UnitPriceCents       int64     `gorm:"column:unit_price_cents;not null"`
	DiscountedPriceCents *int64    `gorm:"column:discounted_price_cents"`
	LineTotalCents       int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// OrderStatusEvent is one audit entry of an order's status history.
type OrderStatusEvent struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_status_events_seq,priority:1"`
	Sequence  int               `gorm:"column:sequence;not null;uniqueIndex:ux_order_status_events_seq,priority:2"`
	Status    enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	Note      string            `gorm:"column:note"`
	UpdatedBy uuid.UUID         `gorm:"column:updated_by;type:uuid;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
