package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
)

// OrderCreatedEvent signals a pharmacy placed an order with an inventory.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	PharmacyID  uuid.UUID `json:"pharmacy_id"`
	InventoryID uuid.UUID `json:"inventory_id"`
	TotalCents  int64     `json:"total_cents"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is emitted for every committed transition after
// creation. Cancellations and rejections carry the same shape under their
// own event types.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	PharmacyID     uuid.UUID         `json:"pharmacy_id"`
	InventoryID    uuid.UUID         `json:"inventory_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Status         enums.OrderStatus `json:"status"`
	Note           string            `json:"note,omitempty"`
	ActorID        uuid.UUID         `json:"actor_id"`
}
