package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/types"
)

// User is a pharmacy or inventory account. Orders reference users by id only.
type User struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Role               enums.UserRole  `gorm:"column:role;type:user_role;not null"`
	Name               string          `gorm:"column:name;not null"`
	Email              string          `gorm:"column:email;not null;uniqueIndex"`
	Phone              string          `gorm:"column:phone"`
	Address            types.Address   `gorm:"column:address;type:jsonb;serializer:json"`
	Geolocation        *types.GeoPoint `gorm:"column:geolocation;type:jsonb;serializer:json"`
	ShippingPriceCents int64           `gorm:"column:shipping_price_cents;not null;default:0"`
	MinOrderValueCents int64           `gorm:"column:min_order_value_cents;not null;default:0"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	return nil
}
