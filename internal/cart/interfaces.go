package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByPharmacy(ctx context.Context, pharmacyID uuid.UUID) (*models.Cart, error)
	FindByIDAndPharmacy(ctx context.Context, id, pharmacyID uuid.UUID) (*models.Cart, error)
	CreateIfAbsent(ctx context.Context, cart *models.Cart) error
	CreateGroup(ctx context.Context, group *models.CartInventoryGroup) error
	CreateLine(ctx context.Context, line *models.CartLineItem) error
	DeleteLine(ctx context.Context, lineID uuid.UUID) error
	DeleteGroup(ctx context.Context, groupID uuid.UUID) error
	Delete(ctx context.Context, cartID uuid.UUID) error
	SaveTotals(ctx context.Context, cart *models.Cart) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
