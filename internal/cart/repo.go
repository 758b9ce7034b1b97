package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
)

// Repository persists carts with their inventory groups and line items.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Groups.Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") })
}

// FindByPharmacy loads the open cart of a pharmacy.
func (r *Repository) FindByPharmacy(ctx context.Context, pharmacyID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.preloaded(ctx).Where("pharmacy_id = ?", pharmacyID).First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindByIDAndPharmacy returns a cart restricted to its owning pharmacy.
func (r *Repository) FindByIDAndPharmacy(ctx context.Context, id, pharmacyID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.preloaded(ctx).Where("id = ? AND pharmacy_id = ?", id, pharmacyID).First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateIfAbsent inserts an empty cart unless the pharmacy already has one.
func (r *Repository) CreateIfAbsent(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).
		Omit("Groups").
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pharmacy_id"}}, DoNothing: true}).
		Create(cart).Error
}

func (r *Repository) CreateGroup(ctx context.Context, group *models.CartInventoryGroup) error {
	return r.db.WithContext(ctx).Omit("Items").Create(group).Error
}

func (r *Repository) CreateLine(ctx context.Context, line *models.CartLineItem) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *Repository) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", lineID).Delete(&models.CartLineItem{}).Error
}

// DeleteGroup removes a group and its lines.
func (r *Repository) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Where("group_id = ?", groupID).Delete(&models.CartLineItem{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", groupID).Delete(&models.CartInventoryGroup{}).Error
}

// Delete removes the cart row and anything still attached to it.
func (r *Repository) Delete(ctx context.Context, cartID uuid.UUID) error {
	tx := r.db.WithContext(ctx)
	groupIDs := tx.Model(&models.CartInventoryGroup{}).Select("id").Where("cart_id = ?", cartID)
	if err := tx.Where("group_id IN (?)", groupIDs).Delete(&models.CartLineItem{}).Error; err != nil {
		return err
	}
	if err := tx.Where("cart_id = ?", cartID).Delete(&models.CartInventoryGroup{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", cartID).Delete(&models.Cart{}).Error
}

// SaveTotals writes the recomputed snapshot of every line, group and the cart.
func (r *Repository) SaveTotals(ctx context.Context, cart *models.Cart) error {
	tx := r.db.WithContext(ctx)
	for gi := range cart.Groups {
		group := &cart.Groups[gi]
		for li := range group.Items {
			line := &group.Items[li]
			if err := tx.Model(&models.CartLineItem{}).Where("id = ?", line.ID).Updates(map[string]any{
				"drug_name":              line.DrugName,
				"quantity":               line.Quantity,
				"unit_price_cents":       line.UnitPriceCents,
				"discounted_price_cents": line.DiscountedPriceCents,
				"paid_quantity":          line.PaidQuantity,
				"free_quantity":          line.FreeQuantity,
				"total_delivered":        line.TotalDelivered,
				"line_total_cents":       line.LineTotalCents,
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.CartInventoryGroup{}).Where("id = ?", group.ID).
			Update("total_inventory_price_cents", group.TotalInventoryPriceCents).Error; err != nil {
			return err
		}
	}
	return tx.Model(&models.Cart{}).Where("id = ?", cart.ID).Updates(map[string]any{
		"total_cart_price_cents":           cart.TotalCartPriceCents,
		"total_price_after_discount_cents": cart.TotalPriceAfterDiscountCents,
	}).Error
}
