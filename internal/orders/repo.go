package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
)

// ErrStatusChanged reports a conditional status update that matched no row.
var ErrStatusChanged = errors.New("order status changed concurrently")

var (
	// OrderNumberIndex keeps order numbers unique across all inventories.
	OrderNumberIndex = db.UniqueIndex{
		Name:    "ux_orders_order_number",
		Columns: []string{"orders.order_number"},
	}
	historySequenceIndex = db.UniqueIndex{
		Name:    "ux_order_status_events_seq",
		Columns: []string{"order_status_events.order_id", "order_status_events.sequence"},
	}
)

// Repository defines persistence operations for orders and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit int) ([]models.Order, error)
	ListByInventory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected enums.OrderStatus, updates map[string]any) error
	AppendEvent(ctx context.Context, event *models.OrderStatusEvent) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order with its line items and history.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit int) ([]models.Order, error) {
	return r.list(ctx, "pharmacy_id = ?", pharmacyID, limit)
}

func (r *repository) ListByInventory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.Order, error) {
	return r.list(ctx, "inventory_id = ?", inventoryID, limit)
}

func (r *repository) list(ctx context.Context, where string, id uuid.UUID, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where(where, id).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus writes updates only while the stored status still equals
// expected. A miss returns ErrStatusChanged.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, expected enums.OrderStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.OrderStatusEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// DeleteTerminalBefore removes up to limit terminal orders last updated
// before cutoff, together with their line items and history.
func (r *repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status IN ?", []enums.OrderStatus{
			enums.OrderStatusDelivered,
			enums.OrderStatusCancelled,
			enums.OrderStatusRejected,
		}).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.db.WithContext(ctx).Where("order_id IN ?", ids).Delete(&models.OrderStatusEvent{}).Error; err != nil {
		return 0, err
	}
	if err := r.db.WithContext(ctx).Where("order_id IN ?", ids).Delete(&models.OrderLineItem{}).Error; err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Order{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
