// Package stock mutates drug stock with single-statement conditional updates.
// Callers never read stock, compute a value, and write it back.
package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

// ErrInsufficientStock is returned when a conditional decrement matched no row.
var ErrInsufficientStock = errors.New("insufficient stock")

// Ledger is the stock read/write surface used by cart, checkout and orders.
type Ledger interface {
	Decrement(ctx context.Context, tx *gorm.DB, drugID uuid.UUID, delta int) error
	Increment(ctx context.Context, tx *gorm.DB, drugID uuid.UUID, delta int) error
	LiveStock(ctx context.Context, drugIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type ledger struct {
	db *gorm.DB
}

// NewLedger binds the ledger to the shared connection used for reads.
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db}
}

// Decrement subtracts delta only if at least delta units remain.
func (l *ledger) Decrement(ctx context.Context, tx *gorm.DB, drugID uuid.UUID, delta int) error {
	if delta <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock delta must be positive")
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock decrement")
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE drugs
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock >= ?
	`, delta, drugID, delta)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// Increment returns delta units to stock.
func (l *ledger) Increment(ctx context.Context, tx *gorm.DB, drugID uuid.UUID, delta int) error {
	if delta <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock delta must be positive")
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock increment")
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE drugs
		SET stock = stock + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, delta, drugID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "drug not found").WithDetails(map[string]any{
			"drug_id": drugID,
		})
	}
	return nil
}

// LiveStock reads current stock for the given drugs. Missing drugs are absent
// from the result. The value is a hint only; Decrement is authoritative.
func (l *ledger) LiveStock(ctx context.Context, drugIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(drugIDs))
	if len(drugIDs) == 0 {
		return out, nil
	}
	var rows []models.Drug
	if err := l.db.WithContext(ctx).
		Select("id", "stock").
		Where("id IN ?", drugIDs).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live stock")
	}
	for _, row := range rows {
		out[row.ID] = row.Stock
	}
	return out, nil
}
