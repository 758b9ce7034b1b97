package drugs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

// Repository reads catalog rows. Stock writes live in the stock ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Drug, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Drug, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a drug repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// FindByID returns the drug or a NotFound error.
func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Drug, error) {
	var drug models.Drug
	if err := r.db.WithContext(ctx).First(&drug, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "drug not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load drug")
	}
	return &drug, nil
}

// FindByIDs returns the drugs keyed by id; unknown ids are omitted.
func (r *repositoryImpl) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Drug, error) {
	out := make(map[uuid.UUID]models.Drug, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Drug
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load drugs")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
