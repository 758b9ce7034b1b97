package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/drugs"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/pricing"
)

// Service exposes cart mutations for pharmacies.
type Service interface {
	GetCart(ctx context.Context, pharmacyID uuid.UUID) (*models.Cart, error)
	AddLineItem(ctx context.Context, pharmacyID, drugID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveLineItem(ctx context.Context, pharmacyID, drugID uuid.UUID) (*models.Cart, error)
	RemoveInventoryGroup(ctx context.Context, pharmacyID, inventoryID uuid.UUID) (*models.Cart, error)
	PruneGroup(ctx context.Context, tx *gorm.DB, cart *models.Cart, inventoryID uuid.UUID) (*models.Cart, error)
}

type service struct {
	repo  CartRepository
	tx    txRunner
	drugs drugs.Repository
	now   func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, drugRepo drugs.Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if drugRepo == nil {
		return nil, fmt.Errorf("drug repository required")
	}
	return &service{
		repo:  repo,
		tx:    tx,
		drugs: drugRepo,
		now:   time.Now,
	}, nil
}

// GetCart returns the pharmacy's cart with totals recomputed against current prices.
func (s *service) GetCart(ctx context.Context, pharmacyID uuid.UUID) (*models.Cart, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	var out *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.FindByPharmacy(ctx, pharmacyID)
		if err != nil {
			return mapNotFound(err, "cart not found", "load cart")
		}
		if err := s.recomputeAndSave(ctx, tx, repo, cart); err != nil {
			return err
		}
		out = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddLineItem adds quantity units of a drug to the pharmacy's cart, creating
// the cart and the inventory group on first use.
func (s *service) AddLineItem(ctx context.Context, pharmacyID, drugID uuid.UUID, quantity int) (*models.Cart, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	if drugID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "drug id is required")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	drug, err := s.drugs.FindByID(ctx, drugID)
	if err != nil {
		return nil, err
	}
	if drug.InventoryID == pharmacyID {
		return nil, pkgerrors.New(pkgerrors.CodeOwnDrug, "drug belongs to the requesting account")
	}

	var out *models.Cart
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.findOrCreate(ctx, repo, pharmacyID)
		if err != nil {
			return err
		}

		group := cart.Group(drug.InventoryID)
		if group == nil {
			cart.Groups = append(cart.Groups, models.CartInventoryGroup{CartID: cart.ID, InventoryID: drug.InventoryID})
			group = &cart.Groups[len(cart.Groups)-1]
			if err := repo.CreateGroup(ctx, group); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart group")
			}
		}

		line := findLine(group, drug.ID)
		requested := quantity
		if line != nil {
			requested += line.Quantity
		}
		items := pricing.CalculatePromotionalItems(drug.Promotion(s.now()), requested)
		if items.TotalDelivered > drug.Stock {
			return pkgerrors.New(pkgerrors.CodeOutOfStock, "requested quantity exceeds available stock").WithDetails(map[string]any{
				"drug_id":   drug.ID,
				"requested": items.TotalDelivered,
				"available": drug.Stock,
			})
		}

		if line == nil {
			group.Items = append(group.Items, models.CartLineItem{
				GroupID:              group.ID,
				DrugID:               drug.ID,
				DrugName:             drug.Name,
				Quantity:             requested,
				UnitPriceCents:       drug.PriceCents,
				DiscountedPriceCents: drug.DiscountedPriceCents,
			})
			if err := repo.CreateLine(ctx, &group.Items[len(group.Items)-1]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart line")
			}
		} else {
			line.Quantity = requested
		}

		if err := s.recomputeAndSave(ctx, tx, repo, cart); err != nil {
			return err
		}
		out = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveLineItem drops one drug from the cart. The result is nil once the
// cart has no groups left.
func (s *service) RemoveLineItem(ctx context.Context, pharmacyID, drugID uuid.UUID) (*models.Cart, error) {
	var out *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.FindByPharmacy(ctx, pharmacyID)
		if err != nil {
			return mapNotFound(err, "cart not found", "load cart")
		}
		for gi := range cart.Groups {
			group := &cart.Groups[gi]
			line := findLine(group, drugID)
			if line == nil {
				continue
			}
			if len(group.Items) == 1 {
				out, err = s.pruneGroup(ctx, tx, repo, cart, group.InventoryID)
				return err
			}
			if err := repo.DeleteLine(ctx, line.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
			}
			group.Items = withoutLine(group.Items, line.ID)
			if err := s.recomputeAndSave(ctx, tx, repo, cart); err != nil {
				return err
			}
			out = cart
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveInventoryGroup deletes the pharmacy's group for an inventory. The
// result is nil once the cart has no groups left.
func (s *service) RemoveInventoryGroup(ctx context.Context, pharmacyID, inventoryID uuid.UUID) (*models.Cart, error) {
	var out *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.FindByPharmacy(ctx, pharmacyID)
		if err != nil {
			return mapNotFound(err, "cart not found", "load cart")
		}
		out, err = s.pruneGroup(ctx, tx, repo, cart, inventoryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PruneGroup removes a committed group inside the caller's transaction.
func (s *service) PruneGroup(ctx context.Context, tx *gorm.DB, cart *models.Cart, inventoryID uuid.UUID) (*models.Cart, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for cart prune")
	}
	return s.pruneGroup(ctx, tx, s.repo.WithTx(tx), cart, inventoryID)
}

func (s *service) pruneGroup(ctx context.Context, tx *gorm.DB, repo CartRepository, cart *models.Cart, inventoryID uuid.UUID) (*models.Cart, error) {
	group := cart.Group(inventoryID)
	if group == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart group not found")
	}
	if err := repo.DeleteGroup(ctx, group.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart group")
	}

	remaining := make([]models.CartInventoryGroup, 0, len(cart.Groups))
	for _, g := range cart.Groups {
		if g.ID != group.ID {
			remaining = append(remaining, g)
		}
	}
	cart.Groups = remaining

	if len(cart.Groups) == 0 {
		if err := repo.Delete(ctx, cart.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart")
		}
		return nil, nil
	}
	if err := s.recomputeAndSave(ctx, tx, repo, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *service) findOrCreate(ctx context.Context, repo CartRepository, pharmacyID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByPharmacy(ctx, pharmacyID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	if err := repo.CreateIfAbsent(ctx, &models.Cart{PharmacyID: pharmacyID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	// reload: a concurrent request may have won the insert
	cart, err = repo.FindByPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}
	return cart, nil
}

func (s *service) recomputeAndSave(ctx context.Context, tx *gorm.DB, repo CartRepository, cart *models.Cart) error {
	current, err := s.drugs.WithTx(tx).FindByIDs(ctx, DrugIDs(cart))
	if err != nil {
		return err
	}
	Recompute(cart, current, s.now())
	if err := repo.SaveTotals(ctx, cart); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart totals")
	}
	return nil
}

func findLine(group *models.CartInventoryGroup, drugID uuid.UUID) *models.CartLineItem {
	for i := range group.Items {
		if group.Items[i].DrugID == drugID {
			return &group.Items[i]
		}
	}
	return nil
}

func withoutLine(items []models.CartLineItem, lineID uuid.UUID) []models.CartLineItem {
	out := items[:0]
	for _, item := range items {
		if item.ID != lineID {
			out = append(out, item)
		}
	}
	return out
}

func mapNotFound(err error, notFoundMsg, wrapMsg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, wrapMsg)
}
