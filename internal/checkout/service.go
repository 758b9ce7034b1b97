package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/cart"
	"github.com/angelmondragon/pharmalink-backend/internal/drugs"
	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/internal/stock"
	pkgcheckout "github.com/angelmondragon/pharmalink-backend/pkg/checkout"
	"github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

// maxOrderNumberAttempts bounds retries after an order number collision.
const maxOrderNumberAttempts = 3

var errOrderNumberTaken = errors.New("order number taken")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type groupPruner interface {
	PruneGroup(ctx context.Context, tx *gorm.DB, cart *models.Cart, inventoryID uuid.UUID) (*models.Cart, error)
}

type profileLoader interface {
	FindByIDAndRole(ctx context.Context, id uuid.UUID, role enums.UserRole) (*models.User, error)
}

type numberSource interface {
	Next(ctx context.Context, inventoryID uuid.UUID, at time.Time) (string, error)
}

type orderRecorder interface {
	IncCreated()
	IncStockConflict()
}

// CreateOrderInput identifies the cart group a pharmacy commits.
type CreateOrderInput struct {
	PharmacyID    uuid.UUID
	CartID        uuid.UUID
	InventoryID   uuid.UUID
	PaymentMethod enums.PaymentMethod
	Note          string
}

// Service turns one cart inventory group into an order.
type Service interface {
	CreateOrderFromCart(ctx context.Context, input CreateOrderInput) (*models.Order, error)
}

type service struct {
	tx         txRunner
	carts      cart.CartRepository
	pruner     groupPruner
	drugs      drugs.Repository
	stock      stock.Ledger
	profiles   profileLoader
	orders     orders.Repository
	numbers    numberSource
	dispatcher notifications.Dispatcher
	metrics    orderRecorder
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the reconciler. metrics may be nil.
func NewService(
	tx txRunner,
	carts cart.CartRepository,
	pruner groupPruner,
	drugRepo drugs.Repository,
	ledger stock.Ledger,
	profiles profileLoader,
	ordersRepo orders.Repository,
	numbers numberSource,
	dispatcher notifications.Dispatcher,
	metrics orderRecorder,
	logg *logger.Logger,
) (Service, error) {
	switch {
	case tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case pruner == nil:
		return nil, fmt.Errorf("cart pruner required")
	case drugRepo == nil:
		return nil, fmt.Errorf("drug repository required")
	case ledger == nil:
		return nil, fmt.Errorf("stock ledger required")
	case profiles == nil:
		return nil, fmt.Errorf("profile loader required")
	case ordersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case numbers == nil:
		return nil, fmt.Errorf("order number source required")
	case dispatcher == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:         tx,
		carts:      carts,
		pruner:     pruner,
		drugs:      drugRepo,
		stock:      ledger,
		profiles:   profiles,
		orders:     ordersRepo,
		numbers:    numbers,
		dispatcher: dispatcher,
		metrics:    metrics,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func (s *service) CreateOrderFromCart(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"pharmacy_id":  input.PharmacyID.String(),
		"inventory_id": input.InventoryID.String(),
		"cart_id":      input.CartID.String(),
	})
	now := s.now().UTC()

	_, group, err := s.loadGroup(ctx, s.carts, s.drugs, input, now)
	if err != nil {
		return nil, err
	}
	if err := s.checkLiveStock(ctx, group); err != nil {
		s.recordStockConflict()
		return nil, err
	}

	inventory, err := s.profiles.FindByIDAndRole(ctx, input.InventoryID, enums.UserRoleInventory)
	if err != nil {
		return nil, err
	}
	pharmacy, err := s.profiles.FindByIDAndRole(ctx, input.PharmacyID, enums.UserRolePharmacy)
	if err != nil {
		return nil, err
	}
	if err := pkgcheckout.ValidateMinimumOrderValue(group.TotalInventoryPriceCents, inventory.MinOrderValueCents); err != nil {
		return nil, err
	}

	var order *models.Order
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order, err = s.commit(ctx, input, inventory, pharmacy, now)
		if !errors.Is(err, errOrderNumberTaken) {
			break
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "order number collision, regenerating")
	}
	if errors.Is(err, errOrderNumberTaken) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStockUnavailable) {
			s.recordStockConflict()
		}
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(ctx, "order created")
	if s.metrics != nil {
		s.metrics.IncCreated()
	}
	s.dispatcher.Dispatch(ctx, notifications.Notice{
		Event:       enums.EventOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		PharmacyID:  order.PharmacyID,
		InventoryID: order.InventoryID,
		Status:      order.Status,
		Note:        input.Note,
		TotalCents:  order.TotalCents,
		ItemCount:   len(order.Items),
		ActorID:     input.PharmacyID,
		ActorRole:   enums.UserRolePharmacy,
		OccurredAt:  now,
	})
	return order, nil
}

// commit runs one attempt of the write path. The cart is reloaded inside the
// transaction so two checkouts of the same group cannot both succeed.
func (s *service) commit(ctx context.Context, input CreateOrderInput, inventory, pharmacy *models.User, now time.Time) (*models.Order, error) {
	number, err := s.numbers.Next(ctx, input.InventoryID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate order number")
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRow, group, err := s.loadGroup(ctx, s.carts.WithTx(tx), s.drugs.WithTx(tx), input, now)
		if err != nil {
			return err
		}
		// Prices may have moved since the first read.
		if err := pkgcheckout.ValidateMinimumOrderValue(group.TotalInventoryPriceCents, inventory.MinOrderValueCents); err != nil {
			return err
		}

		order = buildOrder(input, group, inventory, pharmacy, number, now)
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, orders.OrderNumberIndex) {
				return errOrderNumberTaken
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if err := s.decrementStock(ctx, tx, group); err != nil {
			return err
		}
		if _, err := s.pruner.PruneGroup(ctx, tx, cartRow, input.InventoryID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// loadGroup returns the cart and the group for the inventory with every line
// repriced against current drug rows.
func (s *service) loadGroup(ctx context.Context, carts cart.CartRepository, drugRepo drugs.Repository, input CreateOrderInput, now time.Time) (*models.Cart, *models.CartInventoryGroup, error) {
	row, err := carts.FindByIDAndPharmacy(ctx, input.CartID, input.PharmacyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	group := row.Group(input.InventoryID)
	if group == nil || len(group.Items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart group not found")
	}

	current, err := drugRepo.FindByIDs(ctx, cart.DrugIDs(row))
	if err != nil {
		return nil, nil, err
	}
	cart.Recompute(row, current, now)
	return row, row.Group(input.InventoryID), nil
}

func (s *service) checkLiveStock(ctx context.Context, group *models.CartInventoryGroup) error {
	ids := make([]uuid.UUID, 0, len(group.Items))
	for _, line := range group.Items {
		ids = append(ids, line.DrugID)
	}
	live, err := s.stock.LiveStock(ctx, ids)
	if err != nil {
		return err
	}
	inputs := make([]pkgcheckout.StockValidationInput, 0, len(group.Items))
	for _, line := range group.Items {
		inputs = append(inputs, pkgcheckout.StockValidationInput{
			DrugID:    line.DrugID,
			DrugName:  line.DrugName,
			Requested: line.TotalDelivered,
			Available: live[line.DrugID],
		})
	}
	return pkgcheckout.ValidateStock(inputs)
}

// decrementStock walks lines in drug id order so concurrent checkouts lock
// rows in the same sequence.
func (s *service) decrementStock(ctx context.Context, tx *gorm.DB, group *models.CartInventoryGroup) error {
	lines := append([]models.CartLineItem(nil), group.Items...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].DrugID.String() < lines[j].DrugID.String() })

	for _, line := range lines {
		if line.TotalDelivered <= 0 {
			continue
		}
		err := s.stock.Decrement(ctx, tx, line.DrugID, line.TotalDelivered)
		if errors.Is(err, stock.ErrInsufficientStock) {
			available := 0
			if drug, findErr := s.drugs.WithTx(tx).FindByID(ctx, line.DrugID); findErr == nil {
				available = drug.Stock
			}
			return pkgcheckout.StockUnavailable([]pkgcheckout.StockViolationDetail{{
				DrugID:    line.DrugID,
				DrugName:  line.DrugName,
				Requested: line.TotalDelivered,
				Available: available,
			}})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func buildOrder(input CreateOrderInput, group *models.CartInventoryGroup, inventory, pharmacy *models.User, number string, now time.Time) *models.Order {
	items := make([]models.OrderLineItem, 0, len(group.Items))
	var subtotal int64
	for _, line := range group.Items {
		items = append(items, models.OrderLineItem{
			DrugID:               line.DrugID,
			DrugName:             line.DrugName,
			Quantity:             line.Quantity,
			PaidQuantity:         line.PaidQuantity,
			FreeQuantity:         line.FreeQuantity,
			TotalDelivered:       line.TotalDelivered,
			UnitPriceCents:       line.UnitPriceCents,
			DiscountedPriceCents: line.DiscountedPriceCents,
			LineTotalCents:       line.LineTotalCents,
		})
		subtotal += line.LineTotalCents
	}

	shipping := inventory.ShippingPriceCents
	return &models.Order{
		OrderNumber:         number,
		PharmacyID:          input.PharmacyID,
		InventoryID:         input.InventoryID,
		Status:              enums.OrderStatusPending,
		SubtotalCents:       subtotal,
		ShippingCostCents:   shipping,
		TotalCents:          subtotal + shipping,
		PaymentMethod:       input.PaymentMethod,
		PaymentStatus:       enums.PaymentStatusPending,
		DeliveryAddress:     pharmacy.Address,
		DeliveryGeolocation: pharmacy.Geolocation,
		DeliveryPhone:       pharmacy.Phone,
		Items:               items,
		History: []models.OrderStatusEvent{{
			Sequence:  1,
			Status:    enums.OrderStatusPending,
			Note:      input.Note,
			UpdatedBy: input.PharmacyID,
			CreatedAt: now,
		}},
	}
}

func validateInput(input CreateOrderInput) error {
	switch {
	case input.PharmacyID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "pharmacy identity missing")
	case input.CartID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	case input.InventoryID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "inventory id required")
	case !input.PaymentMethod.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	return nil
}

func (s *service) recordStockConflict() {
	if s.metrics != nil {
		s.metrics.IncStockConflict()
	}
}
