package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

// ListLimit caps how many orders a list call returns.
const ListLimit = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockRestorer returns units to a drug inside the caller's transaction.
type StockRestorer interface {
	Increment(ctx context.Context, tx *gorm.DB, drugID uuid.UUID, delta int) error
}

type transitionRecorder interface {
	IncTransition(from, to string)
}

// Requester identifies the authenticated caller.
type Requester struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// UpdateStatusInput carries a requested status change.
type UpdateStatusInput struct {
	OrderID   uuid.UUID
	Target    enums.OrderStatus
	Note      string
	ActorID   uuid.UUID
	ActorRole enums.UserRole
}

// CancelInput carries a pharmacy cancellation.
type CancelInput struct {
	OrderID    uuid.UUID
	Reason     string
	PharmacyID uuid.UUID
}

// Service exposes order reads and lifecycle transitions.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID, requester Requester) (*models.Order, error)
	List(ctx context.Context, requester Requester) ([]models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	stock      StockRestorer
	dispatcher notifications.Dispatcher
	metrics    transitionRecorder
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the order service. metrics may be nil.
func NewService(repo Repository, tx txRunner, stock StockRestorer, dispatcher notifications.Dispatcher, metrics transitionRecorder, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		stock:      stock,
		dispatcher: dispatcher,
		metrics:    metrics,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, requester Requester) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	if !canView(order, requester) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to requester")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, requester Requester) ([]models.Order, error) {
	if requester.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var (
		rows []models.Order
		err  error
	)
	switch requester.Role {
	case enums.UserRolePharmacy:
		rows, err = s.repo.ListByPharmacy(ctx, requester.UserID, ListLimit)
	case enums.UserRoleInventory:
		rows, err = s.repo.ListByInventory(ctx, requester.UserID, ListLimit)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only pharmacies and inventories list orders")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	actor := Requester{UserID: input.ActorID, Role: input.ActorRole}
	return s.transition(ctx, input.OrderID, input.Target, input.Note, actor, func(order *models.Order) error {
		return authorizeTransition(order, actor, input.Target)
	}, nil)
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.PharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "pharmacy identity missing")
	}
	actor := Requester{UserID: input.PharmacyID, Role: enums.UserRolePharmacy}
	reason := input.Reason
	return s.transition(ctx, input.OrderID, enums.OrderStatusCancelled, reason, actor, func(order *models.Order) error {
		if order.PharmacyID != input.PharmacyID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !pharmacyMayCancel(order.Status) {
			return invalidTransition(order.Status, enums.OrderStatusCancelled)
		}
		return nil
	}, &reason)
}

func (s *service) transition(
	ctx context.Context,
	orderID uuid.UUID,
	target enums.OrderStatus,
	note string,
	actor Requester,
	authorize func(order *models.Order) error,
	cancelReason *string,
) (*models.Order, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	now := s.now().UTC()
	var (
		order *models.Order
		from  enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return mapLoadError(err)
		}
		if err := authorize(loaded); err != nil {
			return err
		}

		from = loaded.Status
		event, err := ApplyTransition(loaded, target, note, actor.UserID, now)
		if err != nil {
			return err
		}
		effects := ApplyTerminalEffects(loaded, target, now)
		if cancelReason != nil && *cancelReason != "" {
			loaded.CancelReason = cancelReason
		}

		if err := repo.UpdateStatus(ctx, loaded.ID, from, statusUpdates(loaded, now)); err != nil {
			if errors.Is(err, ErrStatusChanged) {
				return invalidTransition(from, target)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if err := repo.AppendEvent(ctx, event); err != nil {
			if db.IsUniqueViolation(err, historySequenceIndex) {
				return invalidTransition(from, target)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
		}
		if err := s.restoreStock(ctx, tx, loaded, effects.RestoreStock); err != nil {
			return err
		}
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from": from.String(),
		"to":   target.String(),
	}), "order status changed")
	if s.metrics != nil {
		s.metrics.IncTransition(from.String(), target.String())
	}
	s.dispatcher.Dispatch(ctx, notifications.Notice{
		Event:          notifications.EventForStatus(target),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PharmacyID:     order.PharmacyID,
		InventoryID:    order.InventoryID,
		PreviousStatus: from,
		Status:         target,
		Note:           note,
		TotalCents:     order.TotalCents,
		ItemCount:      len(order.Items),
		ActorID:        actor.UserID,
		ActorRole:      actor.Role,
		OccurredAt:     now,
	})
	return order, nil
}

func statusUpdates(order *models.Order, now time.Time) map[string]any {
	updates := map[string]any{
		"status":     order.Status,
		"updated_at": now,
	}
	switch order.Status {
	case enums.OrderStatusDelivered:
		updates["actual_delivery_date"] = order.ActualDeliveryDate
		updates["payment_status"] = order.PaymentStatus
		updates["paid_at"] = order.PaidAt
	case enums.OrderStatusCancelled:
		if order.CancelReason != nil {
			updates["cancel_reason"] = *order.CancelReason
		}
	}
	return updates
}

// restoreStock increments in drug id order so concurrent restores lock rows
// in the same sequence. A drug deleted since placement is skipped.
func (s *service) restoreStock(ctx context.Context, tx *gorm.DB, order *models.Order, restore map[uuid.UUID]int) error {
	if len(restore) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(restore))
	for id := range restore {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		err := s.stock.Increment(ctx, tx, id, restore[id])
		if err == nil {
			continue
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": order.ID.String(),
				"drug_id":  id.String(),
			})
			s.logg.Warn(logCtx, "skipping stock restore for missing drug")
			continue
		}
		return err
	}
	return nil
}

func canView(order *models.Order, requester Requester) bool {
	switch requester.Role {
	case enums.UserRoleAdmin:
		return true
	case enums.UserRolePharmacy:
		return order.PharmacyID == requester.UserID
	case enums.UserRoleInventory:
		return order.InventoryID == requester.UserID
	default:
		return false
	}
}

var inventoryTargets = map[enums.OrderStatus]bool{
	enums.OrderStatusConfirmed:  true,
	enums.OrderStatusProcessing: true,
	enums.OrderStatusShipped:    true,
	enums.OrderStatusDelivered:  true,
	enums.OrderStatusRejected:   true,
	enums.OrderStatusCancelled:  true,
}

func pharmacyMayCancel(status enums.OrderStatus) bool {
	return status == enums.OrderStatusPending || status == enums.OrderStatusConfirmed
}

// authorizeTransition checks role and ownership. Table validity is checked
// afterwards by ApplyTransition.
func authorizeTransition(order *models.Order, actor Requester, target enums.OrderStatus) error {
	switch actor.Role {
	case enums.UserRoleAdmin:
		return nil
	case enums.UserRolePharmacy:
		if order.PharmacyID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to pharmacy")
		}
		if target != enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeForbidden, "pharmacies may only cancel orders")
		}
		if !pharmacyMayCancel(order.Status) {
			return invalidTransition(order.Status, target)
		}
		return nil
	case enums.UserRoleInventory:
		if order.InventoryID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to inventory")
		}
		if !inventoryTargets[target] {
			return pkgerrors.New(pkgerrors.CodeForbidden, "inventory may not set this status")
		}
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "role may not change order status")
	}
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
