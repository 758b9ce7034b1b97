package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

// CanTransitionTo reports whether order may move to target.
func CanTransitionTo(order *models.Order, target enums.OrderStatus) bool {
	if order == nil {
		return false
	}
	return order.Status.CanTransitionTo(target)
}

// TransitionDetail is attached to InvalidTransition errors.
type TransitionDetail struct {
	From    enums.OrderStatus   `json:"from"`
	To      enums.OrderStatus   `json:"to"`
	Allowed []enums.OrderStatus `json:"allowed"`
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "cannot transition order from "+from.String()+" to "+to.String()).
		WithDetails(TransitionDetail{From: from, To: to, Allowed: from.NextStatuses()})
}

// ApplyTransition moves the order to target and appends one history entry.
// On a rejected transition the order is left untouched.
func ApplyTransition(order *models.Order, target enums.OrderStatus, note string, actorID uuid.UUID, now time.Time) (*models.OrderStatusEvent, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order required")
	}
	if !CanTransitionTo(order, target) {
		return nil, invalidTransition(order.Status, target)
	}

	sequence := 1
	if last := order.LastEvent(); last != nil {
		sequence = last.Sequence + 1
	}
	event := models.OrderStatusEvent{
		OrderID:   order.ID,
		Sequence:  sequence,
		Status:    target,
		Note:      note,
		UpdatedBy: actorID,
		CreatedAt: now,
	}
	order.Status = target
	order.History = append(order.History, event)
	return &order.History[len(order.History)-1], nil
}

// TerminalEffects lists what the caller must persist alongside a transition.
type TerminalEffects struct {
	// RestoreStock maps drug ids to the units returned to inventory.
	RestoreStock map[uuid.UUID]int
}

// ApplyTerminalEffects updates delivery and payment fields for target and
// returns the stock the caller must restore within the same transaction.
func ApplyTerminalEffects(order *models.Order, target enums.OrderStatus, now time.Time) TerminalEffects {
	effects := TerminalEffects{}
	if order == nil {
		return effects
	}
	switch target {
	case enums.OrderStatusDelivered:
		delivered := now
		order.ActualDeliveryDate = &delivered
		if order.PaymentMethod == enums.PaymentMethodCash {
			paid := now
			order.PaymentStatus = enums.PaymentStatusPaid
			order.PaidAt = &paid
		}
	case enums.OrderStatusCancelled, enums.OrderStatusRejected:
		effects.RestoreStock = make(map[uuid.UUID]int, len(order.Items))
		for _, item := range order.Items {
			if item.TotalDelivered <= 0 {
				continue
			}
			effects.RestoreStock[item.DrugID] += item.TotalDelivered
		}
	}
	return effects
}
