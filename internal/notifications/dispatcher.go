package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox/payloads"
)

// Notice describes an order event that users should hear about.
type Notice struct {
	Event          enums.OutboxEventType
	OrderID        uuid.UUID
	OrderNumber    string
	PharmacyID     uuid.UUID
	InventoryID    uuid.UUID
	PreviousStatus enums.OrderStatus
	Status         enums.OrderStatus
	Note           string
	TotalCents     int64
	ItemCount      int
	ActorID        uuid.UUID
	ActorRole      enums.UserRole
	OccurredAt     time.Time
}

// Dispatcher delivers notices after the owning transaction committed.
// Implementations never fail the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, notice Notice)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, db *gorm.DB, event outbox.DomainEvent) error
}

// OutboxDispatcher queues notices as outbox rows for the publisher.
type OutboxDispatcher struct {
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewOutboxDispatcher wires the outbox-backed dispatcher.
func NewOutboxDispatcher(tx txRunner, emitter outboxEmitter, logg *logger.Logger) (*OutboxDispatcher, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &OutboxDispatcher{tx: tx, outbox: emitter, logg: logg}, nil
}

// Dispatch writes the notice in its own transaction. Failures are logged.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, notice Notice) {
	ctx = context.WithoutCancel(ctx)
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event_type": notice.Event,
		"order_id":   notice.OrderID.String(),
	})

	event, err := domainEvent(notice)
	if err != nil {
		d.logg.Error(logCtx, "notification dropped", err)
		return
	}
	err = d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return d.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		d.logg.Error(logCtx, "notification dispatch failed", err)
	}
}

func domainEvent(notice Notice) (outbox.DomainEvent, error) {
	if notice.OrderID == uuid.Nil {
		return outbox.DomainEvent{}, errors.New("order id required")
	}
	event := outbox.DomainEvent{
		EventType:     notice.Event,
		AggregateType: enums.AggregateOrder,
		AggregateID:   notice.OrderID,
		Version:       1,
		OccurredAt:    notice.OccurredAt,
	}
	if notice.ActorID != uuid.Nil {
		event.Actor = &outbox.ActorRef{UserID: notice.ActorID, Role: notice.ActorRole.String()}
	}

	switch notice.Event {
	case enums.EventOrderCreated:
		event.Data = payloads.OrderCreatedEvent{
			OrderID:     notice.OrderID,
			OrderNumber: notice.OrderNumber,
			PharmacyID:  notice.PharmacyID,
			InventoryID: notice.InventoryID,
			TotalCents:  notice.TotalCents,
			ItemCount:   notice.ItemCount,
		}
	case enums.EventOrderStatusChanged, enums.EventOrderCancelled, enums.EventOrderRejected:
		event.Data = payloads.OrderStatusChangedEvent{
			OrderID:        notice.OrderID,
			OrderNumber:    notice.OrderNumber,
			PharmacyID:     notice.PharmacyID,
			InventoryID:    notice.InventoryID,
			PreviousStatus: notice.PreviousStatus,
			Status:         notice.Status,
			Note:           notice.Note,
			ActorID:        notice.ActorID,
		}
	default:
		return outbox.DomainEvent{}, errors.New("unsupported notice event " + string(notice.Event))
	}
	return event, nil
}

// EventForStatus picks the event type announcing a move into status.
func EventForStatus(status enums.OrderStatus) enums.OutboxEventType {
	switch status {
	case enums.OrderStatusCancelled:
		return enums.EventOrderCancelled
	case enums.OrderStatusRejected:
		return enums.EventOrderRejected
	default:
		return enums.EventOrderStatusChanged
	}
}
