package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox/registry"
)

const orderNotificationConsumer = "order-notifications"

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type eventGuard interface {
	Seen(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns order events from Pub/Sub into in-app notifications.
type Consumer struct {
	repo         notificationWriter
	subscription *pubsub.Subscriber
	guard        eventGuard
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo notificationWriter, subscription *pubsub.Subscriber, guard eventGuard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		guard:        guard,
		decoders:     orderDecoders(),
		logg:         logg,
	}, nil
}

func orderDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	reg.Register(1, registry.JSONDecoder[payloads.OrderCreatedEvent](), enums.EventOrderCreated)
	reg.Register(1, registry.JSONDecoder[payloads.OrderStatusChangedEvent](),
		enums.EventOrderStatusChanged,
		enums.EventOrderCancelled,
		enums.EventOrderRejected,
	)
	return reg
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !eventType.IsValid() {
		c.logg.Info(logCtx, "skipping unsupported event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}

	seen, err := c.guard.Seen(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if seen {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := buildNotification(eventType, decoded)
	if err == nil {
		logCtx = c.logg.WithFields(logCtx, map[string]any{
			"user_id": notification.UserID.String(),
		})
		err = c.repo.Create(ctx, notification)
	}
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		if forgetErr := c.guard.Forget(ctx, orderNotificationConsumer, eventID); forgetErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency claim", forgetErr)
		}
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "order notification stored")
	return processResult{ack: true}
}

// buildNotification addresses created and cancelled orders to the inventory
// and every other status change to the pharmacy.
func buildNotification(eventType enums.OutboxEventType, decoded interface{}) (*models.Notification, error) {
	switch payload := decoded.(type) {
	case payloads.OrderCreatedEvent:
		if payload.InventoryID == uuid.Nil {
			return nil, fmt.Errorf("inventory id missing")
		}
		return orderNotification(enums.NotificationTypeOrderPlaced, payload.InventoryID, payload.OrderID,
			"New order received",
			fmt.Sprintf("Order %s was placed.", payload.OrderNumber),
		), nil
	case payloads.OrderStatusChangedEvent:
		switch eventType {
		case enums.EventOrderCancelled:
			if payload.InventoryID == uuid.Nil {
				return nil, fmt.Errorf("inventory id missing")
			}
			message := fmt.Sprintf("Order %s was cancelled by the pharmacy.", payload.OrderNumber)
			if payload.Note != "" {
				message = fmt.Sprintf("Order %s was cancelled by the pharmacy. Reason: %s", payload.OrderNumber, payload.Note)
			}
			return orderNotification(enums.NotificationTypeOrderCancelled, payload.InventoryID, payload.OrderID, "Order cancelled", message), nil
		case enums.EventOrderRejected:
			if payload.PharmacyID == uuid.Nil {
				return nil, fmt.Errorf("pharmacy id missing")
			}
			message := fmt.Sprintf("Order %s was rejected.", payload.OrderNumber)
			if payload.Note != "" {
				message = fmt.Sprintf("Order %s was rejected. Reason: %s", payload.OrderNumber, payload.Note)
			}
			return orderNotification(enums.NotificationTypeOrderRejected, payload.PharmacyID, payload.OrderID, "Order rejected", message), nil
		default:
			if payload.PharmacyID == uuid.Nil {
				return nil, fmt.Errorf("pharmacy id missing")
			}
			return orderNotification(enums.NotificationTypeOrderUpdated, payload.PharmacyID, payload.OrderID,
				"Order updated",
				fmt.Sprintf("Order %s is now %s.", payload.OrderNumber, payload.Status),
			), nil
		}
	default:
		return nil, fmt.Errorf("unexpected payload %T", decoded)
	}
}

func orderNotification(kind enums.NotificationType, userID, orderID uuid.UUID, title, message string) *models.Notification {
	link := fmt.Sprintf("/orders/%s", orderID)
	id := orderID
	return &models.Notification{
		UserID:  userID,
		OrderID: &id,
		Type:    kind,
		Title:   title,
		Message: message,
		Link:    &link,
	}
}
