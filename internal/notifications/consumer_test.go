package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox"
	"github.com/angelmondragon/pharmalink-backend/pkg/outbox/payloads"
)

type recordingWriter struct {
	created []*models.Notification
	err     error
}

func (r *recordingWriter) Create(_ context.Context, notification *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, notification)
	return nil
}

type memoryGuard struct {
	seen      map[uuid.UUID]bool
	forgotten []uuid.UUID
	err       error
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[uuid.UUID]bool{}}
}

func (g *memoryGuard) Seen(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *memoryGuard) Forget(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(g.seen, eventID)
	g.forgotten = append(g.forgotten, eventID)
	return nil
}

func newTestConsumer(writer *recordingWriter, guard *memoryGuard) *Consumer {
	return &Consumer{
		repo:     writer,
		guard:    guard,
		decoders: orderDecoders(),
		logg:     testLogger(),
	}
}

func orderMessage(t *testing.T, eventType enums.OutboxEventType, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestConsumerRoutesRecipients(t *testing.T) {
	pharmacyID := uuid.New()
	inventoryID := uuid.New()
	status := payloads.OrderStatusChangedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-1",
		PharmacyID:  pharmacyID,
		InventoryID: inventoryID,
		Status:      enums.OrderStatusShipped,
	}

	cases := []struct {
		name      string
		eventType enums.OutboxEventType
		payload   any
		recipient uuid.UUID
		title     string
		kind      enums.NotificationType
	}{
		{
			name:      "created goes to inventory",
			eventType: enums.EventOrderCreated,
			payload:   payloads.OrderCreatedEvent{OrderID: uuid.New(), OrderNumber: "ORD-1", PharmacyID: pharmacyID, InventoryID: inventoryID},
			recipient: inventoryID,
			title:     "New order received",
			kind:      enums.NotificationTypeOrderPlaced,
		},
		{
			name:      "status change goes to pharmacy",
			eventType: enums.EventOrderStatusChanged,
			payload:   status,
			recipient: pharmacyID,
			title:     "Order updated",
			kind:      enums.NotificationTypeOrderUpdated,
		},
		{
			name:      "cancellation goes to inventory",
			eventType: enums.EventOrderCancelled,
			payload:   status,
			recipient: inventoryID,
			title:     "Order cancelled",
			kind:      enums.NotificationTypeOrderCancelled,
		},
		{
			name:      "rejection goes to pharmacy",
			eventType: enums.EventOrderRejected,
			payload:   status,
			recipient: pharmacyID,
			title:     "Order rejected",
			kind:      enums.NotificationTypeOrderRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writer := &recordingWriter{}
			consumer := newTestConsumer(writer, newMemoryGuard())

			result := consumer.process(context.Background(), orderMessage(t, tc.eventType, tc.payload))
			assert.True(t, result.ack)
			require.Len(t, writer.created, 1)
			assert.Equal(t, tc.recipient, writer.created[0].UserID)
			assert.Equal(t, tc.title, writer.created[0].Title)
			assert.Equal(t, tc.kind, writer.created[0].Type)
			require.NotNil(t, writer.created[0].OrderID)
		})
	}
}

func TestConsumerSkipsDuplicates(t *testing.T) {
	writer := &recordingWriter{}
	consumer := newTestConsumer(writer, newMemoryGuard())
	msg := orderMessage(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New(), InventoryID: uuid.New()})

	assert.True(t, consumer.process(context.Background(), msg).ack)
	assert.True(t, consumer.process(context.Background(), msg).ack)
	assert.Len(t, writer.created, 1)
}

func TestConsumerNacksAndReleasesOnWriteFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("db down")}
	guard := newMemoryGuard()
	consumer := newTestConsumer(writer, guard)

	result := consumer.process(context.Background(), orderMessage(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New(), InventoryID: uuid.New()}))
	assert.True(t, result.nack)
	assert.Len(t, guard.forgotten, 1)
}

func TestConsumerNacksOnGuardFailure(t *testing.T) {
	guard := newMemoryGuard()
	guard.err = errors.New("redis down")
	consumer := newTestConsumer(&recordingWriter{}, guard)

	result := consumer.process(context.Background(), orderMessage(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New(), InventoryID: uuid.New()}))
	assert.True(t, result.nack)
}

func TestConsumerAcksPoisonMessages(t *testing.T) {
	writer := &recordingWriter{}
	consumer := newTestConsumer(writer, newMemoryGuard())

	unknown := &pubsub.Message{ID: "1", Attributes: map[string]string{"event_type": "cart_abandoned"}}
	assert.True(t, consumer.process(context.Background(), unknown).ack)

	garbage := &pubsub.Message{ID: "2", Data: []byte("not json"), Attributes: map[string]string{"event_type": string(enums.EventOrderCreated)}}
	assert.True(t, consumer.process(context.Background(), garbage).ack)

	assert.Empty(t, writer.created)
}
