package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.failSet != nil {
		return false, m.failSet
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = "1"
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "pl:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestGuardSeenClaimsOnce(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewGuard(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	seen, err := guard.Seen(context.Background(), "order-notifications", eventID)
	require.NoError(t, err)
	assert.False(t, seen)

	key := "pl:idempotency:evt:order-notifications:" + eventID.String()
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	seen, err = guard.Seen(context.Background(), "order-notifications", eventID)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = guard.Seen(context.Background(), "other-consumer", eventID)
	require.NoError(t, err)
	assert.False(t, seen, "consumers are isolated")
}

func TestGuardForgetAllowsRedelivery(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	_, err = guard.Seen(context.Background(), "order-notifications", eventID)
	require.NoError(t, err)
	require.NoError(t, guard.Forget(context.Background(), "order-notifications", eventID))

	seen, err := guard.Seen(context.Background(), "order-notifications", eventID)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardErrors(t *testing.T) {
	_, err := NewGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(newMemoryStore(), -time.Second)
	assert.Error(t, err)

	store := newMemoryStore()
	store.failSet = errors.New("boom")
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)

	_, err = guard.Seen(context.Background(), "order-notifications", uuid.New())
	assert.Error(t, err)
	_, err = guard.Seen(context.Background(), "", uuid.New())
	assert.Error(t, err)
	_, err = guard.Seen(context.Background(), "order-notifications", uuid.Nil)
	assert.Error(t, err)
}
