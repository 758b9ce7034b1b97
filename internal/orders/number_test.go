package orders

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	value int64
	err   error
	keys  []string
	ttl   time.Duration
}

func (c *stubCounter) CounterKey(name string) string { return "pl:counter:" + name }

func (c *stubCounter) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.keys = append(c.keys, key)
	c.ttl = ttl
	if c.err != nil {
		return 0, c.err
	}
	c.value++
	return c.value, nil
}

var orderNumberPattern = regexp.MustCompile(`^ORD-[0-9a-f]{6}-\d{8}-\d{6,}$`)

func TestFormatOrderNumber(t *testing.T) {
	inventory := uuid.MustParse("4b7c1d2e-0000-4000-8000-00000abcdef1")
	assert.Equal(t, "ORD-bcdef1-20261014-000042", FormatOrderNumber(inventory, "20261014", 42))
}

func TestNumberGeneratorUsesDailyCounter(t *testing.T) {
	counter := &stubCounter{}
	gen := NewNumberGenerator(counter, testLogger())
	inventory := uuid.New()
	at := time.Date(2026, 10, 14, 23, 59, 0, 0, time.UTC)

	first, err := gen.Next(context.Background(), inventory, at)
	require.NoError(t, err)
	second, err := gen.Next(context.Background(), inventory, at)
	require.NoError(t, err)

	assert.Regexp(t, orderNumberPattern, first)
	assert.True(t, len(first) > 0 && first[len(first)-6:] == "000001")
	assert.True(t, second[len(second)-6:] == "000002")
	assert.Equal(t, []string{"pl:counter:order_number:20261014", "pl:counter:order_number:20261014"}, counter.keys)
	assert.Equal(t, orderNumberCounterTTL, counter.ttl)
}

func TestNumberGeneratorFallsBackWithoutRedis(t *testing.T) {
	inventory := uuid.New()
	for _, gen := range []*NumberGenerator{
		NewNumberGenerator(nil, nil),
		NewNumberGenerator(&stubCounter{err: errors.New("redis down")}, testLogger()),
	} {
		number, err := gen.Next(context.Background(), inventory, time.Now())
		require.NoError(t, err)
		assert.Regexp(t, orderNumberPattern, number)
	}
}
