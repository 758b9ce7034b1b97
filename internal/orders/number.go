package orders

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/redis"
)

// orderNumberCounterTTL outlives the day it counts so late writers near
// midnight still share the sequence.
const orderNumberCounterTTL = 48 * time.Hour

// NumberGenerator builds order numbers of the form
// ORD-<last 6 hex of inventory id>-<YYYYMMDD>-<seq>.
//
// The sequence is a Redis counter shared by every API replica. Without Redis
// the sequence is 48 random bits; for n orders per inventory per day the
// chance of any collision is about n²/2⁴⁹, and the unique index on
// order_number turns a collision into a retry.
type NumberGenerator struct {
	counter redis.Counter
	logg    *logger.Logger
}

// NewNumberGenerator accepts a nil counter and then always uses the random fallback.
func NewNumberGenerator(counter redis.Counter, logg *logger.Logger) *NumberGenerator {
	return &NumberGenerator{counter: counter, logg: logg}
}

// Next returns a fresh order number for inventoryID on the UTC date of at.
func (g *NumberGenerator) Next(ctx context.Context, inventoryID uuid.UUID, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")
	seq, err := g.sequence(ctx, day)
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(inventoryID, day, seq), nil
}

func (g *NumberGenerator) sequence(ctx context.Context, day string) (uint64, error) {
	if g != nil && g.counter != nil {
		value, err := g.counter.IncrWithTTL(ctx, g.counter.CounterKey("order_number:"+day), orderNumberCounterTTL)
		if err == nil && value > 0 {
			return uint64(value), nil
		}
		if g.logg != nil {
			g.logg.Warn(g.logg.WithField(ctx, "day", day), "order number counter unavailable, using random sequence")
		}
	}
	return randomSequence()
}

func randomSequence() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[2:]); err != nil {
		return 0, fmt.Errorf("random order sequence: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// FormatOrderNumber renders the canonical order number.
func FormatOrderNumber(inventoryID uuid.UUID, day string, seq uint64) string {
	hex := strings.ReplaceAll(inventoryID.String(), "-", "")
	return fmt.Sprintf("ORD-%s-%s-%06d", hex[len(hex)-6:], day, seq)
}
