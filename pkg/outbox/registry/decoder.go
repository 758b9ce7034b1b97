package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
)

// ErrNoDecoder is returned by Decode for an unregistered event/version pair.
var ErrNoDecoder = errors.New("decoder not registered")

// DecoderFunc turns an envelope's data into a typed payload.
type DecoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// JSONDecoder decodes the payload into a T value.
func JSONDecoder[T any]() DecoderFunc {
	return func(payload json.RawMessage) (any, error) {
		var decoded T
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}
}

// Register stores decoder for version of every listed event type.
func (r *DecoderRegistry) Register(version int, decoder DecoderFunc, eventTypes ...enums.OutboxEventType) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, eventType := range eventTypes {
		r.registry[registryKey{eventType: eventType, version: version}] = decoder
	}
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}
