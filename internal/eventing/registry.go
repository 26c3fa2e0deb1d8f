package eventing

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type decoder func(payload json.RawMessage) (any, error)

// Registry decodes stored outbox payloads back into the event types the bus routes on.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]decoder
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]decoder)}
}

// Register makes events of type T decodable. Registering the same type twice is a no-op.
func Register[T any](r *Registry) {
	if r == nil {
		return
	}
	name := EventTypeOf[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[name]; exists {
		return
	}
	r.decoders[name] = func(payload json.RawMessage) (any, error) {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("eventing: decode %s: %w", name, err)
		}
		return event, nil
	}
}

// Types lists the registered event type names.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodePayload returns the event value stored in env.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, ErrUnknownEventType
	}
	r.mu.RLock()
	decode, ok := r.decoders[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}
	return decode(env.Payload)
}
