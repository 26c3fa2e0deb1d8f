package eventing

import (
	"context"
	"errors"
	"sync"
)

const defaultOutboxCapacity = 10000

// ErrOutboxFull is returned when the memory outbox cannot take more records.
var ErrOutboxFull = errors.New("outbox: full")

// MemoryOutbox is an in-process outbox. Records handed out by ListPending are
// in flight until marked; they are never listed twice.
type MemoryOutbox struct {
	mu       sync.Mutex
	pending  []OutboxRecord
	inFlight map[string]OutboxRecord
	capacity int
}

// MemoryOutboxOption configures the memory outbox.
type MemoryOutboxOption func(*MemoryOutbox)

// WithCapacity bounds the number of queued and in-flight records.
func WithCapacity(capacity int) MemoryOutboxOption {
	return func(o *MemoryOutbox) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox(opts ...MemoryOutboxOption) *MemoryOutbox {
	o := &MemoryOutbox{
		inFlight: make(map[string]OutboxRecord),
		capacity: defaultOutboxCapacity,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Insert appends an envelope.
func (o *MemoryOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	if o == nil {
		return "", errors.New("outbox: nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending)+len(o.inFlight) >= o.capacity {
		return "", ErrOutboxFull
	}
	id := NewEventID()
	o.pending = append(o.pending, OutboxRecord{ID: id, Envelope: env})
	return id, nil
}

// ListPending claims up to limit records in insertion order.
func (o *MemoryOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	if o == nil {
		return nil, errors.New("outbox: nil")
	}
	if limit <= 0 {
		limit = 50
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit > len(o.pending) {
		limit = len(o.pending)
	}
	out := make([]OutboxRecord, limit)
	copy(out, o.pending[:limit])
	o.pending = append(o.pending[:0], o.pending[limit:]...)
	for _, record := range out {
		o.inFlight[record.ID] = record
	}
	return out, nil
}

// MarkSent drops a delivered record.
func (o *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	return o.release(id)
}

// MarkFailed drops a failed record; the dispatcher has already handed it to the DLQ.
func (o *MemoryOutbox) MarkFailed(_ context.Context, id string) error {
	return o.release(id)
}

func (o *MemoryOutbox) release(id string) error {
	if o == nil {
		return errors.New("outbox: nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[id]; !ok {
		return errors.New("outbox: unknown record " + id)
	}
	delete(o.inFlight, id)
	return nil
}

// Depth reports queued plus in-flight records.
func (o *MemoryOutbox) Depth(context.Context) (int64, error) {
	return int64(o.Len()), nil
}

// Len reports queued plus in-flight records.
func (o *MemoryOutbox) Len() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending) + len(o.inFlight)
}
