package eventing

import (
	"context"
	"errors"
	"log"
	"time"

	"restroom-cloud/internal/observability/metrics"
)

// Dispatcher drains outbox records into the in-process bus.
type Dispatcher struct {
	bus            EventBus
	outbox         OutboxStore
	registry       *Registry
	dlq            DLQStore
	logger         *log.Logger
	wake           chan struct{}
	pollInterval   time.Duration
	batchSize      int
	handlerTimeout time.Duration
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPollInterval sets how often Run drains without being woken.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithBatchSize sets how many records one Dispatch call claims.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithHandlerTimeout bounds the handling of one record.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.New("dispatcher: nil bus")
	}
	if outbox == nil {
		return nil, errors.New("dispatcher: nil outbox")
	}
	if registry == nil {
		return nil, errors.New("dispatcher: nil registry")
	}
	d := &Dispatcher{
		bus:            bus,
		outbox:         outbox,
		registry:       registry,
		dlq:            dlq,
		logger:         log.Default(),
		wake:           make(chan struct{}, 1),
		pollInterval:   time.Second,
		batchSize:      50,
		handlerTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Wake asks Run to drain now. It never blocks.
func (d *Dispatcher) Wake() {
	if d == nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Dispatch claims pending outbox records and delivers them once each. It returns
// the number of records handled.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = d.batchSize
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			d.fail(ctx, record, err)
			continue
		}

		handleCtx, cancel := context.WithTimeout(WithEnvelope(ctx, env), d.handlerTimeout)
		err = d.bus.Publish(handleCtx, payload)
		cancel()
		if err != nil {
			d.fail(ctx, record, err)
			continue
		}

		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			d.logger.Printf("dispatcher: mark sent failed id=%s err=%v", record.ID, err)
		}
		metrics.IncOutboxDispatch("sent")
	}
	return len(records), nil
}

// Drain dispatches until the outbox reports nothing pending.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.Dispatch(ctx, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Run drains on every wake-up and poll tick until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil {
		return
	}
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), d.handlerTimeout)
			if err := d.Drain(final); err != nil {
				d.logger.Printf("dispatcher: final drain failed: %v", err)
			}
			cancel()
			return
		case <-d.wake:
		case <-ticker.C:
		}
		if err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatcher: drain failed: %v", err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, record OutboxRecord, cause error) {
	metrics.IncOutboxDispatch("failed")
	if err := d.outbox.MarkFailed(ctx, record.ID); err != nil {
		d.logger.Printf("dispatcher: mark failed failed id=%s err=%v", record.ID, err)
	}
	if d.dlq != nil {
		if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err != nil {
			d.logger.Printf("dispatcher: dlq record failed event=%s err=%v", record.Envelope.EventID, err)
		}
	}
}
