package eventing

import "context"

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Waker is signalled after every insert so a drainer can pick the record up.
type Waker interface {
	Wake()
}

// Publisher writes events to the outbox. It never dispatches inline; delivery
// happens on the dispatcher's goroutine.
type Publisher struct {
	outbox OutboxWriter
	waker  Waker
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter, waker Waker) *Publisher {
	return &Publisher{outbox: outbox, waker: waker}
}

// Publish appends the event to the outbox and wakes the dispatcher.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.waker != nil {
		p.waker.Wake()
	}
	return nil
}
