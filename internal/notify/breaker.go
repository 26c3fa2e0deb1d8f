package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a transport.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures int
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// BreakerTransport stops calling a failing transport until it cools down. While
// open, sends fail fast with gobreaker.ErrOpenState.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next in a circuit breaker.
func NewBreakerTransport(next Transport, settings BreakerSettings) (*BreakerTransport, error) {
	if next == nil {
		return nil, errors.New("breaker transport: nil transport")
	}
	fails := settings.ConsecutiveFailures
	if fails <= 0 {
		fails = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.Name == "" {
		settings.Name = "notify"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     settings.Name,
		Interval: settings.Interval,
		Timeout:  settings.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
	})
	return &BreakerTransport{next: next, cb: cb}, nil
}

// Send forwards to the wrapped transport through the breaker.
func (b *BreakerTransport) Send(ctx context.Context, subscriberID, text string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, subscriberID, text)
	})
	return err
}

// State reports the breaker state.
func (b *BreakerTransport) State() gobreaker.State {
	return b.cb.State()
}
