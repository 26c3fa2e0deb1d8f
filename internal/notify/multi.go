package notify

import (
	"context"
	"errors"
)

// MultiTransport delivers each message over every configured transport.
type MultiTransport struct {
	transports []Transport
}

// NewMultiTransport constructs a MultiTransport, skipping nil entries.
func NewMultiTransport(transports ...Transport) *MultiTransport {
	out := make([]Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			out = append(out, t)
		}
	}
	return &MultiTransport{transports: out}
}

// Send forwards to all transports and joins their errors.
func (m *MultiTransport) Send(ctx context.Context, subscriberID, text string) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, t := range m.transports {
		if err := t.Send(ctx, subscriberID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of transports.
func (m *MultiTransport) Len() int {
	if m == nil {
		return 0
	}
	return len(m.transports)
}
