// Package history holds the stores that receive routine snapshots and liveness flips.
package history

import (
	"context"
	"errors"
	"log"

	engine "restroom-cloud/internal/engine/domain"
)

// Writer is a history sink.
type Writer interface {
	AppendHistory(ctx context.Context, snapshot engine.Snapshot) error
	UpdateLivenessStatus(ctx context.Context, deviceID string, status engine.Liveness) error
}

// MultiWriter writes to a primary store and mirrors to secondary sinks. Only the
// primary outcome is reported back; mirror failures are logged.
type MultiWriter struct {
	primary Writer
	mirrors []Writer
	logger  *log.Logger
}

// NewMultiWriter constructs a MultiWriter.
func NewMultiWriter(logger *log.Logger, primary Writer, mirrors ...Writer) (*MultiWriter, error) {
	if primary == nil {
		return nil, errors.New("history: nil primary writer")
	}
	if logger == nil {
		logger = log.Default()
	}
	out := make([]Writer, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			out = append(out, m)
		}
	}
	return &MultiWriter{primary: primary, mirrors: out, logger: logger}, nil
}

// AppendHistory implements Writer.
func (m *MultiWriter) AppendHistory(ctx context.Context, snapshot engine.Snapshot) error {
	err := m.primary.AppendHistory(ctx, snapshot)
	for _, mirror := range m.mirrors {
		if mirrorErr := mirror.AppendHistory(ctx, snapshot); mirrorErr != nil {
			m.logger.Printf("history: mirror append failed device=%s err=%v", snapshot.DeviceID, mirrorErr)
		}
	}
	return err
}

// UpdateLivenessStatus implements Writer.
func (m *MultiWriter) UpdateLivenessStatus(ctx context.Context, deviceID string, status engine.Liveness) error {
	err := m.primary.UpdateLivenessStatus(ctx, deviceID, status)
	for _, mirror := range m.mirrors {
		if mirrorErr := mirror.UpdateLivenessStatus(ctx, deviceID, status); mirrorErr != nil {
			m.logger.Printf("history: mirror liveness failed device=%s err=%v", deviceID, mirrorErr)
		}
	}
	return err
}

// Discard drops every write. It backs deployments without a history store.
type Discard struct{}

// AppendHistory implements Writer.
func (Discard) AppendHistory(context.Context, engine.Snapshot) error { return nil }

// UpdateLivenessStatus implements Writer.
func (Discard) UpdateLivenessStatus(context.Context, string, engine.Liveness) error { return nil }
