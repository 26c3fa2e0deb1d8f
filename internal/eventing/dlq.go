package eventing

import (
	"context"
	"log"
	"sync/atomic"
)

// LogDLQ writes failed events to the process log and counts them.
type LogDLQ struct {
	logger *log.Logger
	count  atomic.Int64
}

// NewLogDLQ constructs a log-backed DLQ.
func NewLogDLQ(logger *log.Logger) *LogDLQ {
	if logger == nil {
		logger = log.Default()
	}
	return &LogDLQ{logger: logger}
}

// RecordFailure logs the failed envelope.
func (l *LogDLQ) RecordFailure(_ context.Context, env Envelope, err error) error {
	if l == nil {
		return nil
	}
	l.count.Add(1)
	l.logger.Printf("dlq: event=%s type=%s device=%s err=%v", env.EventID, env.EventType, env.DeviceID, err)
	return nil
}

// Depth reports how many failures were logged since start.
func (l *LogDLQ) Depth(context.Context) (int64, error) {
	if l == nil {
		return 0, nil
	}
	return l.count.Load(), nil
}
