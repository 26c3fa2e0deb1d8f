package application

import (
	"context"
	"errors"
	"fmt"
	"log"

	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/observability/metrics"
)

// HistoryWriter is the persistence collaborator.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, snapshot engine.Snapshot) error
	UpdateLivenessStatus(ctx context.Context, deviceID string, status engine.Liveness) error
}

// Reporter carries out history writes and liveness updates requested by the engine.
// Failures are logged; nothing is retried here.
type Reporter struct {
	service *Service
	writer  HistoryWriter
	clock   Clock
	logger  *log.Logger
}

// NewReporter constructs a reporter.
func NewReporter(service *Service, writer HistoryWriter, logger *log.Logger) (*Reporter, error) {
	if service == nil {
		return nil, errors.New("reporter: nil service")
	}
	if writer == nil {
		return nil, errors.New("reporter: nil history writer")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{service: service, writer: writer, clock: service.clock, logger: logger}, nil
}

// HandleHistoryDue appends the snapshot and reports the outcome back to the engine.
// A panicking writer is reported as a failed write before the panic continues.
func (r *Reporter) HandleHistoryDue(ctx context.Context, due events.HistoryDue) error {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.ObservePersistence("append_history", metrics.ResultError, 0)
			r.service.CompleteRoutineReport(ctx, due, fmt.Errorf("history writer panicked: %v", recovered))
			panic(recovered)
		}
	}()
	start := r.clock.Now()
	err := r.writer.AppendHistory(ctx, due.Snapshot)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObservePersistence("append_history", result, r.clock.Now().Sub(start))
	r.service.CompleteRoutineReport(ctx, due, err)
	return nil
}

// HandleLivenessChanged mirrors a liveness flip to storage.
func (r *Reporter) HandleLivenessChanged(ctx context.Context, evt events.LivenessChanged) error {
	start := r.clock.Now()
	err := r.writer.UpdateLivenessStatus(ctx, evt.DeviceID, evt.Status)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		r.logger.Printf("reporter: liveness update failed device=%s status=%s err=%v", evt.DeviceID, evt.Status, err)
	}
	metrics.ObservePersistence("update_liveness", result, r.clock.Now().Sub(start))
	return nil
}
