package mqtt

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"restroom-cloud/internal/engine/application"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/observability/metrics"
)

// Ingester accepts one raw reading.
type Ingester interface {
	Ingest(ctx context.Context, raw engine.RawReading) error
}

// Handler turns broker messages into engine ingests.
type Handler struct {
	ingester Ingester
	logger   *log.Logger
	timeout  time.Duration
}

// NewHandler constructs a handler.
func NewHandler(ingester Ingester, logger *log.Logger) (*Handler, error) {
	if ingester == nil {
		return nil, errors.New("mqtt handler: nil ingester")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{ingester: ingester, logger: logger, timeout: 5 * time.Second}, nil
}

// HandleMessage decodes one payload. When the body carries no deviceId the
// device segment of the topic (restroom/<deviceId>/telemetry) is used.
func (h *Handler) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	raw, err := application.DecodeRawReading(payload)
	if err == nil && strings.TrimSpace(raw.DeviceID) == "" {
		raw.DeviceID = DeviceFromTopic(topic)
	}
	if err == nil {
		ingestCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err = h.ingester.Ingest(ingestCtx, raw)
		cancel()
	}
	if err != nil {
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		if engine.IsValidationError(err) {
			metrics.IncIngestError("validation")
		} else {
			metrics.IncIngestError("internal")
		}
		h.logger.Printf("mqtt ingest: topic=%s err=%v", topic, err)
		return err
	}
	metrics.ObserveIngest("mqtt", metrics.ResultSuccess, time.Since(start))
	return nil
}

// DeviceFromTopic extracts the device segment of restroom/<deviceId>/telemetry.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != "telemetry" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
