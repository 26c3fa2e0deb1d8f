package apihttp

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"restroom-cloud/internal/engine/application"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/eventing"
	"restroom-cloud/internal/observability/metrics"
)

// HeaderRequestID correlates the engine events of one ingest with the station's request.
const HeaderRequestID = "X-Request-Id"

// IngestHandler accepts station readings over HTTP.
type IngestHandler struct {
	engine Engine
	logger *log.Logger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(engine Engine, logger *log.Logger) *IngestHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{engine: engine, logger: logger}
}

// ServeHTTP handles POST /ingest/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		metrics.IncIngestError("read_body")
		writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	ctx := eventing.WithCorrelationID(r.Context(), r.Header.Get(HeaderRequestID))
	raw, err := application.DecodeRawReading(body)
	if err == nil {
		err = h.engine.Ingest(ctx, raw)
	}
	if err != nil {
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		var validation *engine.ValidationError
		if errors.As(err, &validation) {
			metrics.IncIngestError("validation")
			writeError(w, http.StatusBadRequest, validation.Error())
			return
		}
		metrics.IncIngestError("internal")
		h.logger.Printf("ingest: device=%s err=%v", raw.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	metrics.ObserveIngest("http", metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
