package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "restroom_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	malformedPayloads *prometheus.CounterVec
	engineEvents      *prometheus.CounterVec
	livenessChanges   *prometheus.CounterVec
	trackedDevices    prometheus.Gauge

	notificationDeliveries *prometheus.CounterVec
	notificationLatency    *prometheus.HistogramVec

	persistenceTotal   *prometheus.CounterVec
	persistenceLatency *prometheus.HistogramVec

	outboxDispatch *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers engine metrics. Queue gauges are added by RegisterQueueGauges.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)
		malformedPayloads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "malformed_sensor_payloads_total",
				Help: "Sensor payloads treated as unknown readings",
			},
			[]string{"sensor"},
		)
		engineEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "engine_events_total",
				Help: "Incident and routine events emitted by kind",
			},
			[]string{"kind"},
		)
		livenessChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "liveness_transitions_total",
				Help: "Device liveness transitions by new status",
			},
			[]string{"status"},
		)
		trackedDevices = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_devices",
				Help: "Devices with a cached snapshot",
			},
		)
		notificationDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_deliveries_total",
				Help: "Notification delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		)
		notificationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "notification_latency_seconds",
				Help:    "Notification delivery latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)
		persistenceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "persistence_writes_total",
				Help: "Persistence collaborator calls by operation and result",
			},
			[]string{"operation", "result"},
		)
		persistenceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "persistence_latency_seconds",
				Help:    "Persistence latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		outboxDispatch = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox records dispatched by result",
			},
			[]string{"result"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_export_total",
				Help: "Status exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "status_export_latency_seconds",
				Help:    "Status export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			malformedPayloads,
			engineEvents,
			livenessChanges,
			trackedDevices,
			notificationDeliveries,
			notificationLatency,
			persistenceTotal,
			persistenceLatency,
			outboxDispatch,
			exportTotal,
			exportLatency,
		)
	})
}

// ObserveIngest records ingest duration and result per source (http, mqtt).
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncMalformedPayload counts a sensor payload the condition checks could not read.
func IncMalformedPayload(sensor string) {
	if malformedPayloads != nil {
		malformedPayloads.WithLabelValues(sensor).Inc()
	}
}

// IncEngineEvent increments engine event counters.
func IncEngineEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if engineEvents != nil {
		engineEvents.WithLabelValues(kind).Inc()
	}
}

// IncLivenessTransition counts liveness flips.
func IncLivenessTransition(status string) {
	if livenessChanges != nil {
		livenessChanges.WithLabelValues(status).Inc()
	}
}

// SetTrackedDevices sets the tracked device gauge.
func SetTrackedDevices(count int) {
	if trackedDevices != nil {
		trackedDevices.Set(float64(count))
	}
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(channel, result string, duration time.Duration) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notificationDeliveries != nil {
		notificationDeliveries.WithLabelValues(channel, result).Inc()
	}
	if notificationLatency != nil {
		notificationLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// ObservePersistence records a persistence collaborator call.
func ObservePersistence(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if persistenceTotal != nil {
		persistenceTotal.WithLabelValues(operation, result).Inc()
	}
	if persistenceLatency != nil {
		persistenceLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// IncOutboxDispatch counts dispatched outbox records.
func IncOutboxDispatch(result string) {
	if outboxDispatch != nil {
		outboxDispatch.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Result labels for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = "dropped"
)
