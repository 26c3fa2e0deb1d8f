package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	engine "restroom-cloud/internal/engine/domain"
)

// Measurement names.
const (
	MeasurementSnapshot = "restroom_snapshot"
	MeasurementStatus   = "device_status"
)

// PointWriter is the part of the InfluxDB blocking write API used here.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Config selects the InfluxDB target.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer stores history snapshots and liveness flips as InfluxDB points.
type Writer struct {
	api PointWriter
	now func() time.Time
}

// Open connects a blocking writer. The returned client must be closed by the caller.
func Open(cfg Config) (*Writer, influxdb2.Client, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, nil, errors.New("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writer, err := NewWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return writer, client, nil
}

// NewWriter wraps a point writer.
func NewWriter(api PointWriter) (*Writer, error) {
	if api == nil {
		return nil, errors.New("influx writer: nil write api")
	}
	return &Writer{api: api, now: func() time.Time { return time.Now().UTC() }}, nil
}

// AppendHistory writes one restroom_snapshot point.
func (w *Writer) AppendHistory(ctx context.Context, snapshot engine.Snapshot) error {
	if snapshot.DeviceID == "" {
		return errors.New("influx writer: empty device id")
	}
	at := snapshot.Timestamp
	if at.IsZero() {
		at = w.now()
	}
	point := influxdb2.NewPoint(MeasurementSnapshot, deviceTags(snapshot.DeviceID), map[string]interface{}{
		"amonia": snapshot.Amonia,
		"water":  snapshot.Water,
		"soap":   snapshot.Soap,
		"tissue": snapshot.Tissue,
		"status": string(snapshot.Status),
	}, at)
	if err := w.api.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: influx snapshot: %v", engine.ErrTransientPersistence, err)
	}
	return nil
}

// UpdateLivenessStatus writes one device_status point.
func (w *Writer) UpdateLivenessStatus(ctx context.Context, deviceID string, status engine.Liveness) error {
	if deviceID == "" {
		return errors.New("influx writer: empty device id")
	}
	point := influxdb2.NewPoint(MeasurementStatus, deviceTags(deviceID), map[string]interface{}{
		"status": string(status),
		"active": status == engine.LivenessActive,
	}, w.now())
	if err := w.api.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: influx status: %v", engine.ErrTransientPersistence, err)
	}
	return nil
}

func deviceTags(deviceID string) map[string]string {
	tags := map[string]string{"device_id": deviceID}
	if floor, ok := engine.FloorFromDeviceID(deviceID); ok {
		tags["floor"] = fmt.Sprintf("%d", floor)
	}
	return tags
}
