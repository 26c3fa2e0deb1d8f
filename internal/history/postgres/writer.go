package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	engine "restroom-cloud/internal/engine/domain"
)

const (
	defaultHistoryTable = "device_history"
	defaultDevicesTable = "devices"
)

// DBTX is the subset of *sql.DB used by the writer.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer appends routine snapshots and mirrors device liveness to Postgres.
type Writer struct {
	db           DBTX
	historyTable string
	devicesTable string
	now          func() time.Time
}

// Option configures the writer.
type Option func(*Writer)

// WithHistoryTable overrides the history table name.
func WithHistoryTable(table string) Option {
	return func(w *Writer) {
		if table != "" {
			w.historyTable = table
		}
	}
}

// WithDevicesTable overrides the devices table name.
func WithDevicesTable(table string) Option {
	return func(w *Writer) {
		if table != "" {
			w.devicesTable = table
		}
	}
}

// NewWriter constructs a writer.
func NewWriter(db DBTX, opts ...Option) (*Writer, error) {
	if db == nil {
		return nil, errors.New("history writer: nil db")
	}
	w := &Writer{
		db:           db,
		historyTable: defaultHistoryTable,
		devicesTable: defaultDevicesTable,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// AppendHistory inserts one history row.
func (w *Writer) AppendHistory(ctx context.Context, snapshot engine.Snapshot) error {
	if w == nil || w.db == nil {
		return errors.New("history writer: nil db")
	}
	if snapshot.DeviceID == "" {
		return errors.New("history writer: empty device id")
	}
	recordedAt := snapshot.Timestamp.UTC()
	if recordedAt.IsZero() {
		recordedAt = w.now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id, amonia, water, soap, tissue, status, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, w.historyTable)

	if _, err := w.db.ExecContext(ctx, query,
		snapshot.DeviceID,
		snapshot.Amonia,
		snapshot.Water,
		snapshot.Soap,
		snapshot.Tissue,
		string(snapshot.Status),
		recordedAt,
	); err != nil {
		return fmt.Errorf("%w: append history: %v", engine.ErrTransientPersistence, err)
	}
	return nil
}

// UpdateLivenessStatus upserts the device's status column.
func (w *Writer) UpdateLivenessStatus(ctx context.Context, deviceID string, status engine.Liveness) error {
	if w == nil || w.db == nil {
		return errors.New("history writer: nil db")
	}
	if deviceID == "" {
		return errors.New("history writer: empty device id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, status, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`, w.devicesTable)

	if _, err := w.db.ExecContext(ctx, query, deviceID, string(status), w.now()); err != nil {
		return fmt.Errorf("%w: update liveness: %v", engine.ErrTransientPersistence, err)
	}
	return nil
}
