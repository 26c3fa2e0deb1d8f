package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"restroom-cloud/internal/eventing"
)

const defaultDLQTable = "engine_dead_letters"

// DLQStore keeps engine events whose handlers failed. Events are dispatched once,
// so a dead letter is written once and never replayed.
type DLQStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	store := &DLQStore{db: db, table: defaultDLQTable, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// RecordFailure stores the envelope with the handler error. A repeated event id
// keeps the first record.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dlq store: encode %s: %w", env.EventID, err)
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	failedAt := s.now()

	query := fmt.Sprintf(`
INSERT INTO %s (event_id, event_type, device_id, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id) DO NOTHING`, s.table)
	if _, err := s.db.ExecContext(ctx, query, env.EventID, env.EventType, env.DeviceID, payload, reason, failedAt); err != nil {
		return fmt.Errorf("dlq store: insert %s: %w", env.EventID, err)
	}
	return nil
}

// Depth counts stored dead letters.
func (s *DLQStore) Depth(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("dlq store: nil db")
	}
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count)
	return count, err
}
