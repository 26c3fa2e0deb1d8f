package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	engine "restroom-cloud/internal/engine/domain"
)

const (
	defaultConfigTable = "engine_config"
	configRowID        = "default"
)

// DBTX is the subset of *sql.DB used by the repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConfigRepository stores the active engine config as a single JSON row.
type ConfigRepository struct {
	db    DBTX
	table string
}

// ConfigOption configures the repository.
type ConfigOption func(*ConfigRepository)

// WithConfigTable overrides the default table name.
func WithConfigTable(table string) ConfigOption {
	return func(repo *ConfigRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewConfigRepository constructs a repository.
func NewConfigRepository(db DBTX, opts ...ConfigOption) *ConfigRepository {
	repo := &ConfigRepository{db: db, table: defaultConfigTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Load returns the persisted config; ok is false when none was saved yet.
func (r *ConfigRepository) Load(ctx context.Context) (engine.Config, bool, error) {
	if r == nil || r.db == nil {
		return engine.Config{}, false, errors.New("config repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, configRowID).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.Config{}, false, nil
		}
		return engine.Config{}, false, err
	}
	var cfg engine.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return engine.Config{}, false, fmt.Errorf("config repo: decode: %w", err)
	}
	return cfg, true, nil
}

// Save upserts the config row.
func (r *ConfigRepository) Save(ctx context.Context, cfg engine.Config) error {
	if r == nil || r.db == nil {
		return errors.New("config repo: nil db")
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, r.table)

	if _, err := r.db.ExecContext(ctx, query, configRowID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: save config: %v", engine.ErrTransientPersistence, err)
	}
	return nil
}
