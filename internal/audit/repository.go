package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultAuditTable = "audit_logs"

// DBTX is the subset of *sql.DB the repository needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository appends audit entries to Postgres.
type Repository struct {
	db    DBTX
	table string
	now   func() time.Time
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithAuditTable overrides the table name.
func WithAuditTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRepository constructs an audit repository.
func NewRepository(db DBTX, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, errors.New("audit: nil db")
	}
	repo := &Repository{db: db, table: defaultAuditTable, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// Log stores entry, filling its id, time and payload digest when unset.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil {
		return errors.New("audit: nil repository")
	}
	entry = r.complete(entry)
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, actor, role, action, resource_type, resource_id, metadata, payload_digest, ip, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, r.table)
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType,
		entry.ResourceID, metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt); err != nil {
		return fmt.Errorf("audit: insert %s: %w", entry.Action, err)
	}
	return nil
}

func (r *Repository) complete(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}
