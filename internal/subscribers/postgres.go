package subscribers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSubscriberTable = "subscribers"

// PostgresDirectory reads assignments from the subscribers table.
type PostgresDirectory struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory)

// WithSubscriberTable overrides the table name.
func WithSubscriberTable(table string) PostgresOption {
	return func(d *PostgresDirectory) {
		if table != "" {
			d.table = table
		}
	}
}

// NewPostgresDirectory constructs a directory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("subscribers: nil pool")
	}
	d := &PostgresDirectory{pool: pool, table: defaultSubscriberTable}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ListSubscribers returns active assignments.
func (d *PostgresDirectory) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	if d == nil || d.pool == nil {
		return nil, errNilDirectory
	}
	query := fmt.Sprintf(`
SELECT subscriber_id, COALESCE(name, ''), floor
FROM %s
WHERE active = true
ORDER BY floor ASC, subscriber_id ASC`, d.table)

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("subscribers: query: %w", err)
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Floor); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
