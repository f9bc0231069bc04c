package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement without returning rows. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the push_events table. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS push_events (
		id          UUID PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
		source      TEXT NOT NULL,
		payload     JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS push_events_received_at_idx ON push_events (received_at)`,
	`CREATE INDEX IF NOT EXISTS push_events_source_idx ON push_events (source, received_at)`,
}

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
