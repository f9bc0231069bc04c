package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	stmts  []string
	failAt int
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if len(r.stmts) == r.failAt {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if len(db.stmts) != len(schema) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(schema))
	}
	if !strings.Contains(db.stmts[0], "CREATE TABLE IF NOT EXISTS push_events") {
		t.Errorf("first statement = %q, want push_events table", db.stmts[0])
	}
}

func TestEnsureSchemaError(t *testing.T) {
	db := &recordingExecer{failAt: 2}
	err := EnsureSchema(context.Background(), db)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "apply schema statement 1") {
		t.Errorf("error = %q, want statement index", err)
	}
	if len(db.stmts) != 2 {
		t.Errorf("executed %d statements, want to stop at 2", len(db.stmts))
	}
}
