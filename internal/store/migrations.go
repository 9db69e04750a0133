package store

import (
	"context"
	_ "embed"
	"strings"

	"github.com/nkranes/signalflow/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

// graphMigration is one versioned step of the graph store's schema history.
type graphMigration struct {
	version int
	name    string
	sql     string
}

// graphMigrations is the ordered schema history of the graph store.
// Append only; applied versions are recorded in schema_version and never
// re-run.
var graphMigrations = []graphMigration{
	{version: 1, name: "graphs_and_schedules", sql: initialSchemaSQL},
}

// Migrate brings the database up to the latest schema version. Each pending
// migration runs in its own transaction and already-applied versions are
// skipped, so calling Migrate on every open is safe.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create schema_version: %s", err.Error()).WithCause(err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "read schema_version: %s", err.Error()).WithCause(err)
	}

	for _, m := range graphMigrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *LibSQLStore) applyMigration(ctx context.Context, m graphMigration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin migration %d: %s", m.version, err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	for _, stmt := range sqlStatements(m.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "migration %d (%s): %s", m.version, m.name, err.Error()).WithCause(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record migration %d: %s", m.version, err.Error()).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit migration %d: %s", m.version, err.Error()).WithCause(err)
	}
	return nil
}

// sqlStatements splits an embedded migration script into executable
// statements, dropping blank and comment-only chunks.
func sqlStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(chunk)
		if stmt == "" || commentOnly(stmt) {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

func commentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
