package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/nkranes/signalflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// --- Graphs ---

// SaveGraph inserts or replaces a graph document, keyed by its ID. The full
// wire form is stored; name and version are denormalized for listing.
func (s *LibSQLStore) SaveGraph(ctx context.Context, g *schema.Graph) error {
	if g == nil || g.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "graph has no id")
	}
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, name, version, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, version=excluded.version, document=excluded.document,
		   updated_at=CURRENT_TIMESTAMP`,
		g.ID, g.Name, g.Version, string(doc),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save graph %q: %s", g.ID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*GraphRecord, error) {
	rec := &GraphRecord{}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, document, created_at, updated_at FROM graphs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.Version, &doc, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get graph %q: %s", id, err.Error()).WithCause(err)
	}
	rec.Document = json.RawMessage(doc)
	return rec, nil
}

func (s *LibSQLStore) ListGraphs(ctx context.Context) ([]*GraphRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, document, created_at, updated_at FROM graphs ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list graphs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var records []*GraphRecord
	for rows.Next() {
		rec := &GraphRecord{}
		var doc string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Version, &doc, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Document = json.RawMessage(doc)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete graph %q: %s", id, err.Error()).WithCause(err)
	}
	return checkRowsAffected(res, "graph", id)
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled run has no id")
	}
	if run.GraphID == "" || run.CronExpr == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled run needs graph_id and cron_expr")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, graph_id, cron_expr, enabled, last_run, next_run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphID, run.CronExpr, boolToInt(run.Enabled),
		nullTime(run.LastRun), nullTime(run.NextRun),
		timeOrNow(run.CreatedAt), timeOrNow(run.UpdatedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create scheduled run %q: %s", run.ID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	var where []string
	var args []any

	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}

	query := `SELECT id, graph_id, cron_expr, enabled, last_run, next_run, created_at, updated_at FROM scheduled_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list scheduled runs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var runs []*ScheduledRun
	for rows.Next() {
		run := &ScheduledRun{}
		var enabled int
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&run.ID, &run.GraphID, &run.CronExpr, &enabled,
			&lastRun, &nextRun, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.Enabled = enabled != 0
		if lastRun.Valid {
			run.LastRun = &lastRun.Time
		}
		if nextRun.Valid {
			run.NextRun = &nextRun.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.CronExpr != nil {
		sets = append(sets, "cron_expr = ?")
		args = append(args, *update.CronExpr)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRun != nil {
		sets = append(sets, "last_run = ?")
		args = append(args, *update.LastRun)
	}
	if update.NextRun != nil {
		sets = append(sets, "next_run = ?")
		args = append(args, *update.NextRun)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update scheduled run %q: %s", id, err.Error()).WithCause(err)
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete scheduled run %q: %s", id, err.Error()).WithCause(err)
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
