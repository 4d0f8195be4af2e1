package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// LibSQL implements Journal on an embedded libSQL database (SQLite
// fork). A single connection with WAL journaling keeps archive writes
// cheap enough to run inline at end of run.
type LibSQL struct {
	db *sql.DB
}

var _ Journal = (*LibSQL)(nil)

// NewLibSQL opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQL(dbPath string) (*LibSQL, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow instead of Exec.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQL{db: db}, nil
}

// Migrate applies pending schema migrations.
func (j *LibSQL) Migrate(ctx context.Context) error {
	return runMigrations(ctx, j.db)
}

// Close closes the database.
func (j *LibSQL) Close() error { return j.db.Close() }

// RecordRun archives one finished run and its task results in a single
// transaction. Re-recording a run id replaces the earlier rows.
func (j *LibSQL) RecordRun(ctx context.Context, result *schema.WorkflowResult) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, started_at, completed_at, duration_ms, completion_rate)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   mode=excluded.mode, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms,
		   completion_rate=excluded.completion_rate`,
		result.RunID, string(result.Mode), result.StartedAt.UTC(), result.CompletedAt.UTC(),
		result.Duration.Milliseconds(), result.CompletionRate,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_results WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("clear task results: %w", err)
	}

	for _, id := range sortedTaskIDs(result.Results) {
		tr := result.Results[id]
		output, err := nullableOutput(tr.Output)
		if err != nil {
			return fmt.Errorf("marshal output for task %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_results (run_id, task_id, status, output, error, skip_reason, attempts, started_at, completed_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, id, string(tr.Status), output,
			nullStr(tr.Error), nullStr(tr.SkipReason), tr.Attempts,
			nullTime(tr.StartedAt), nullTime(tr.CompletedAt),
			tr.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert task result %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecordFallback archives one provider fallback event. Events are
// immutable; re-recording an id is a no-op.
func (j *LibSQL) RecordFallback(ctx context.Context, event schema.FallbackEvent) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fallback_events (id, request_id, timestamp, from_provider, to_provider, reason, attempts, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		event.ID, event.RequestID, timeOrNow(event.Timestamp), event.FromProvider,
		nullStr(event.ToProvider), string(event.Reason), event.Attempts,
		event.Success, nullStr(event.Error),
	)
	if err != nil {
		return fmt.Errorf("insert fallback event: %w", err)
	}
	return nil
}

// ListRuns returns archived runs newest first, each with its task rows.
// limit <= 0 returns every run.
func (j *LibSQL) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT run_id, mode, started_at, completed_at, duration_ms, completion_rate
	          FROM runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &r.CompletedAt,
			&r.DurationMs, &r.CompletionRate); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range runs {
		tasks, err := j.listTasks(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		r.Tasks = tasks
	}
	return runs, nil
}

func (j *LibSQL) listTasks(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, task_id, status, output, error, skip_reason, attempts, started_at, completed_at, duration_ms
		 FROM task_results WHERE run_id = ? ORDER BY started_at, task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		tr := &TaskRecord{}
		var output, errMsg, skip sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&tr.RunID, &tr.TaskID, &tr.Status, &output, &errMsg, &skip,
			&tr.Attempts, &startedAt, &completedAt, &tr.DurationMs); err != nil {
			return nil, err
		}
		tr.Output = rawOrNil(output)
		tr.Error = errMsg.String
		tr.SkipReason = skip.String
		if startedAt.Valid {
			t := startedAt.Time
			tr.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			tr.CompletedAt = &t
		}
		tasks = append(tasks, tr)
	}
	return tasks, rows.Err()
}

// ListFallbacks returns archived fallback events newest first. limit <= 0
// returns every event.
func (j *LibSQL) ListFallbacks(ctx context.Context, limit int) ([]*FallbackRecord, error) {
	query := `SELECT id, request_id, timestamp, from_provider, to_provider, reason, attempts, success, error
	          FROM fallback_events ORDER BY timestamp DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*FallbackRecord
	for rows.Next() {
		fr := &FallbackRecord{}
		var to, errMsg sql.NullString
		if err := rows.Scan(&fr.ID, &fr.RequestID, &fr.Timestamp, &fr.FromProvider, &to,
			&fr.Reason, &fr.Attempts, &fr.Success, &errMsg); err != nil {
			return nil, err
		}
		fr.ToProvider = to.String
		fr.Error = errMsg.String
		events = append(events, fr)
	}
	return events, rows.Err()
}

// --- Helpers ---

func sortedTaskIDs(results map[string]*schema.TaskResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func nullableOutput(out schema.TaskOutput) (any, error) {
	if out.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
