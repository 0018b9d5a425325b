package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/claudecluster/core/internal/model"
)

// SQLiteStore checkpoints driver state to a local SQLite file. Grounded on
// the teacher's repository.SQLiteRepository: one *sql.DB, a single-writer
// connection pool, JSON-marshaled columns for nested structures, and
// schema creation on open.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if absent) a SQLite checkpoint database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		dependencies TEXT NOT NULL DEFAULT '[]',
		context TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		task_id TEXT PRIMARY KEY,
		session_id TEXT DEFAULT '',
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		artifacts TEXT NOT NULL DEFAULT '[]',
		metrics TEXT NOT NULL DEFAULT '{}',
		error_kind TEXT DEFAULT '',
		error TEXT DEFAULT '',
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		options TEXT NOT NULL DEFAULT '{}'
	);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTask upserts a task row.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *model.Task) error {
	deps, _ := json.Marshal(task.Dependencies)
	tctx, _ := json.Marshal(task.Context)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, category, priority, status, dependencies, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, category=excluded.category, priority=excluded.priority,
			status=excluded.status, dependencies=excluded.dependencies, context=excluded.context,
			updated_at=excluded.updated_at
	`, task.ID, task.Title, task.Category, task.Priority, task.Status, string(deps), string(tctx), task.CreatedAt, task.UpdatedAt)
	return err
}

// SaveResult upserts a task's terminal result. Callers must not call this
// twice for the same task id with a different result - TaskResult is
// immutable once written (§3 invariant); the store enforces nothing here,
// the scheduler is the single writer.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *model.TaskResult) error {
	artifacts, _ := json.Marshal(result.Artifacts)
	metrics, _ := json.Marshal(result.Metrics)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (task_id, session_id, status, output, artifacts, metrics, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			session_id=excluded.session_id, status=excluded.status, output=excluded.output,
			artifacts=excluded.artifacts, metrics=excluded.metrics, error_kind=excluded.error_kind, error=excluded.error
	`, result.TaskID, result.SessionID, result.Status, result.Output, string(artifacts), string(metrics), result.ErrorKind, result.Error)
	return err
}

// SaveSession upserts a session row.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *model.Session) error {
	opts, _ := json.Marshal(session.Options)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, worker_id, endpoint, created_at, expires_at, last_activity, options)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id=excluded.worker_id, endpoint=excluded.endpoint,
			expires_at=excluded.expires_at, last_activity=excluded.last_activity, options=excluded.options
	`, session.ID, session.WorkerID, session.Endpoint, session.CreatedAt, session.ExpiresAt, session.LastActivity, string(opts))
	return err
}

// DeleteSession removes a session row, called once the session ends or is swept.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// LoadAll reads every checkpointed task, result and session back out.
func (s *SQLiteStore) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	taskRows, err := s.db.QueryContext(ctx, `SELECT id, title, category, priority, status, dependencies, context, created_at, updated_at FROM tasks`)
	if err != nil {
		return snap, err
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var t model.Task
		var deps, tctx string
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Category, &t.Priority, &t.Status, &deps, &tctx, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return snap, err
		}
		_ = json.Unmarshal([]byte(deps), &t.Dependencies)
		_ = json.Unmarshal([]byte(tctx), &t.Context)
		snap.Tasks = append(snap.Tasks, &t)
	}
	if err := taskRows.Err(); err != nil {
		return snap, err
	}

	resultRows, err := s.db.QueryContext(ctx, `SELECT task_id, session_id, status, output, artifacts, metrics, error_kind, error FROM results`)
	if err != nil {
		return snap, err
	}
	defer resultRows.Close()
	for resultRows.Next() {
		var r model.TaskResult
		var artifacts, metrics string
		if err := resultRows.Scan(&r.TaskID, &r.SessionID, &r.Status, &r.Output, &artifacts, &metrics, &r.ErrorKind, &r.Error); err != nil {
			return snap, err
		}
		_ = json.Unmarshal([]byte(artifacts), &r.Artifacts)
		_ = json.Unmarshal([]byte(metrics), &r.Metrics)
		snap.Results = append(snap.Results, &r)
	}
	if err := resultRows.Err(); err != nil {
		return snap, err
	}

	sessionRows, err := s.db.QueryContext(ctx, `SELECT id, worker_id, endpoint, created_at, expires_at, last_activity, options FROM sessions`)
	if err != nil {
		return snap, err
	}
	defer sessionRows.Close()
	for sessionRows.Next() {
		var sess model.Session
		var opts string
		if err := sessionRows.Scan(&sess.ID, &sess.WorkerID, &sess.Endpoint, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity, &opts); err != nil {
			return snap, err
		}
		_ = json.Unmarshal([]byte(opts), &sess.Options)
		snap.Sessions = append(snap.Sessions, &sess)
	}
	if err := sessionRows.Err(); err != nil {
		return snap, err
	}

	return snap, nil
}
