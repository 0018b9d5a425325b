package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claudecluster/core/internal/model"
)

// PostgresStore checkpoints driver state to a Postgres database via a
// pgxpool connection pool, for drivers run with multiple replicas sharing
// one checkpoint backend. Grounded on the same schema shape as SQLiteStore;
// nested fields are stored as JSONB rather than marshaled TEXT so they
// remain queryable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to Postgres and ensures the checkpoint schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: connect postgres: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint: init schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		dependencies JSONB NOT NULL DEFAULT '[]',
		context JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		artifacts JSONB NOT NULL DEFAULT '[]',
		metrics JSONB NOT NULL DEFAULT '{}',
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		options JSONB NOT NULL DEFAULT '{}'
	);
	`)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveTask upserts a task row.
func (s *PostgresStore) SaveTask(ctx context.Context, task *model.Task) error {
	deps, _ := json.Marshal(task.Dependencies)
	tctx, _ := json.Marshal(task.Context)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, title, category, priority, status, dependencies, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title=excluded.title, category=excluded.category, priority=excluded.priority,
			status=excluded.status, dependencies=excluded.dependencies, context=excluded.context,
			updated_at=excluded.updated_at
	`, task.ID, task.Title, task.Category, task.Priority, task.Status, deps, tctx, task.CreatedAt, task.UpdatedAt)
	return err
}

// SaveResult upserts a task's terminal result.
func (s *PostgresStore) SaveResult(ctx context.Context, result *model.TaskResult) error {
	artifacts, _ := json.Marshal(result.Artifacts)
	metrics, _ := json.Marshal(result.Metrics)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO results (task_id, session_id, status, output, artifacts, metrics, error_kind, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			session_id=excluded.session_id, status=excluded.status, output=excluded.output,
			artifacts=excluded.artifacts, metrics=excluded.metrics, error_kind=excluded.error_kind, error=excluded.error
	`, result.TaskID, result.SessionID, result.Status, result.Output, artifacts, metrics, result.ErrorKind, result.Error)
	return err
}

// SaveSession upserts a session row.
func (s *PostgresStore) SaveSession(ctx context.Context, session *model.Session) error {
	opts, _ := json.Marshal(session.Options)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, worker_id, endpoint, created_at, expires_at, last_activity, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			worker_id=excluded.worker_id, endpoint=excluded.endpoint,
			expires_at=excluded.expires_at, last_activity=excluded.last_activity, options=excluded.options
	`, session.ID, session.WorkerID, session.Endpoint, session.CreatedAt, session.ExpiresAt, session.LastActivity, opts)
	return err
}

// DeleteSession removes a session row.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// LoadAll reads every checkpointed task, result and session back out.
func (s *PostgresStore) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	taskRows, err := s.pool.Query(ctx, `SELECT id, title, category, priority, status, dependencies, context, created_at, updated_at FROM tasks`)
	if err != nil {
		return snap, err
	}
	for taskRows.Next() {
		var t model.Task
		var deps, tctx []byte
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Category, &t.Priority, &t.Status, &deps, &tctx, &t.CreatedAt, &t.UpdatedAt); err != nil {
			taskRows.Close()
			return snap, err
		}
		_ = json.Unmarshal(deps, &t.Dependencies)
		_ = json.Unmarshal(tctx, &t.Context)
		snap.Tasks = append(snap.Tasks, &t)
	}
	taskRows.Close()
	if err := taskRows.Err(); err != nil {
		return snap, err
	}

	resultRows, err := s.pool.Query(ctx, `SELECT task_id, session_id, status, output, artifacts, metrics, error_kind, error FROM results`)
	if err != nil {
		return snap, err
	}
	for resultRows.Next() {
		var r model.TaskResult
		var artifacts, metrics []byte
		if err := resultRows.Scan(&r.TaskID, &r.SessionID, &r.Status, &r.Output, &artifacts, &metrics, &r.ErrorKind, &r.Error); err != nil {
			resultRows.Close()
			return snap, err
		}
		_ = json.Unmarshal(artifacts, &r.Artifacts)
		_ = json.Unmarshal(metrics, &r.Metrics)
		snap.Results = append(snap.Results, &r)
	}
	resultRows.Close()
	if err := resultRows.Err(); err != nil {
		return snap, err
	}

	sessionRows, err := s.pool.Query(ctx, `SELECT id, worker_id, endpoint, created_at, expires_at, last_activity, options FROM sessions`)
	if err != nil {
		return snap, err
	}
	for sessionRows.Next() {
		var sess model.Session
		var opts []byte
		if err := sessionRows.Scan(&sess.ID, &sess.WorkerID, &sess.Endpoint, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity, &opts); err != nil {
			sessionRows.Close()
			return snap, err
		}
		_ = json.Unmarshal(opts, &sess.Options)
		snap.Sessions = append(snap.Sessions, &sess)
	}
	sessionRows.Close()
	if err := sessionRows.Err(); err != nil {
		return snap, err
	}

	return snap, nil
}
