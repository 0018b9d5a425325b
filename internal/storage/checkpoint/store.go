// Package checkpoint provides an optional durable mirror of driver state.
// The scheduler's source of truth is always the in-memory queue, worker
// registry and session map (§5); a Store is a best-effort write-behind
// snapshot used only to rehydrate that in-memory state after a driver
// restart. No code path blocks on a Store write succeeding.
package checkpoint

import (
	"context"

	"github.com/claudecluster/core/internal/model"
)

// Store persists tasks, their terminal results, and active sessions so a
// restarted driver can rebuild its in-memory state instead of starting
// from zero. Per spec §1 Non-goals, this is explicitly NOT a durable
// task-storage system. Task and result rows are never removed once written;
// only session rows are deleted, via DeleteSession.
type Store interface {
	SaveTask(ctx context.Context, task *model.Task) error
	SaveResult(ctx context.Context, result *model.TaskResult) error
	SaveSession(ctx context.Context, session *model.Session) error
	DeleteSession(ctx context.Context, id string) error

	// LoadAll returns every checkpointed task, result and session, used once
	// at driver startup.
	LoadAll(ctx context.Context) (Snapshot, error)

	Close() error
}

// Snapshot is everything a Store can hand back to rebuild driver state.
type Snapshot struct {
	Tasks    []*model.Task
	Results  []*model.TaskResult
	Sessions []*model.Session
}

// NewStore builds the Store named by driver ("memory", "sqlite", "postgres").
func NewStore(ctx context.Context, driver string, cfg Config) (Store, error) {
	switch driver {
	case "", "memory":
		return NewNoopStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, ErrUnknownDriver(driver)
	}
}

// Config carries the backend-specific connection parameters NewStore needs.
// It mirrors config.CheckpointConfig but stays decoupled from the config
// package so checkpoint has no import-cycle risk with common/config.
type Config struct {
	SQLitePath  string
	PostgresDSN string
}

// ErrUnknownDriver reports a checkpoint.driver value NewStore doesn't recognize.
type ErrUnknownDriver string

func (e ErrUnknownDriver) Error() string {
	return "checkpoint: unknown driver " + string(e)
}
