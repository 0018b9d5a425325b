package provider

import (
	"context"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/session"
)

// oneShotExecutor satisfies the Executor contract for a single task running
// in the container-agentic mode outside of an explicit, caller-managed
// session: it creates a session, runs exactly one task inside it, and tears
// the session down on release rather than leaving it for reuse.
type oneShotExecutor struct {
	sessions  *session.Manager
	logger    *logger.Logger
	sessionID string
}

func (e *oneShotExecutor) Execute(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	sess, err := e.sessions.Create(ctx, model.SessionOptions{
		RepoURL:        task.Context.RepoURL,
		TimeoutSeconds: task.Context.TimeoutSeconds,
		Resources:      task.Context.Resources,
		Environment:    task.Context.Environment,
	})
	if err != nil {
		return &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     "failed to create session: " + err.Error(),
		}, nil
	}
	e.sessionID = sess.ID

	result, err := e.sessions.Execute(ctx, sess.ID, task)
	if err != nil {
		return &model.TaskResult{
			TaskID:    task.ID,
			SessionID: sess.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     err.Error(),
		}, nil
	}
	return result, nil
}

// Terminate ends the backing session. Idempotent: a no-op if no session
// was ever created (e.g. Execute failed before Create returned).
func (e *oneShotExecutor) Terminate(ctx context.Context) error {
	if e.sessionID == "" {
		return nil
	}
	return e.sessions.End(ctx, e.sessionID)
}

func (e *oneShotExecutor) IsHealthy(ctx context.Context) bool {
	return e.sessions != nil
}

func (e *oneShotExecutor) Status() model.ExecutorStatus {
	state := model.ExecutorIdle
	if e.sessionID != "" {
		if _, ok := e.sessions.Get(e.sessionID); ok {
			state = model.ExecutorExecuting
		}
	}
	return model.ExecutorStatus{
		Mode:  model.ModeContainerAgentic,
		State: state,
	}
}
