package provider

import (
	"context"
	"testing"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/executor"
	"github.com/claudecluster/core/internal/worker/registry"
	"github.com/claudecluster/core/internal/worker/session"
)

func testProviderLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// newBareSessionManager builds a session.Manager with an empty image
// registry and no Docker client. Create fails before ever touching Docker
// (no enabled image config), which is enough to exercise the provider's
// routing and the one-shot executor's error path without a live daemon.
func newBareSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	return session.NewManager("worker-1", nil, registry.NewRegistry(testProviderLogger(t)), nil, nil, testProviderLogger(t))
}

func TestProvider_GetExecutorProcessPool(t *testing.T) {
	pool := executor.NewPoolExecutor(executor.PoolConfig{MaxProcesses: 1}, testProviderLogger(t))
	p := New(Config{SupportsProcess: true, DefaultMode: model.ModeProcessPool}, pool, nil, testProviderLogger(t))

	ex, err := p.GetExecutor(context.Background(), &model.Task{ID: "t-1"}, "")
	if err != nil {
		t.Fatalf("GetExecutor returned error: %v", err)
	}
	if ex != Executor(pool) {
		t.Fatal("expected GetExecutor to return the pool itself for process-pool mode")
	}
}

func TestProvider_GetExecutorProcessPoolUnsupported(t *testing.T) {
	p := New(Config{SupportsProcess: false, DefaultMode: model.ModeProcessPool}, nil, nil, testProviderLogger(t))

	if _, err := p.GetExecutor(context.Background(), &model.Task{ID: "t-1"}, ""); err != ErrModeUnsupported {
		t.Fatalf("got error %v, want ErrModeUnsupported", err)
	}
}

func TestProvider_GetExecutorContainerAgentic(t *testing.T) {
	sessions := newBareSessionManager(t)
	p := New(Config{SupportsSession: true}, nil, sessions, testProviderLogger(t))

	task := &model.Task{ID: "t-1", Context: model.TaskContext{ExecutionMode: model.ModeContainerAgentic}}
	ex, err := p.GetExecutor(context.Background(), task, "")
	if err != nil {
		t.Fatalf("GetExecutor returned error: %v", err)
	}
	if _, ok := ex.(*oneShotExecutor); !ok {
		t.Fatalf("got executor type %T, want *oneShotExecutor", ex)
	}

	p.mu.Lock()
	_, tracked := p.oneShots[task.ID]
	p.mu.Unlock()
	if !tracked {
		t.Fatal("expected the one-shot executor to be tracked by task id")
	}
}

func TestProvider_GetExecutorContainerAgenticUnsupported(t *testing.T) {
	p := New(Config{SupportsSession: false}, nil, nil, testProviderLogger(t))

	task := &model.Task{ID: "t-1", Context: model.TaskContext{ExecutionMode: model.ModeContainerAgentic}}
	if _, err := p.GetExecutor(context.Background(), task, ""); err != ErrModeUnsupported {
		t.Fatalf("got error %v, want ErrModeUnsupported", err)
	}
}

func TestProvider_ResolveModeOrder(t *testing.T) {
	p := New(Config{DefaultMode: model.ModeProcessPool}, nil, nil, testProviderLogger(t))

	// task.Context wins over options and the worker default.
	task := &model.Task{Context: model.TaskContext{ExecutionMode: model.ModeContainerAgentic}}
	if got := p.resolveMode(task, model.ModeProcessPool); got != model.ModeContainerAgentic {
		t.Fatalf("got mode %v, want container-agentic (task context wins)", got)
	}

	// options wins over the worker default when task.Context names nothing.
	bare := &model.Task{}
	if got := p.resolveMode(bare, model.ModeContainerAgentic); got != model.ModeContainerAgentic {
		t.Fatalf("got mode %v, want container-agentic (options wins)", got)
	}

	// falls back to the worker default when neither names a mode.
	if got := p.resolveMode(bare, ""); got != model.ModeProcessPool {
		t.Fatalf("got mode %v, want the worker default process-pool", got)
	}
}

func TestProvider_ReleaseTerminatesOneShot(t *testing.T) {
	sessions := newBareSessionManager(t)
	p := New(Config{SupportsSession: true}, nil, sessions, testProviderLogger(t))

	task := &model.Task{ID: "t-1", Context: model.TaskContext{ExecutionMode: model.ModeContainerAgentic}}
	ex, err := p.GetExecutor(context.Background(), task, "")
	if err != nil {
		t.Fatalf("GetExecutor returned error: %v", err)
	}

	p.Release(context.Background(), task.ID, ex)

	p.mu.Lock()
	_, tracked := p.oneShots[task.ID]
	p.mu.Unlock()
	if tracked {
		t.Fatal("expected Release to drop the one-shot executor")
	}
}

func TestProvider_CleanupTerminatesOutstandingAndPool(t *testing.T) {
	pool := executor.NewPoolExecutor(executor.PoolConfig{MaxProcesses: 1}, testProviderLogger(t))
	sessions := newBareSessionManager(t)
	p := New(Config{SupportsProcess: true, SupportsSession: true}, pool, sessions, testProviderLogger(t))

	task := &model.Task{ID: "t-1", Context: model.TaskContext{ExecutionMode: model.ModeContainerAgentic}}
	if _, err := p.GetExecutor(context.Background(), task, ""); err != nil {
		t.Fatalf("GetExecutor returned error: %v", err)
	}

	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}

	p.mu.Lock()
	remaining := len(p.oneShots)
	p.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("got %d outstanding one-shots after Cleanup, want 0", remaining)
	}
}

func TestProvider_IsHealthy(t *testing.T) {
	pool := executor.NewPoolExecutor(executor.PoolConfig{MaxProcesses: 1}, testProviderLogger(t))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool Start returned error: %v", err)
	}

	p := New(Config{SupportsProcess: true}, pool, nil, testProviderLogger(t))
	if !p.IsHealthy(context.Background()) {
		t.Fatal("expected provider with a healthy pool to report healthy")
	}

	empty := New(Config{}, nil, nil, testProviderLogger(t))
	if empty.IsHealthy(context.Background()) {
		t.Fatal("expected a provider with no supported modes to report unhealthy")
	}
}

func TestOneShotExecutor_ExecuteFailsClosedWithoutAnEnabledImage(t *testing.T) {
	sessions := newBareSessionManager(t)
	ex := &oneShotExecutor{sessions: sessions, logger: testProviderLogger(t)}

	result, err := ex.Execute(context.Background(), &model.Task{ID: "t-1"})
	if err != nil {
		t.Fatalf("Execute returned a Go error, want a failed TaskResult: %v", err)
	}
	if result.Status != model.TaskFailed {
		t.Fatalf("got status %v, want failed", result.Status)
	}
}

func TestOneShotExecutor_TerminateNoSessionIsNoop(t *testing.T) {
	ex := &oneShotExecutor{sessions: newBareSessionManager(t), logger: testProviderLogger(t)}
	if err := ex.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}
}

func TestOneShotExecutor_StatusIdleWithoutSession(t *testing.T) {
	ex := &oneShotExecutor{sessions: newBareSessionManager(t), logger: testProviderLogger(t)}
	status := ex.Status()
	if status.Mode != model.ModeContainerAgentic || status.State != model.ExecutorIdle {
		t.Fatalf("got %+v, want container-agentic/idle", status)
	}
}
