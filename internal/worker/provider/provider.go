// Package provider implements the worker's Execution Provider (spec §4.2):
// the single chokepoint between an incoming task and whichever Executor
// variant (process-pool or container-agentic) actually runs it.
package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/executor"
	"github.com/claudecluster/core/internal/worker/session"
)

// Executor is the contract both execution modes satisfy (spec §4.1):
// execute blocks until a terminal outcome and never itself fails the call;
// terminate is idempotent; isHealthy is fast and non-blocking; status is a
// point-in-time snapshot.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (*model.TaskResult, error)
	Terminate(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	Status() model.ExecutorStatus
}

// ErrModeUnsupported is the only failure mode GetExecutor itself returns -
// capacity exhaustion blocks instead of failing, per spec §4.2.
var ErrModeUnsupported = fmt.Errorf("execution mode not supported by this worker")

// Provider routes a task to the executor variant its resolved mode names,
// blocking for a free slot rather than failing when the pool is saturated.
type Provider struct {
	pool            *executor.PoolExecutor
	sessions        *session.Manager
	defaultMode     model.ExecutionMode
	supportsProcess bool
	supportsSession bool

	logger *logger.Logger

	mu       sync.Mutex
	oneShots map[string]*oneShotExecutor
}

// Config selects which variants this worker exposes and the default mode
// used when a task names none (spec §4.2's mode-routing fallback chain).
type Config struct {
	DefaultMode     model.ExecutionMode
	SupportsProcess bool
	SupportsSession bool
}

// New builds a Provider. pool and sessions may be nil when their
// corresponding mode is disabled.
func New(cfg Config, pool *executor.PoolExecutor, sessions *session.Manager, log *logger.Logger) *Provider {
	return &Provider{
		pool:            pool,
		sessions:        sessions,
		defaultMode:     cfg.DefaultMode,
		supportsProcess: cfg.SupportsProcess,
		supportsSession: cfg.SupportsSession,
		logger:          log.WithFields(zap.String("component", "execution_provider")),
		oneShots:        make(map[string]*oneShotExecutor),
	}
}

// resolveMode implements spec §4.2's routing order: task.context then
// options then worker default.
func (p *Provider) resolveMode(task *model.Task, optionsMode model.ExecutionMode) model.ExecutionMode {
	if task.Context.ExecutionMode != "" {
		return task.Context.ExecutionMode
	}
	if optionsMode != "" {
		return optionsMode
	}
	return p.defaultMode
}

// GetExecutor returns the executor for task's resolved mode without
// waiting for capacity. The only error it returns is ErrModeUnsupported;
// capacity exhaustion is absorbed by blocking inside the underlying
// executor (PoolExecutor.Execute waits for a free slot).
func (p *Provider) GetExecutor(ctx context.Context, task *model.Task, optionsMode model.ExecutionMode) (Executor, error) {
	mode := p.resolveMode(task, optionsMode)

	switch mode {
	case model.ModeProcessPool:
		if !p.supportsProcess || p.pool == nil {
			return nil, ErrModeUnsupported
		}
		return p.pool, nil
	case model.ModeContainerAgentic:
		if !p.supportsSession || p.sessions == nil {
			return nil, ErrModeUnsupported
		}
		oneShot := &oneShotExecutor{sessions: p.sessions, logger: p.logger}
		p.mu.Lock()
		p.oneShots[task.ID] = oneShot
		p.mu.Unlock()
		return oneShot, nil
	default:
		return nil, ErrModeUnsupported
	}
}

// Release returns an executor to its pool (process-pool: no-op, the pool
// manages its own slot bookkeeping internally) or terminates and drops it
// (container one-shot: the session backing it is torn down immediately).
func (p *Provider) Release(ctx context.Context, taskID string, ex Executor) {
	if oneShot, ok := ex.(*oneShotExecutor); ok {
		_ = oneShot.Terminate(ctx)
		p.mu.Lock()
		delete(p.oneShots, taskID)
		p.mu.Unlock()
	}
}

// Cleanup terminates every outstanding one-shot executor. Idempotent.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	oneShots := make([]*oneShotExecutor, 0, len(p.oneShots))
	for id, oneShot := range p.oneShots {
		oneShots = append(oneShots, oneShot)
		delete(p.oneShots, id)
	}
	p.mu.Unlock()

	for _, oneShot := range oneShots {
		_ = oneShot.Terminate(ctx)
	}

	if p.pool != nil {
		return p.pool.Terminate(ctx)
	}
	return nil
}

// IsHealthy reports whether at least one enabled mode is currently healthy.
func (p *Provider) IsHealthy(ctx context.Context) bool {
	if p.supportsProcess && p.pool != nil && p.pool.IsHealthy(ctx) {
		return true
	}
	if p.supportsSession && p.sessions != nil {
		return true
	}
	return false
}
