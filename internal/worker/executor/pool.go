package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
)

const killGracePeriod = 10 * time.Second

// process wraps one reusable child process and the line-oriented client
// talking to it over stdin/stdout.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	client *Client

	mu             sync.Mutex
	state          model.ExecutorState
	tasksCompleted int
	startedAt      time.Time
}

// PoolExecutor is the process-pool Executor variant: a fixed number of
// reusable child processes, each claimed by at most one task at a time and
// returned to the pool when the task reaches a terminal state.
type PoolExecutor struct {
	claudeCodePath string
	maxProcesses   int
	processTimeout time.Duration
	reuseProcesses bool

	logger *logger.Logger

	mu        sync.Mutex
	processes []*process
	freeIdx   chan int
	nextID    atomic.Int64
}

// PoolConfig mirrors the worker config's ProcessPool options (spec §6).
type PoolConfig struct {
	MaxProcesses   int
	ProcessTimeout time.Duration
	ClaudeCodePath string
	ReuseProcesses bool
}

// NewPoolExecutor creates a pool with no processes started yet; processes
// are spawned lazily on first acquire.
func NewPoolExecutor(cfg PoolConfig, log *logger.Logger) *PoolExecutor {
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = 1
	}
	return &PoolExecutor{
		claudeCodePath: cfg.ClaudeCodePath,
		maxProcesses:   cfg.MaxProcesses,
		processTimeout: cfg.ProcessTimeout,
		reuseProcesses: cfg.ReuseProcesses,
		logger:         log.WithFields(zap.String("component", "pool_executor")),
		processes:      make([]*process, cfg.MaxProcesses),
		freeIdx:        make(chan int, cfg.MaxProcesses),
	}
}

// Start pre-fills the free-slot channel so acquires don't block on the
// first round of tasks.
func (p *PoolExecutor) Start(ctx context.Context) error {
	for i := 0; i < p.maxProcesses; i++ {
		p.freeIdx <- i
	}
	return nil
}

// Execute blocks until a free process slot is available, runs task to
// completion (or timeout), and returns the slot to the pool. It never
// itself returns an error for a task-level failure - that is reported
// inside the TaskResult, per spec §4.1's "execute never fails the call".
func (p *PoolExecutor) Execute(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	var idx int
	select {
	case idx = <-p.freeIdx:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.freeIdx <- idx }()

	proc, err := p.acquireProcess(ctx, idx)
	if err != nil {
		return &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     fmt.Sprintf("failed to start process: %v", err),
		}, nil
	}

	timeout := p.processTimeout
	if task.Context.TimeoutSeconds > 0 {
		timeout = time.Duration(task.Context.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startedAt := time.Now()
	params, _ := json.Marshal(ExecuteTaskParams{
		TaskID:      task.ID,
		Title:       task.Title,
		Description: task.Description,
		WorkingDir:  task.Context.WorkingDir,
		Env:         task.Context.Environment,
	})

	proc.mu.Lock()
	proc.state = model.ExecutorExecuting
	proc.mu.Unlock()

	resp, err := proc.client.Call(execCtx, MethodExecuteTask, json.RawMessage(params))

	metrics := model.TaskMetrics{StartedAt: startedAt, EndedAt: time.Now()}
	metrics.Duration = metrics.EndedAt.Sub(startedAt)

	proc.mu.Lock()
	proc.state = model.ExecutorIdle
	proc.mu.Unlock()

	if err != nil {
		if execCtx.Err() != nil {
			p.killAndRespawn(idx, proc)
			return &model.TaskResult{
				TaskID:    task.ID,
				Status:    model.TaskFailed,
				ErrorKind: model.ErrKindTimedOut,
				Error:     "task exceeded timeout",
				Metrics:   metrics,
			}, nil
		}
		return &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     err.Error(),
			Metrics:   metrics,
		}, nil
	}

	if resp.Error != nil {
		return &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     resp.Error.Message,
			Metrics:   metrics,
		}, nil
	}

	var result ExecuteTaskResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     fmt.Sprintf("malformed task/execute result: %v", err),
			Metrics:   metrics,
		}, nil
	}

	proc.mu.Lock()
	proc.tasksCompleted++
	proc.mu.Unlock()

	if !p.reuseProcesses {
		p.killAndRespawn(idx, proc)
	}

	return &model.TaskResult{
		TaskID:    task.ID,
		Status:    model.TaskCompleted,
		Output:    result.Output,
		Artifacts: snapshotWorkspace(task.Context.WorkingDir),
		Metrics:   metrics,
	}, nil
}

// Terminate stops every pooled process. Idempotent.
func (p *PoolExecutor) Terminate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, proc := range p.processes {
		if proc == nil {
			continue
		}
		p.stopProcess(proc)
		p.processes[i] = nil
	}
	return nil
}

// IsHealthy reports whether the pool can still accept work - fast and
// non-blocking per spec §4.1, never itself spawning a process.
func (p *PoolExecutor) IsHealthy(ctx context.Context) bool {
	select {
	case idx := <-p.freeIdx:
		p.freeIdx <- idx
		return true
	default:
		return true // all slots busy is healthy, just saturated
	}
}

// Status returns a snapshot of pool occupancy.
func (p *PoolExecutor) Status() model.ExecutorStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed := 0
	state := model.ExecutorIdle
	var oldestStart time.Time
	for _, proc := range p.processes {
		if proc == nil {
			continue
		}
		proc.mu.Lock()
		completed += proc.tasksCompleted
		if proc.state == model.ExecutorExecuting {
			state = model.ExecutorExecuting
		}
		if oldestStart.IsZero() || proc.startedAt.Before(oldestStart) {
			oldestStart = proc.startedAt
		}
		proc.mu.Unlock()
	}

	uptime := 0.0
	if !oldestStart.IsZero() {
		uptime = time.Since(oldestStart).Seconds()
	}

	return model.ExecutorStatus{
		Mode:           model.ModeProcessPool,
		State:          state,
		UptimeSeconds:  uptime,
		TasksCompleted: completed,
	}
}

func (p *PoolExecutor) acquireProcess(ctx context.Context, idx int) (*process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processes[idx] != nil {
		return p.processes[idx], nil
	}

	proc, err := p.spawnProcess(ctx)
	if err != nil {
		return nil, err
	}
	p.processes[idx] = proc
	return proc, nil
}

func (p *PoolExecutor) spawnProcess(ctx context.Context) (*process, error) {
	cmd := exec.Command(p.claudeCodePath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	client := NewClient(stdin, bufio.NewReader(stdout), p.logger)
	client.Start(context.Background())

	return &process{
		cmd:       cmd,
		stdin:     stdin,
		client:    client,
		state:     model.ExecutorIdle,
		startedAt: time.Now(),
	}, nil
}

func (p *PoolExecutor) killAndRespawn(idx int, proc *process) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processes[idx] == proc {
		p.stopProcess(proc)
		p.processes[idx] = nil
	}
}

func (p *PoolExecutor) stopProcess(proc *process) {
	proc.client.Stop()

	done := make(chan error, 1)
	go func() { done <- proc.cmd.Wait() }()

	_ = proc.stdin.Close()

	select {
	case <-done:
	case <-time.After(killGracePeriod):
		p.logger.Warn("process did not exit after stdin close, killing")
		_ = proc.cmd.Process.Kill()
		<-done
	}
}
