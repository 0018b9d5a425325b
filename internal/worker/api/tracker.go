package api

import (
	"context"
	"sync"
	"time"

	"github.com/claudecluster/core/internal/model"
)

// trackedTask is the worker-local record of one dispatched task, polled by
// the driver via GET /tasks/{id} until it reaches a terminal status.
type trackedTask struct {
	task     *model.Task
	ctx      context.Context
	mu       sync.RWMutex
	status   model.TaskStatus
	progress float64
	step     string
	result   *model.TaskResult
	cancel   context.CancelFunc
}

func (t *trackedTask) snapshot() (model.TaskStatus, float64, string, *model.TaskResult) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status, t.progress, t.step, t.result
}

func (t *trackedTask) setRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = model.TaskRunning
}

// setProgress enforces spec §4.3's monotone-non-decreasing invariant: a
// regressing update is silently dropped rather than surfaced as an error,
// since it reflects a bug in the executor, not something the caller did.
func (t *trackedTask) setProgress(progress float64, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if progress < t.progress {
		return
	}
	t.progress = progress
	t.step = step
}

func (t *trackedTask) complete(result *model.TaskResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.status = result.Status
	t.result = result
	if result.Status == model.TaskCompleted {
		t.progress = 1
	}
}

func (t *trackedTask) cancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.status = model.TaskCancelled
	t.result = &model.TaskResult{
		TaskID: t.task.ID,
		Status: model.TaskCancelled,
	}
}

// tracker holds every task this worker currently knows about, whether
// in-flight or completed but not yet evicted.
type tracker struct {
	mu    sync.RWMutex
	tasks map[string]*trackedTask
}

func newTracker() *tracker {
	return &tracker{tasks: make(map[string]*trackedTask)}
}

func (tr *tracker) start(task *model.Task) (*trackedTask, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if existing, exists := tr.tasks[task.ID]; exists {
		return existing, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	tt := &trackedTask{
		task:   task,
		ctx:    ctx,
		status: model.TaskPending,
		cancel: cancel,
	}
	tr.tasks[task.ID] = tt
	return tt, true
}

func (tr *tracker) get(taskID string) (*trackedTask, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tt, ok := tr.tasks[taskID]
	return tt, ok
}

// activeCount returns the number of tasks not yet in a terminal state.
func (tr *tracker) activeCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	count := 0
	for _, tt := range tr.tasks {
		status, _, _, _ := tt.snapshot()
		if !status.IsTerminal() {
			count++
		}
	}
	return count
}

// evictAfter removes a completed task from the tracker after a grace
// window, bounding unbounded memory growth on long-running workers.
func (tr *tracker) evictAfter(taskID string, d time.Duration) {
	time.AfterFunc(d, func() {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		delete(tr.tasks, taskID)
	})
}
