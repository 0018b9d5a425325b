// Package scheduler is the driver's orchestrator (spec §4.4): the single
// logical owner of the task queue, worker registry, execution-context map,
// session registry, and stats. Every mutation of that state goes through a
// method on *Scheduler guarded by one mutex - the "single-writer" model
// spec §5 requires - while three background loops (dispatch tick, worker
// health check, stats update) run concurrently against it, grounded on the
// ticker-plus-stopCh loop shape of cuemby-warren/pkg/scheduler.Scheduler,
// generalized from node/service scheduling to task/worker scheduling.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/config"
	apperrors "github.com/claudecluster/core/internal/common/errors"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/progress"
	"github.com/claudecluster/core/internal/driver/queue"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/storage/checkpoint"
)

// Event subjects the scheduler publishes, mirroring spec §4.4's named
// event kinds.
const (
	EventTaskStarted         = "task.started"
	EventTaskProgress        = "task.progress"
	EventTaskCompleted       = "task.completed"
	EventWorkerHealthChanged = "worker.health_changed"
	EventStatsUpdated        = "stats.updated"
)

// Scheduler is the driver's orchestrator. Construct with New, then Start
// before submitting tasks.
type Scheduler struct {
	mu sync.Mutex

	cfg config.SchedulerConfig
	exec config.ExecutionConfig

	queue    *queue.TaskQueue
	workers  *registry.Registry
	sessions *session.Registry
	clients  *client.Pool

	tasks    map[string]*model.Task
	results  map[string]*model.TaskResult
	contexts map[string]*model.ExecutionContext

	// waiting holds submitted tasks whose declared dependencies have not
	// all completed yet; dispatched holds the in-flight QueuedTask for a
	// running task so a failure can call queue.Requeue on the same object
	// (preserving its RetryCount/LastAttempt history).
	waiting    map[string]*model.Task
	dispatched map[string]*model.QueuedTask

	decomposed    map[string]*model.DecomposedTask
	pendingMerges map[string]*model.PendingMerge
	childToParent map[string]string

	stats     model.SchedulerStats
	startedAt time.Time

	eventBus bus.EventBus
	logger   *logger.Logger

	// progress is optional: when set, every poll's progress update is
	// mirrored there so GET /tasks/{id}/progress has something to serve
	// between terminal results.
	progress *progress.Handler

	// checkpoint is optional: when set, task/result writes are mirrored
	// there so a restarted driver can rehydrate via LoadCheckpoint instead
	// of starting from zero.
	checkpoint checkpoint.Store

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetProgressHandler attaches the progress buffer the dispatch loop mirrors
// poll updates into. Optional; nil (the default) disables progress buffering.
func (s *Scheduler) SetProgressHandler(h *progress.Handler) {
	s.progress = h
}

// SetCheckpointStore attaches the durable mirror Save calls write behind
// to. Optional; nil (the default, and what New leaves it as) disables
// checkpointing entirely.
func (s *Scheduler) SetCheckpointStore(store checkpoint.Store) {
	s.checkpoint = store
}

// checkpointTask mirrors a task write to the checkpoint store, if any.
// Best-effort: a failure is logged, never propagated - the in-memory
// scheduler state is always authoritative.
func (s *Scheduler) checkpointTask(task *model.Task) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.SaveTask(context.Background(), task); err != nil {
		s.logger.Warn("checkpoint save task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// checkpointResult mirrors a terminal result to the checkpoint store, if any.
func (s *Scheduler) checkpointResult(result *model.TaskResult) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.SaveResult(context.Background(), result); err != nil {
		s.logger.Warn("checkpoint save result failed", zap.String("task_id", result.TaskID), zap.Error(err))
	}
}

// LoadCheckpoint rehydrates in-memory task/result state from a checkpoint
// snapshot taken at driver startup, before Start is called. Non-terminal
// tasks (no matching result) are re-enqueued so the dispatch loop picks
// them back up; terminal tasks are restored read-only so GetTaskResult
// keeps serving them across a restart.
func (s *Scheduler) LoadCheckpoint(snapshot checkpoint.Snapshot) {
	results := make(map[string]*model.TaskResult, len(snapshot.Results))
	for _, r := range snapshot.Results {
		results[r.TaskID] = r
	}

	s.mu.Lock()
	var toEnqueue []*model.Task
	for _, t := range snapshot.Tasks {
		s.tasks[t.ID] = t
		if r, ok := results[t.ID]; ok {
			s.results[t.ID] = r
			if r.Status == model.TaskCompleted {
				s.stats.CompletedTasks++
			} else {
				s.stats.FailedTasks++
			}
			continue
		}
		if t.Status.IsTerminal() {
			continue
		}
		toEnqueue = append(toEnqueue, t)
	}
	s.stats.TotalTasks += len(snapshot.Tasks)
	s.mu.Unlock()

	for _, t := range toEnqueue {
		if err := s.enqueue(t); err != nil {
			s.logger.Warn("failed to re-enqueue checkpointed task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
	s.logger.Info("rehydrated from checkpoint",
		zap.Int("tasks", len(snapshot.Tasks)), zap.Int("results", len(snapshot.Results)))
}

// New builds a scheduler. Call Start to begin its background loops.
func New(
	cfg config.SchedulerConfig,
	exec config.ExecutionConfig,
	taskQueue *queue.TaskQueue,
	workers *registry.Registry,
	sessions *session.Registry,
	clients *client.Pool,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		exec:          exec,
		queue:         taskQueue,
		workers:       workers,
		sessions:      sessions,
		clients:       clients,
		tasks:         make(map[string]*model.Task),
		results:       make(map[string]*model.TaskResult),
		contexts:      make(map[string]*model.ExecutionContext),
		waiting:       make(map[string]*model.Task),
		dispatched:    make(map[string]*model.QueuedTask),
		decomposed:    make(map[string]*model.DecomposedTask),
		pendingMerges: make(map[string]*model.PendingMerge),
		childToParent: make(map[string]string),
		eventBus:      eventBus,
		logger:        log.WithFields(zap.String("component", "scheduler")),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the dispatch tick, worker health-check, and stats-update
// loops. Sessions is started separately by its owner (cmd/driver).
func (s *Scheduler) Start(ctx context.Context) {
	s.startedAt = time.Now()
	s.wg.Add(3)
	go s.tickLoop(ctx)
	go s.healthCheckLoop(ctx)
	go s.statsLoop(ctx)
}

// Stop halts every background loop and waits for them to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SubmitTask accepts a new task (spec §4.4 submitTask). Session-routed
// tasks execute synchronously and return only once the worker has replied;
// everything else is queued or decomposed and returns immediately.
func (s *Scheduler) SubmitTask(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return apperrors.DuplicateTask(task.ID)
	}
	now := time.Now()
	task.Status = model.TaskPending
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = task
	s.stats.TotalTasks++
	s.mu.Unlock()
	s.checkpointTask(task)

	if task.Context.SessionID != "" {
		return s.executeInSession(ctx, task)
	}

	if s.exec.EnableTaskDecomposition && shouldDecompose(task.Title) {
		return s.decompose(task)
	}

	s.mu.Lock()
	ready, blocked := s.depsStatusLocked(task)
	if !ready && !blocked {
		s.waiting[task.ID] = task
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if blocked {
		result := &model.TaskResult{TaskID: task.ID, Status: model.TaskFailed, ErrorKind: model.ErrKindDependencyFailed, Error: "dependency failed or cancelled"}
		s.recordTerminal(task, result)
		return nil
	}

	return s.enqueue(task)
}

func (s *Scheduler) enqueue(task *model.Task) error {
	if err := s.queue.Enqueue(task); err != nil {
		return err
	}
	s.mu.Lock()
	s.stats.QueuedTasks++
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) executeInSession(ctx context.Context, task *model.Task) error {
	result, err := s.sessions.Execute(ctx, task.Context.SessionID, task, nil)
	if err != nil {
		kind := model.ErrKindInternal
		switch err {
		case session.ErrSessionNotFound:
			kind = model.ErrKindNotFound
		case session.ErrSessionExpired:
			kind = model.ErrKindSessionExpired
		}
		s.mu.Lock()
		task.Status = model.TaskFailed
		task.UpdatedAt = time.Now()
		result := &model.TaskResult{TaskID: task.ID, Status: model.TaskFailed, ErrorKind: kind, Error: err.Error()}
		s.results[task.ID] = result
		s.stats.FailedTasks++
		s.mu.Unlock()
		s.checkpointTask(task)
		s.checkpointResult(result)
		return err
	}
	s.mu.Lock()
	task.Status = result.Status
	task.UpdatedAt = time.Now()
	s.results[task.ID] = result
	if result.Status == model.TaskCompleted {
		s.stats.CompletedTasks++
	} else {
		s.stats.FailedTasks++
	}
	s.mu.Unlock()
	s.checkpointTask(task)
	s.checkpointResult(result)
	return nil
}

// CancelTask cancels a queued or running task (spec §4.4 cancelTask,
// §5 cancellation). Idempotent: cancelling an already-terminal task is a
// no-op.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		s.mu.Unlock()
		return nil
	}

	if s.queue.Remove(taskID) {
		task.Status = model.TaskCancelled
		task.UpdatedAt = time.Now()
		result := &model.TaskResult{TaskID: taskID, Status: model.TaskCancelled}
		s.results[taskID] = result
		s.mu.Unlock()
		s.checkpointTask(task)
		s.checkpointResult(result)
		return nil
	}

	execCtx, running := s.contexts[taskID]
	// Dropping the context before cancelling the poll makes the poll loop's
	// handleTimeout see the task as no longer running, so it is not retried.
	delete(s.contexts, taskID)
	s.mu.Unlock()
	if !running {
		return nil
	}

	if execCtx.CancelPoll != nil {
		execCtx.CancelPoll()
	}
	_ = s.clients.Get(s.workerEndpoint(execCtx.WorkerID)).CancelTask(ctx, taskID)

	s.mu.Lock()
	task.Status = model.TaskCancelled
	task.UpdatedAt = time.Now()
	result := &model.TaskResult{TaskID: taskID, Status: model.TaskCancelled}
	s.results[taskID] = result
	delete(s.contexts, taskID)
	delete(s.dispatched, taskID)
	s.mu.Unlock()
	_ = s.workers.Release(execCtx.WorkerID, taskID)
	s.checkpointTask(task)
	s.checkpointResult(result)
	return nil
}

func (s *Scheduler) workerEndpoint(workerID string) string {
	w, ok := s.workers.Get(workerID)
	if !ok {
		return ""
	}
	return w.Endpoint
}

// RegisterWorker adds a worker to the registry.
func (s *Scheduler) RegisterWorker(w *model.Worker) {
	s.workers.Register(w)
}

// UnregisterWorker removes a worker and requeues every task still assigned
// to it, bumping retryCount (spec §4.4).
func (s *Scheduler) UnregisterWorker(workerID string) {
	for _, taskID := range s.workers.TasksFor(workerID) {
		s.requeueAfterWorkerLoss(taskID)
	}
	endpoint := s.workerEndpoint(workerID)
	s.workers.Unregister(workerID)
	s.clients.Drop(endpoint)
}

func (s *Scheduler) requeueAfterWorkerLoss(taskID string) {
	s.mu.Lock()
	execCtx, ok := s.contexts[taskID]
	if ok && execCtx.CancelPoll != nil {
		execCtx.CancelPoll()
	}
	delete(s.contexts, taskID)
	if ok {
		s.stats.RunningTasks--
	}
	task, taskOK := s.tasks[taskID]
	s.mu.Unlock()
	if !ok || !taskOK {
		return
	}
	_ = s.workers.Release(execCtx.WorkerID, taskID)
	s.retryOrFail(task, model.ErrKindWorkerLost, "worker lost")
}

// CreateSession creates a container-backed session on a container-capable
// worker (spec §4.4 createSession).
func (s *Scheduler) CreateSession(ctx context.Context, opts model.SessionOptions) (*model.Session, error) {
	return s.sessions.Create(ctx, opts)
}

// EndSession terminates a session (spec §4.4 endSession).
func (s *Scheduler) EndSession(ctx context.Context, sessionID string) error {
	return s.sessions.End(ctx, sessionID)
}

// GetSession returns a session record (spec §4.4 getSession).
func (s *Scheduler) GetSession(sessionID string) (*model.Session, bool) {
	return s.sessions.Get(sessionID)
}

// GetActiveSessions returns every non-expired session (spec §4.4
// getActiveSessions).
func (s *Scheduler) GetActiveSessions() []*model.Session {
	return s.sessions.Active()
}

// GetTaskStatus returns a task's current lifecycle state (spec §4.4
// getTaskStatus).
func (s *Scheduler) GetTaskStatus(taskID string) (model.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return model.TaskUnknown, ErrTaskNotFound
	}
	return task.Status, nil
}

// GetTaskResult returns a task's terminal result, if it has one (spec
// §4.4 getTaskResult).
func (s *Scheduler) GetTaskResult(taskID string) (*model.TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return result, nil
}

// GetTaskProgress returns a running task's current progress fraction (spec
// §4.4 getTaskProgress). Terminal tasks report 1.0 on success, 0 otherwise.
func (s *Scheduler) GetTaskProgress(taskID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if execCtx, ok := s.contexts[taskID]; ok {
		return execCtx.Progress, nil
	}
	if result, ok := s.results[taskID]; ok {
		if result.Status == model.TaskCompleted {
			return 1, nil
		}
		return 0, nil
	}
	if _, ok := s.tasks[taskID]; ok {
		return 0, nil
	}
	return 0, ErrTaskNotFound
}

// Workers exposes the worker registry for read-only inventory endpoints
// (GET /workers and its siblings).
func (s *Scheduler) Workers() *registry.Registry {
	return s.workers
}

// GetStats returns the most recently computed stats snapshot (spec §4.4
// getStats). Updated on the ~10s stats loop, not recomputed per-call.
func (s *Scheduler) GetStats() model.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// GetQueueSnapshot returns every currently queued task, for
// GET /scheduler/queue introspection.
func (s *Scheduler) GetQueueSnapshot() []*model.QueuedTask {
	return s.queue.List()
}

// GetProgressRecord returns the most recent buffered progress detail for a
// task (GET /tasks/{id}/progress), when a progress handler is attached.
func (s *Scheduler) GetProgressRecord(taskID string) (*progress.ProgressData, bool) {
	if s.progress == nil {
		return nil, false
	}
	pd, err := s.progress.GetProgress(taskID)
	if err != nil || pd == nil {
		return nil, false
	}
	return pd, true
}

// ListTasks returns every task the scheduler has ever seen, for GET /tasks.
func (s *Scheduler) ListTasks() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// ListPlans returns every in-flight decomposition record, for
// GET /scheduler/plans.
func (s *Scheduler) ListPlans() []*model.DecomposedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.DecomposedTask, 0, len(s.decomposed))
	for _, d := range s.decomposed {
		out = append(out, d)
	}
	return out
}
