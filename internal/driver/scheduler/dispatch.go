package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
)

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// tick implements spec §4.4's scheduling pass: compute ready tasks, sort by
// (priorityWeight desc, queuedAt asc), then walk them assigning a worker
// per the configured strategy.
func (s *Scheduler) tick(ctx context.Context) {
	strategy := registry.Strategy(s.cfg.LoadBalancingStrategy)
	affinities := s.cfg.CategoryAffinities
	retryDelay := s.cfg.RetryDelayDuration()
	now := time.Now()

	ready := make([]*model.QueuedTask, 0)
	for _, qt := range s.queue.List() {
		if !qt.LastAttempt.IsZero() && now.Sub(qt.LastAttempt) < retryDelay {
			continue
		}
		ready = append(ready, qt)
	}
	sortReady(ready, s.priorityWeights())

	for _, qt := range ready {
		mode := qt.Task.Context.ExecutionMode
		if mode == "" {
			mode = model.ModeProcessPool
		}

		worker, err := s.workers.Select(qt.Task, mode, strategy, affinities)
		if err != nil {
			continue
		}
		if !s.queue.Remove(qt.Task.ID) {
			continue // already cancelled or picked up by a concurrent tick
		}
		if err := s.workers.Assign(worker.ID, qt.Task.ID); err != nil {
			continue
		}

		s.mu.Lock()
		s.stats.QueuedTasks--
		s.mu.Unlock()
		s.dispatch(ctx, worker, qt)
	}
}

func (s *Scheduler) priorityWeights() map[model.TaskPriority]int {
	if len(s.cfg.PriorityWeights) == 0 {
		return model.DefaultPriorityWeights()
	}
	out := make(map[model.TaskPriority]int, len(s.cfg.PriorityWeights))
	for k, v := range s.cfg.PriorityWeights {
		out[model.TaskPriority(k)] = v
	}
	return out
}

func sortReady(ready []*model.QueuedTask, weights map[model.TaskPriority]int) {
	sort.Slice(ready, func(i, j int) bool {
		wi, wj := weightFor(ready[i].Task.Priority, weights), weightFor(ready[j].Task.Priority, weights)
		if wi != wj {
			return wi > wj
		}
		return ready[i].QueuedAt.Before(ready[j].QueuedAt)
	})
}

func weightFor(p model.TaskPriority, weights map[model.TaskPriority]int) int {
	if w, ok := weights[p]; ok {
		return w
	}
	return weights[model.PriorityNormal]
}

// dispatch sends a task to the worker it was assigned to and starts its
// poll loop. Runs to completion asynchronously; callers never block on it.
func (s *Scheduler) dispatch(parent context.Context, worker *model.Worker, qt *model.QueuedTask) {
	task := qt.Task
	pollCtx, cancel := context.WithCancel(context.Background())
	startedAt := time.Now()

	execCtx := &model.ExecutionContext{
		TaskID: task.ID, WorkerID: worker.ID, StartTime: startedAt,
		Status: model.TaskRunning, CancelPoll: cancel,
	}

	s.mu.Lock()
	s.contexts[task.ID] = execCtx
	s.dispatched[task.ID] = qt
	task.Status = model.TaskRunning
	task.UpdatedAt = startedAt
	s.stats.RunningTasks++
	s.mu.Unlock()

	wc := s.clients.Get(worker.Endpoint)
	if err := wc.DispatchTask(parent, task, nil); err != nil {
		cancel()
		s.mu.Lock()
		delete(s.contexts, task.ID)
		s.stats.RunningTasks--
		s.mu.Unlock()
		_ = s.workers.Release(worker.ID, task.ID)
		s.retryOrFail(task, model.ErrKindWorkerLost, "dispatch failed: "+err.Error())
		return
	}

	s.publish(parent, EventTaskStarted, task.ID, map[string]interface{}{"worker_id": worker.ID})

	var timeoutTimer *time.Timer
	if timeout := s.taskTimeout(task); timeout > 0 {
		timeoutTimer = time.AfterFunc(timeout, cancel)
	}

	s.wg.Add(1)
	go s.pollLoop(pollCtx, task, worker, qt, startedAt, timeoutTimer)
}

func (s *Scheduler) taskTimeout(task *model.Task) time.Duration {
	if task.Context.TimeoutSeconds > 0 {
		return time.Duration(task.Context.TimeoutSeconds) * time.Second
	}
	return s.exec.TaskTimeout()
}

// pollLoop polls a dispatched task's status on a ~2s cadence until it
// reaches a terminal state or its context is cancelled (timeout or
// explicit CancelTask).
func (s *Scheduler) pollLoop(pollCtx context.Context, task *model.Task, worker *model.Worker, qt *model.QueuedTask, startedAt time.Time, timeoutTimer *time.Timer) {
	defer s.wg.Done()
	if timeoutTimer != nil {
		defer timeoutTimer.Stop()
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	wc := s.clients.Get(worker.Endpoint)

	for {
		select {
		case <-pollCtx.Done():
			s.handleTimeout(task, worker)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			status, err := wc.PollTask(pollCtx, task.ID)
			if err != nil {
				s.logger.Warn("poll failed", zap.String("task_id", task.ID), zap.Error(err))
				continue
			}

			s.mu.Lock()
			if execCtx, ok := s.contexts[task.ID]; ok {
				execCtx.Progress = status.Progress
				execCtx.Status = status.Status
			}
			s.mu.Unlock()
			s.publish(context.Background(), EventTaskProgress, task.ID,
				map[string]interface{}{"progress": status.Progress, "status": string(status.Status)})
			if s.progress != nil {
				s.progress.Record(context.Background(), task.ID, status.Progress, status.CurrentStep)
			}

			if !status.Status.IsTerminal() {
				continue
			}
			s.finishDispatch(task, worker, startedAt, status)
			return
		}
	}
}

func (s *Scheduler) handleTimeout(task *model.Task, worker *model.Worker) {
	s.mu.Lock()
	_, stillRunning := s.contexts[task.ID]
	s.mu.Unlock()
	if !stillRunning {
		return
	}

	_ = s.clients.Get(worker.Endpoint).CancelTask(context.Background(), task.ID)

	s.mu.Lock()
	delete(s.contexts, task.ID)
	s.stats.RunningTasks--
	s.mu.Unlock()
	_ = s.workers.Release(worker.ID, task.ID)

	s.retryOrFail(task, model.ErrKindTimedOut, "task timed out")
}

func (s *Scheduler) finishDispatch(task *model.Task, worker *model.Worker, startedAt time.Time, status *client.TaskStatusResponse) {
	s.mu.Lock()
	delete(s.contexts, task.ID)
	if status.Status == model.TaskCompleted || status.Status == model.TaskCancelled {
		// A failure keeps its entry for retryOrFail, which reuses it.
		delete(s.dispatched, task.ID)
	}
	s.stats.RunningTasks--
	s.mu.Unlock()
	_ = s.workers.Release(worker.ID, task.ID)

	if status.Status == model.TaskCompleted {
		result := &model.TaskResult{
			TaskID:    task.ID,
			Status:    model.TaskCompleted,
			Output:    status.Output,
			Artifacts: status.Artifacts,
			Metrics:   model.TaskMetrics{StartedAt: startedAt, EndedAt: time.Now(), Duration: time.Since(startedAt)},
		}
		s.recordTerminal(task, result)
		s.publish(context.Background(), EventTaskCompleted, task.ID, map[string]interface{}{"status": "completed"})
		if s.progress != nil && status.Output != "" {
			s.progress.RecordOutput(context.Background(), task.ID, status.Output)
		}
		return
	}

	if status.Status == model.TaskCancelled {
		// Cancellations are never retried (spec §4.4's retry policy), even
		// when the worker itself reports the cancellation.
		s.recordTerminal(task, &model.TaskResult{TaskID: task.ID, Status: model.TaskCancelled})
		return
	}

	s.retryOrFail(task, status.ErrorKind, status.Error)
}

// retryOrFail implements spec §4.4's retry policy: requeue with
// retryCount++ while under the retry budget, otherwise record a terminal
// failure.
func (s *Scheduler) retryOrFail(task *model.Task, kind model.ErrorKind, message string) {
	s.mu.Lock()
	qt, wasDispatched := s.dispatched[task.ID]
	delete(s.dispatched, task.ID)
	s.mu.Unlock()
	if !wasDispatched {
		qt = &model.QueuedTask{Task: task, QueuedAt: time.Now()}
	}

	if s.exec.RetryFailedTasks && qt.RetryCount < s.cfg.RetryAttempts {
		if err := s.queue.Requeue(qt); err == nil {
			s.mu.Lock()
			task.Status = model.TaskPending
			task.UpdatedAt = time.Now()
			s.stats.QueuedTasks++
			s.mu.Unlock()
			return
		}
	}

	result := &model.TaskResult{TaskID: task.ID, Status: model.TaskFailed, ErrorKind: kind, Error: message}
	s.recordTerminal(task, result)
	s.publish(context.Background(), EventTaskCompleted, task.ID, map[string]interface{}{"status": "failed", "error_kind": string(kind)})
}

func (s *Scheduler) publish(ctx context.Context, eventType, taskID string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if taskID != "" {
		data["task_id"] = taskID
	}
	event := bus.NewEvent(eventType, "scheduler", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
	}
}
