// Package registry tracks the workers known to the driver and implements
// spec §4.4's worker-selection strategies: round-robin, least-loaded,
// capability-based, and affinity-based. The tick-loop-plus-scoring shape is
// grounded on a real node-selection scheduler in the example pack
// (cuemby-warren/pkg/scheduler.selectNode), generalized from "fewest
// containers" to the four named strategies and category/mode eligibility.
package registry

import (
	"sync"
	"time"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"go.uber.org/zap"
)

// Strategy names a worker-selection algorithm (spec §4.4).
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round-robin"
	StrategyLeastLoaded      Strategy = "least-loaded"
	StrategyCapabilityBased  Strategy = "capability-based"
	StrategyAffinityBased    Strategy = "affinity-based"
)

// Registry is the driver's in-memory record of every registered worker.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*model.Worker
	logger  *logger.Logger
}

// NewRegistry creates an empty worker registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*model.Worker),
		logger:  log.WithFields(zap.String("component", "worker_registry")),
	}
}

// Register adds or replaces a worker's record. Re-registering an existing
// ID (e.g. after a worker restart) resets its health and load.
func (r *Registry) Register(w *model.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.CurrentTasks == nil {
		w.CurrentTasks = make(map[string]struct{})
	}
	w.Status = model.WorkerIdle
	w.Health = model.Health{LastSeen: time.Now(), Healthy: true}
	r.workers[w.ID] = w

	r.logger.Info("worker registered",
		zap.String("worker_id", w.ID),
		zap.String("endpoint", w.Endpoint),
		zap.Strings("execution_modes", executionModeStrings(w.Capabilities.ExecutionModes)))
}

// Unregister removes a worker. Idempotent.
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
	r.logger.Info("worker unregistered", zap.String("worker_id", workerID))
}

// Get returns a worker by ID.
func (r *Registry) Get(workerID string) (*model.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	return w, ok
}

// List returns every registered worker.
func (r *Registry) List() []*model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// UpdateHealth records the outcome of a health-check probe against worker.
func (r *Registry) UpdateHealth(workerID string, healthy bool, responseTime time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	w.Health = model.Health{LastSeen: time.Now(), ResponseTime: responseTime, Healthy: healthy}
	if !healthy {
		w.Status = model.WorkerError
	} else if w.Status == model.WorkerError || w.Status == model.WorkerOffline {
		w.Status = model.WorkerIdle
	}
	return nil
}

// MarkOffline flags a worker unreachable by the health-check loop, without
// removing its record (it may come back).
func (r *Registry) MarkOffline(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Status = model.WorkerOffline
	}
}

// TasksFor returns a snapshot of task IDs currently assigned to a worker.
// Callers needing to act on a worker's in-flight tasks (e.g. requeuing
// after a health-check failure) must go through this rather than reading
// Worker.CurrentTasks directly, which is only safe under the registry's
// own lock.
func (r *Registry) TasksFor(workerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(w.CurrentTasks))
	for taskID := range w.CurrentTasks {
		out = append(out, taskID)
	}
	return out
}

// Assign records a task as dispatched to worker, bumping its load and
// lifetime assignment counter.
func (r *Registry) Assign(workerID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	w.CurrentTasks[taskID] = struct{}{}
	w.TotalAssignments++
	if w.CurrentLoad() >= w.Capabilities.MaxConcurrentTasks {
		w.Status = model.WorkerBusy
	}
	return nil
}

// Release removes a task from a worker's current load after it completes,
// fails, or is cancelled.
func (r *Registry) Release(workerID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	delete(w.CurrentTasks, taskID)
	if w.Status == model.WorkerBusy && w.CurrentLoad() < w.Capabilities.MaxConcurrentTasks {
		w.Status = model.WorkerIdle
	}
	return nil
}

// Select picks the worker to run task under mode, using strategy to break
// ties among eligible workers. Eligibility always requires the worker to
// support task.Category, support mode, and have free capacity — strategy
// only decides which eligible worker wins.
func (r *Registry) Select(task *model.Task, mode model.ExecutionMode, strategy Strategy, affinities map[string]float64) (*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := r.eligibleWorkersLocked(task, mode)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleWorker
	}

	switch strategy {
	case StrategyLeastLoaded, StrategyCapabilityBased:
		// Eligibility already filtered to workers supporting the task's
		// category and mode, so capability-based reduces to least-loaded
		// within that set — the "fall back to least-loaded overall" case
		// in spec §4.4 never triggers since an ineligible worker can
		// never execute the task correctly regardless of strategy.
		return selectLeastLoaded(eligible), nil
	case StrategyAffinityBased:
		return selectAffinityBased(eligible, task, affinities), nil
	default: // StrategyRoundRobin and any unrecognized value
		return selectFewestAssignments(eligible), nil
	}
}

// SelectForSession picks a worker to host a new container session: must
// support container execution, tie-broken by fewest current tasks then
// lowest health response time (spec §4.4).
func (r *Registry) SelectForSession() (*model.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*model.Worker
	for _, w := range r.workers {
		if w.Status == model.WorkerOffline || w.Status == model.WorkerError {
			continue
		}
		if !w.Capabilities.SupportsContainerExecution || !w.Available() {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleWorker
	}

	best := candidates[0]
	for _, w := range candidates[1:] {
		switch {
		case w.CurrentLoad() < best.CurrentLoad():
			best = w
		case w.CurrentLoad() == best.CurrentLoad() && w.Health.ResponseTime < best.Health.ResponseTime:
			best = w
		}
	}
	return best, nil
}

func (r *Registry) eligibleWorkersLocked(task *model.Task, mode model.ExecutionMode) []*model.Worker {
	var eligible []*model.Worker
	for _, w := range r.workers {
		if w.Status == model.WorkerOffline || w.Status == model.WorkerError {
			continue
		}
		if !w.Capabilities.Supports(task.Category) {
			continue
		}
		if !w.Capabilities.SupportsMode(mode) {
			continue
		}
		if !w.Available() {
			continue
		}
		eligible = append(eligible, w)
	}
	return eligible
}

// selectLeastLoaded returns the eligible worker with the lowest current
// load ratio, the generalization of the teacher scheduler's
// fewest-containers-wins node selection.
func selectLeastLoaded(eligible []*model.Worker) *model.Worker {
	best := eligible[0]
	for _, w := range eligible[1:] {
		if w.LoadRatio() < best.LoadRatio() {
			best = w
		}
	}
	return best
}

// selectFewestAssignments implements round-robin as spec §4.4 defines it:
// the eligible worker with the fewest lifetime assignments wins, which
// spreads load evenly over time without needing a shared cursor.
func selectFewestAssignments(eligible []*model.Worker) *model.Worker {
	best := eligible[0]
	for _, w := range eligible[1:] {
		if w.TotalAssignments < best.TotalAssignments {
			best = w
		}
	}
	return best
}

// selectAffinityBased implements spec §4.4's affinity score exactly:
// score = categoryAffinity + (1 − loadRatio) × 0.5, highest wins.
func selectAffinityBased(eligible []*model.Worker, task *model.Task, affinities map[string]float64) *model.Worker {
	best := eligible[0]
	bestScore := affinityScore(best, task, affinities)
	for _, w := range eligible[1:] {
		score := affinityScore(w, task, affinities)
		if score > bestScore {
			best, bestScore = w, score
		}
	}
	return best
}

func affinityScore(w *model.Worker, task *model.Task, affinities map[string]float64) float64 {
	return affinities[string(task.Category)] + (1-w.LoadRatio())*0.5
}

func executionModeStrings(modes []model.ExecutionMode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return out
}
