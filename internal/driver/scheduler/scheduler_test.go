package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/common/config"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/queue"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

type noSessionSelector struct{}

func (noSessionSelector) SelectForSession() (*model.Worker, error) { return nil, registry.ErrNoEligibleWorker }
func (noSessionSelector) Assign(string, string) error              { return nil }
func (noSessionSelector) Release(string, string) error             { return nil }

// fakeWorker is a scriptable worker control plane: every dispatched task
// is immediately reported as terminal by GET /tasks/{id} with whatever
// outcome the test configured.
type fakeWorker struct {
	mu       sync.Mutex
	outcome  model.TaskStatus
	output   string
	errKind  model.ErrorKind
	cancels  map[string]bool
	dispatch int
}

func newFakeWorker(outcome model.TaskStatus) *fakeWorker {
	return &fakeWorker{outcome: outcome, output: "done", cancels: make(map[string]bool)}
}

func (f *fakeWorker) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.dispatch++
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.HealthResponse{Status: "healthy"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			resp := client.TaskStatusResponse{TaskID: "t", Status: f.outcome, Progress: 1, Output: f.output, ErrorKind: f.errKind}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(resp)
		case http.MethodDelete:
			f.mu.Lock()
			f.cancels[r.URL.Path] = true
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	})
	return httptest.NewServer(mux)
}

func testWorker(endpoint string) *model.Worker {
	return &model.Worker{
		ID:       "worker-1",
		Endpoint: endpoint,
		Status:   model.WorkerIdle,
		Capabilities: model.Capabilities{
			SupportedCategories: []model.TaskCategory{model.CategoryCoding},
			MaxConcurrentTasks:  2,
			ExecutionModes:      []model.ExecutionMode{model.ModeProcessPool},
		},
	}
}

func newTestScheduler(t *testing.T, endpoint string, cfg config.SchedulerConfig) *Scheduler {
	t.Helper()
	log := testLogger(t)
	q := queue.NewTaskQueue(0, nil)
	reg := registry.NewRegistry(log)
	clients := client.NewPool(2*time.Second, log)
	sessReg := session.NewRegistry(noSessionSelector{}, clients, time.Hour, log)
	exec := config.ExecutionConfig{WorkerHealthCheckIntervalMS: 60000}
	s := New(cfg, exec, q, reg, sessReg, clients, bus.NewMemoryEventBus(log), log)
	reg.Register(testWorker(endpoint))
	return s
}

func waitForResult(t *testing.T, s *Scheduler, taskID string, timeout time.Duration) *model.TaskResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if result, err := s.GetTaskResult(taskID); err == nil {
			return result
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal result within %s", taskID, timeout)
	return nil
}

func TestSchedulerDispatchesAndCompletesTask(t *testing.T) {
	fw := newFakeWorker(model.TaskCompleted)
	srv := fw.server(t)
	defer srv.Close()

	s := newTestScheduler(t, srv.URL, config.SchedulerConfig{LoadBalancingStrategy: "capability-based"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	task := &model.Task{ID: "t1", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	if err := s.SubmitTask(ctx, task); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	result := waitForResult(t, s, "t1", 8*time.Second)
	if result.Status != model.TaskCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Output != "done" {
		t.Fatalf("expected output 'done', got %q", result.Output)
	}

	stats := s.GetStats()
	if stats.TotalTasks != 1 {
		t.Fatalf("expected total tasks 1, got %d", stats.TotalTasks)
	}
}

func TestSchedulerExhaustsRetriesThenFails(t *testing.T) {
	fw := newFakeWorker(model.TaskFailed)
	fw.errKind = model.ErrKindInternal
	srv := fw.server(t)
	defer srv.Close()

	s := newTestScheduler(t, srv.URL, config.SchedulerConfig{
		LoadBalancingStrategy: "capability-based",
		RetryAttempts:         1,
		RetryDelaySeconds:     0,
	})
	s.exec.RetryFailedTasks = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	task := &model.Task{ID: "t2", Title: "will fail", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	if err := s.SubmitTask(ctx, task); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	result := waitForResult(t, s, "t2", 10*time.Second)
	if result.Status != model.TaskFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}

	fw.mu.Lock()
	dispatches := fw.dispatch
	fw.mu.Unlock()
	if dispatches < 2 {
		t.Fatalf("expected at least 2 dispatch attempts (initial + 1 retry), got %d", dispatches)
	}
}

func TestSchedulerDependencyGating(t *testing.T) {
	fw := newFakeWorker(model.TaskCompleted)
	srv := fw.server(t)
	defer srv.Close()

	s := newTestScheduler(t, srv.URL, config.SchedulerConfig{LoadBalancingStrategy: "capability-based"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	child := &model.Task{ID: "child", Title: "depends on parent", Category: model.CategoryCoding, Priority: model.PriorityNormal, Dependencies: []string{"parent"}}
	if err := s.SubmitTask(ctx, child); err != nil {
		t.Fatalf("submit child failed: %v", err)
	}

	status, err := s.GetTaskStatus("child")
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if status != model.TaskPending {
		t.Fatalf("expected child pending while waiting on parent, got %s", status)
	}

	parent := &model.Task{ID: "parent", Title: "the parent", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	if err := s.SubmitTask(ctx, parent); err != nil {
		t.Fatalf("submit parent failed: %v", err)
	}

	waitForResult(t, s, "parent", 8*time.Second)
	waitForResult(t, s, "child", 8*time.Second)
}

func TestCancelQueuedTask(t *testing.T) {
	fw := newFakeWorker(model.TaskCompleted)
	srv := fw.server(t)
	defer srv.Close()

	// No worker registered, so the task stays queued and never dispatches.
	log := testLogger(t)
	q := queue.NewTaskQueue(0, nil)
	reg := registry.NewRegistry(log)
	clients := client.NewPool(2*time.Second, log)
	sessReg := session.NewRegistry(noSessionSelector{}, clients, time.Hour, log)
	s := New(config.SchedulerConfig{LoadBalancingStrategy: "capability-based"}, config.ExecutionConfig{WorkerHealthCheckIntervalMS: 60000}, q, reg, sessReg, clients, bus.NewMemoryEventBus(log), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	task := &model.Task{ID: "t3", Title: "never runs", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	if err := s.SubmitTask(ctx, task); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := s.CancelTask(ctx, "t3"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	result, err := s.GetTaskResult("t3")
	if err != nil {
		t.Fatalf("expected a cancelled result: %v", err)
	}
	if result.Status != model.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
}
