package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/common/config"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/storage/checkpoint"
)

// fakeCheckpointStore is an in-memory checkpoint.Store for wiring tests.
type fakeCheckpointStore struct {
	mu       sync.Mutex
	tasks    map[string]*model.Task
	results  map[string]*model.TaskResult
	sessions map[string]*model.Session
	closed   bool
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{
		tasks:    make(map[string]*model.Task),
		results:  make(map[string]*model.TaskResult),
		sessions: make(map[string]*model.Session),
	}
}

func (f *fakeCheckpointStore) SaveTask(ctx context.Context, task *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeCheckpointStore) SaveResult(ctx context.Context, result *model.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[result.TaskID] = result
	return nil
}

func (f *fakeCheckpointStore) SaveSession(ctx context.Context, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeCheckpointStore) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeCheckpointStore) LoadAll(ctx context.Context) (checkpoint.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var snap checkpoint.Snapshot
	for _, t := range f.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	for _, r := range f.results {
		snap.Results = append(snap.Results, r)
	}
	for _, s := range f.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	return snap, nil
}

func (f *fakeCheckpointStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCheckpointStore) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeCheckpointStore) resultFor(id string) (*model.TaskResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	return r, ok
}

func TestScheduler_CheckspointsTaskOnSubmitAndResultOnTerminal(t *testing.T) {
	fw := newFakeWorker(model.TaskCompleted)
	srv := fw.server(t)
	defer srv.Close()

	s := newTestScheduler(t, srv.URL, config.SchedulerConfig{LoadBalancingStrategy: "capability-based"})
	store := newFakeCheckpointStore()
	s.SetCheckpointStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	task := &model.Task{ID: "ckpt-1", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	if err := s.SubmitTask(ctx, task); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if store.taskCount() == 0 {
		t.Fatal("expected SubmitTask to checkpoint the new task")
	}

	waitForResult(t, s, "ckpt-1", 8*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := store.resultFor("ckpt-1"); ok {
			if r.Status != model.TaskCompleted {
				t.Fatalf("got checkpointed status %v, want completed", r.Status)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the terminal result to be checkpointed")
}

func TestScheduler_LoadCheckpointRestoresTerminalAndRequeuesPending(t *testing.T) {
	fw := newFakeWorker(model.TaskCompleted)
	srv := fw.server(t)
	defer srv.Close()

	s := newTestScheduler(t, srv.URL, config.SchedulerConfig{LoadBalancingStrategy: "capability-based"})

	now := time.Now()
	snapshot := checkpoint.Snapshot{
		Tasks: []*model.Task{
			{ID: "done-1", Title: "finished", Status: model.TaskCompleted, Category: model.CategoryCoding, Priority: model.PriorityNormal, CreatedAt: now, UpdatedAt: now},
			{ID: "pending-1", Title: "still pending", Status: model.TaskPending, Category: model.CategoryCoding, Priority: model.PriorityNormal, CreatedAt: now, UpdatedAt: now},
		},
		Results: []*model.TaskResult{
			{TaskID: "done-1", Status: model.TaskCompleted, Output: "already finished"},
		},
	}
	s.LoadCheckpoint(snapshot)

	result, err := s.GetTaskResult("done-1")
	if err != nil {
		t.Fatalf("expected a restored result for done-1: %v", err)
	}
	if result.Output != "already finished" {
		t.Fatalf("got output %q, want %q", result.Output, "already finished")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitForResult(t, s, "pending-1", 8*time.Second)
}
