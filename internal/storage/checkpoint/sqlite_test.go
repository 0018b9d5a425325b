package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/model"
)

// Grounded on the teacher's acp.setupTestDB (orchestrator/acp/sqlite_store_test.go):
// an in-memory SQLite database per test, no shared state.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndLoadTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	task := &model.Task{
		ID:           "t-1",
		Title:        "fix the bug",
		Category:     model.CategoryCoding,
		Priority:     model.PriorityNormal,
		Status:       model.TaskPending,
		Dependencies: []string{"t-0"},
		Context:      model.TaskContext{WorkingDir: "/workspace"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask returned error: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(snap.Tasks))
	}
	got := snap.Tasks[0]
	if got.ID != task.ID || got.Title != task.Title || len(got.Dependencies) != 1 || got.Dependencies[0] != "t-0" {
		t.Fatalf("got %+v, want a round trip of %+v", got, task)
	}
	if got.Context.WorkingDir != "/workspace" {
		t.Fatalf("got working dir %q, want /workspace", got.Context.WorkingDir)
	}
}

func TestSQLiteStore_SaveTaskUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &model.Task{ID: "t-1", Title: "v1", Status: model.TaskPending, CreatedAt: now, UpdatedAt: now}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("first SaveTask returned error: %v", err)
	}

	task.Title = "v2"
	task.Status = model.TaskCompleted
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("second SaveTask returned error: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1 (upsert, not insert)", len(snap.Tasks))
	}
	if snap.Tasks[0].Title != "v2" || snap.Tasks[0].Status != model.TaskCompleted {
		t.Fatalf("got %+v, want the updated row", snap.Tasks[0])
	}
}

func TestSQLiteStore_SaveAndLoadResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// results.task_id references tasks(id) and foreign keys are enforced.
	now := time.Now().UTC()
	if err := store.SaveTask(ctx, &model.Task{ID: "t-1", Title: "x", Status: model.TaskCompleted, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveTask returned error: %v", err)
	}

	result := &model.TaskResult{
		TaskID:  "t-1",
		Status:  model.TaskCompleted,
		Output:  "done",
		Metrics: model.TaskMetrics{Duration: 2 * time.Second},
	}
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(snap.Results))
	}
	if snap.Results[0].Output != "done" || snap.Results[0].Metrics.Duration != 2*time.Second {
		t.Fatalf("got %+v, want a round trip of %+v", snap.Results[0], result)
	}
}

func TestSQLiteStore_SaveAndDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := &model.Session{
		ID:           "s-1",
		WorkerID:     "worker-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		LastActivity: now,
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != "s-1" {
		t.Fatalf("got %+v, want one session s-1", snap.Sessions)
	}

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}

	snap, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Sessions) != 0 {
		t.Fatalf("got %d sessions after delete, want 0", len(snap.Sessions))
	}
}

func TestNewStore_SelectsBackendByDriver(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, "", Config{})
	if err != nil {
		t.Fatalf("NewStore(\"\") returned error: %v", err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("got %T, want *NoopStore for an empty driver name", store)
	}

	store, err = NewStore(ctx, "sqlite", Config{SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore(\"sqlite\") returned error: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("got %T, want *SQLiteStore", store)
	}

	if _, err := NewStore(ctx, "mongodb", Config{}); err == nil {
		t.Fatal("expected an unknown driver name to fail")
	}
}
