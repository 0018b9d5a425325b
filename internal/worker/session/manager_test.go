package session

import (
	"context"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/registry"
)

func testSessionLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// newBareManager builds a Manager with no Docker client wired in. Only
// valid for exercising the lookup/state branches of Execute that return
// before ever touching Docker - Create/End/the docker-backed half of
// Execute need a live daemon and are out of scope for a unit test.
func newBareManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager("worker-1", nil, registry.NewRegistry(testSessionLogger(t)), nil, nil, testSessionLogger(t))
}

func TestManager_ExecuteSessionNotFound(t *testing.T) {
	m := newBareManager(t)

	_, err := m.Execute(context.Background(), "missing", &model.Task{ID: "t-1"})
	if err != ErrSessionNotFound {
		t.Fatalf("got error %v, want ErrSessionNotFound", err)
	}
}

func TestManager_ExecuteSessionExpired(t *testing.T) {
	m := newBareManager(t)

	m.sessions["s-1"] = &trackedSession{
		Session: model.Session{
			ID:        "s-1",
			ExpiresAt: time.Now().Add(-time.Minute),
		},
	}

	_, err := m.Execute(context.Background(), "s-1", &model.Task{ID: "t-1"})
	if err != ErrSessionExpired {
		t.Fatalf("got error %v, want ErrSessionExpired", err)
	}
}

func TestManager_ExecuteSessionBusy(t *testing.T) {
	m := newBareManager(t)

	m.sessions["s-1"] = &trackedSession{
		Session: model.Session{
			ID:        "s-1",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		activeTask: "t-0",
	}

	_, err := m.Execute(context.Background(), "s-1", &model.Task{ID: "t-1"})
	if err != ErrSessionBusy {
		t.Fatalf("got error %v, want ErrSessionBusy", err)
	}
}

func TestManager_GetReturnsSnapshot(t *testing.T) {
	m := newBareManager(t)

	m.sessions["s-1"] = &trackedSession{Session: model.Session{ID: "s-1", WorkerID: "worker-1"}}

	got, ok := m.Get("s-1")
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.ID != "s-1" || got.WorkerID != "worker-1" {
		t.Fatalf("got %+v, want session s-1 on worker-1", got)
	}

	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected missing session to report not found")
	}
}

func TestManager_ListReturnsAllSessions(t *testing.T) {
	m := newBareManager(t)

	m.sessions["s-1"] = &trackedSession{Session: model.Session{ID: "s-1"}}
	m.sessions["s-2"] = &trackedSession{Session: model.Session{ID: "s-2"}}

	sessions := m.List()
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}

func TestExtractSentinelOutput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "sentinels present",
			raw:  "setup logs\n=== OUTPUT START ===\nhello world\n=== OUTPUT END ===\ncleanup logs",
			want: "hello world",
		},
		{
			name: "no sentinels falls back to raw",
			raw:  "just some plain output",
			want: "just some plain output",
		},
		{
			name: "end before start falls back to raw",
			raw:  "=== OUTPUT END ===\n=== OUTPUT START ===",
			want: "=== OUTPUT END ===\n=== OUTPUT START ===",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractSentinelOutput([]byte(tc.raw))
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
