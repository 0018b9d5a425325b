package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claudecluster/core/internal/common/config"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/queue"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/scheduler"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

func newTestRouter(t *testing.T, workerEndpoint string) (*gin.Engine, *scheduler.Scheduler) {
	t.Helper()
	log := testLogger(t)
	q := queue.NewTaskQueue(0, nil)
	reg := registry.NewRegistry(log)
	clients := client.NewPool(2*time.Second, log)
	sessReg := session.NewRegistry(noSessionSelector{}, clients, time.Hour, log)
	exec := config.ExecutionConfig{WorkerHealthCheckIntervalMS: 60000}
	s := scheduler.New(config.SchedulerConfig{LoadBalancingStrategy: "capability-based"}, exec, q, reg, sessReg, clients, bus.NewMemoryEventBus(log), log)

	if workerEndpoint != "" {
		reg.Register(&model.Worker{
			ID:       "worker-1",
			Endpoint: workerEndpoint,
			Status:   model.WorkerIdle,
			Capabilities: model.Capabilities{
				SupportedCategories: []model.TaskCategory{model.CategoryCoding},
				MaxConcurrentTasks:  2,
				ExecutionModes:      []model.ExecutionMode{model.ModeProcessPool},
			},
		})
	}

	router := gin.New()
	SetupRoutes(router, s, "driver-test", log, 0)
	return router, s
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndGetTask(t *testing.T) {
	router, _ := newTestRouter(t, "")

	task := model.Task{ID: "t1", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	rec := doRequest(router, http.MethodPost, "/tasks", SubmitTaskRequest{Task: task})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/tasks/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary TaskSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if summary.Status != model.TaskPending {
		t.Fatalf("expected pending (no worker registered), got %s", summary.Status)
	}
}

func TestDispatchToRegisteredWorker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(client.TaskStatusResponse{
				TaskID: "t4", Status: model.TaskCompleted, Progress: 1, Output: "done",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	worker := httptest.NewServer(mux)
	defer worker.Close()

	router, s := newTestRouter(t, worker.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	task := model.Task{ID: "t4", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	rec := doRequest(router, http.MethodPost, "/tasks", SubmitTaskRequest{Task: task})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		rec = doRequest(router, http.MethodGet, "/tasks/t4/result", nil)
		if rec.Code == http.StatusOK {
			var result model.TaskResult
			json.Unmarshal(rec.Body.Bytes(), &result)
			if result.Status == model.TaskCompleted {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("task never completed, last status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/workers/worker-1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := doRequest(router, http.MethodGet, "/tasks/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	router, _ := newTestRouter(t, "")

	task := model.Task{ID: "t2", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	doRequest(router, http.MethodPost, "/tasks", SubmitTaskRequest{Task: task})

	rec := doRequest(router, http.MethodDelete, "/tasks/t2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/tasks/t2/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result model.TaskResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Status != model.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
}

func TestRegisterAndListWorkers(t *testing.T) {
	router, _ := newTestRouter(t, "")

	worker := model.Worker{
		ID:       "worker-x",
		Endpoint: "http://worker-x:9000",
		Capabilities: model.Capabilities{
			SupportedCategories: []model.TaskCategory{model.CategoryCoding},
			MaxConcurrentTasks:  1,
		},
	}
	rec := doRequest(router, http.MethodPost, "/workers", RegisterWorkerRequest{Worker: worker})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/workers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var workers []*model.Worker
	json.Unmarshal(rec.Body.Bytes(), &workers)
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}

	rec = doRequest(router, http.MethodDelete, "/workers/worker-x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, "")
	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		rec := doRequest(router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestStatsAndQueueIntrospection(t *testing.T) {
	router, _ := newTestRouter(t, "")

	task := model.Task{ID: "t3", Title: "hello", Category: model.CategoryCoding, Priority: model.PriorityNormal}
	doRequest(router, http.MethodPost, "/tasks", SubmitTaskRequest{Task: task})

	rec := doRequest(router, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/scheduler/queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var queued []*model.QueuedTask
	json.Unmarshal(rec.Body.Bytes(), &queued)
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(queued))
	}
}

func TestDriverInfo(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := doRequest(router, http.MethodGet, "/driver", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info DriverInfoResponse
	json.Unmarshal(rec.Body.Bytes(), &info)
	if info.DriverID != "driver-test" {
		t.Fatalf("expected driver id driver-test, got %s", info.DriverID)
	}
}
