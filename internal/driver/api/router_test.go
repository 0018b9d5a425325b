package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claudecluster/core/internal/common/config"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/queue"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/scheduler"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/events/bus"
)

// TestSetupRoutes_TaskSubmitRateLimit exercises the per-route RateLimit
// wiring on POST /tasks: a limit of 1 req/sec should reject a rapid-fire
// second submission with 429.
func TestSetupRoutes_TaskSubmitRateLimit(t *testing.T) {
	log := testLogger(t)
	q := queue.NewTaskQueue(0, nil)
	reg := registry.NewRegistry(log)
	clients := client.NewPool(2*time.Second, log)
	sessReg := session.NewRegistry(noSessionSelector{}, clients, time.Hour, log)
	exec := config.ExecutionConfig{WorkerHealthCheckIntervalMS: 60000}
	s := scheduler.New(config.SchedulerConfig{LoadBalancingStrategy: "capability-based"}, exec, q, reg, sessReg, clients, bus.NewMemoryEventBus(log), log)

	router := gin.New()
	SetupRoutes(router, s, "driver-test", log, 1)

	task := map[string]interface{}{
		"task": map[string]interface{}{
			"id":       "t-rate-1",
			"title":    "task one",
			"category": "coding",
			"priority": "normal",
		},
	}
	first := doRequest(router, http.MethodPost, "/tasks", task)
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("expected the first request under the token bucket to succeed, got 429")
	}

	task["task"].(map[string]interface{})["id"] = "t-rate-2"
	second := doRequest(router, http.MethodPost, "/tasks", task)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second rapid-fire submission to be rate limited, got %d", second.Code)
	}
}
