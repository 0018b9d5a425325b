package api

import (
	"github.com/gin-gonic/gin"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/scheduler"
)

// SetupRoutes configures the driver's client-facing routes (spec §6) on
// router, which should be the server's root router. taskSubmitRateLimit is
// the requests/sec bound applied to POST /tasks; zero disables rate
// limiting on that route.
func SetupRoutes(router *gin.Engine, s *scheduler.Scheduler, driverID string, log *logger.Logger, taskSubmitRateLimit int) {
	handler := NewHandler(s, driverID, log)

	if taskSubmitRateLimit > 0 {
		router.POST("/tasks", RateLimit(taskSubmitRateLimit), handler.SubmitTask)
	} else {
		router.POST("/tasks", handler.SubmitTask)
	}
	router.POST("/tasks/batch", handler.SubmitBatch)
	router.GET("/tasks", handler.ListTasks)
	router.GET("/tasks/:id", handler.GetTask)
	router.GET("/tasks/:id/result", handler.GetTaskResult)
	router.GET("/tasks/:id/progress", handler.GetTaskProgress)
	router.DELETE("/tasks/:id", handler.CancelTask)

	router.POST("/workers", handler.RegisterWorker)
	router.DELETE("/workers/:id", handler.UnregisterWorker)
	router.GET("/workers", handler.ListWorkers)
	router.GET("/workers/:id", handler.GetWorker)
	router.GET("/workers/:id/health", handler.GetWorkerHealth)

	router.POST("/sessions", handler.CreateSession)
	router.POST("/sessions/:id/execute", handler.ExecuteInSession)
	router.DELETE("/sessions/:id", handler.EndSession)
	router.GET("/sessions/:id", handler.GetSession)
	router.GET("/sessions", handler.ListActiveSessions)

	router.GET("/driver", handler.DriverInfo)
	router.GET("/metrics", handler.Metrics)
	router.GET("/stats", handler.GetStats)
	router.GET("/scheduler/stats", handler.GetStats)
	router.GET("/scheduler/queue", handler.GetQueue)
	router.GET("/scheduler/plans", handler.GetPlans)

	router.GET("/health", handler.Health)
	router.GET("/health/ready", handler.Ready)
	router.GET("/health/live", handler.Live)
}
