package api

import (
	"github.com/gin-gonic/gin"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/provider"
	"github.com/claudecluster/core/internal/worker/session"
)

// SetupRoutes configures the worker's control-plane routes (spec §4.3) on
// router, which should be the server's root router.
func SetupRoutes(router *gin.Engine, p *provider.Provider, sessions *session.Manager, caps model.Capabilities, log *logger.Logger) {
	handler := NewHandler(p, sessions, caps, log)

	router.POST("/tasks", handler.SubmitTask)
	router.GET("/tasks/:id", handler.GetTask)
	router.DELETE("/tasks/:id", handler.CancelTask)

	router.POST("/sessions", handler.CreateSession)
	router.POST("/sessions/:id/execute", handler.ExecuteInSession)
	router.DELETE("/sessions/:id", handler.EndSession)

	router.GET("/health", handler.HealthCheck)
	router.GET("/capabilities", handler.Capabilities)
}
