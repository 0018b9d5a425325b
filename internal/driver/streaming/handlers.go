package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades dashboard connections into the hub.
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler builds a WebSocket upgrade handler bound to a hub.
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: log.WithFields(zap.String("component", "ws_handler"))}
}

// StreamTask handles a dashboard connection pinned to a single task.
// GET /ws/tasks/{id}/stream
func (h *WSHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "MISSING_TASK_ID", "message": "task id is required"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)
	client.Subscribe(taskID)

	go client.WritePump()
	go client.ReadPump()
}

// StreamAll handles a dashboard connection that subscribes to tasks
// dynamically via SubscriptionMessage frames.
// GET /ws/stream
func (h *WSHandler) StreamAll(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// SetupRoutes adds the dashboard WebSocket routes to router.
func SetupRoutes(router gin.IRoutes, handler *WSHandler) {
	router.GET("/ws/tasks/:id/stream", handler.StreamTask)
	router.GET("/ws/stream", handler.StreamAll)
}
