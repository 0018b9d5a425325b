package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/claudecluster/core/internal/common/errors"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/provider"
	"github.com/claudecluster/core/internal/worker/session"
)

// resultEvictionGrace is how long a completed task's record stays queryable
// via GET /tasks/{id} before the tracker evicts it.
const resultEvictionGrace = 5 * time.Minute

// ExecutorProvider is the subset of provider.Provider the handlers need,
// narrowed to an interface so tests can substitute a fake.
type ExecutorProvider interface {
	GetExecutor(ctx context.Context, task *model.Task, optionsMode model.ExecutionMode) (provider.Executor, error)
	Release(ctx context.Context, taskID string, ex provider.Executor)
	IsHealthy(ctx context.Context) bool
}

// SessionService is the subset of session.Manager the handlers need.
type SessionService interface {
	Create(ctx context.Context, opts model.SessionOptions) (*model.Session, error)
	Execute(ctx context.Context, sessionID string, task *model.Task) (*model.TaskResult, error)
	End(ctx context.Context, sessionID string) error
}

// Handler serves the worker's HTTP control plane.
type Handler struct {
	provider     ExecutorProvider
	sessions     SessionService
	capabilities model.Capabilities
	logger       *logger.Logger
	startedAt    time.Time

	tracker *tracker
}

// NewHandler builds a worker API handler.
func NewHandler(p ExecutorProvider, sessions SessionService, caps model.Capabilities, log *logger.Logger) *Handler {
	return &Handler{
		provider:     p,
		sessions:     sessions,
		capabilities: caps,
		logger:       log.WithFields(zap.String("component", "worker_api")),
		startedAt:    time.Now(),
		tracker:      newTracker(),
	}
}

// SubmitTask accepts a task for asynchronous execution.
// POST /tasks
func (h *Handler) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := appErrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	task := req.Task
	tt, created := h.tracker.start(&task)
	if !created {
		appErr := appErrors.DuplicateTask(task.ID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	optionsMode, _ := req.Options["execution_mode"].(string)

	go h.dispatch(tt, model.ExecutionMode(optionsMode))

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{
		TaskID: task.ID,
		Status: model.TaskPending,
	})
}

func (h *Handler) dispatch(tt *trackedTask, optionsMode model.ExecutionMode) {
	ex, err := h.provider.GetExecutor(tt.ctx, tt.task, optionsMode)
	if err != nil {
		tt.complete(&model.TaskResult{
			TaskID:    tt.task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindModeUnsupported,
			Error:     err.Error(),
		})
		h.tracker.evictAfter(tt.task.ID, resultEvictionGrace)
		return
	}
	defer h.provider.Release(tt.ctx, tt.task.ID, ex)

	tt.setRunning()
	result, err := ex.Execute(tt.ctx, tt.task)
	if err != nil {
		result = &model.TaskResult{
			TaskID:    tt.task.ID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     err.Error(),
		}
	}
	tt.complete(result)
	h.tracker.evictAfter(tt.task.ID, resultEvictionGrace)
}

// GetTask reports the current status of a dispatched task.
// GET /tasks/{id}
func (h *Handler) GetTask(c *gin.Context) {
	taskID := c.Param("id")
	tt, ok := h.tracker.get(taskID)
	if !ok {
		appErr := appErrors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	status, progress, step, result := tt.snapshot()
	resp := TaskStatusResponse{
		TaskID:      taskID,
		Status:      status,
		Progress:    progress,
		CurrentStep: step,
	}
	if result != nil {
		resp.Output = result.Output
		resp.Artifacts = result.Artifacts
		resp.Error = result.Error
		resp.ErrorKind = result.ErrorKind
	}
	c.JSON(http.StatusOK, resp)
}

// CancelTask cooperatively cancels a dispatched task. Idempotent: cancelling
// a task already in a terminal state is a no-op, not an error.
// DELETE /tasks/{id}
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("id")
	tt, ok := h.tracker.get(taskID)
	if !ok {
		appErr := appErrors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	tt.cancel()
	tt.cancelled()

	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

// CreateSession starts a new container-backed session.
// POST /sessions
func (h *Handler) CreateSession(c *gin.Context) {
	if !h.capabilities.SupportsContainerExecution || h.sessions == nil {
		appErr := appErrors.ModeUnsupported(model.ModeContainerAgentic, "")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	var req CreateSessionRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := h.sessions.Create(c.Request.Context(), req.Options)
	if err != nil {
		appErr := appErrors.InternalError("failed to create session", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: sess.ID,
		Endpoint:  sess.Endpoint,
	})
}

// ExecuteInSession runs one task synchronously inside an existing session.
// POST /sessions/{id}/execute
func (h *Handler) ExecuteInSession(c *gin.Context) {
	sessionID := c.Param("id")

	var req ExecuteInSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := appErrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result, err := h.sessions.Execute(c.Request.Context(), sessionID, &req.Task)
	if err != nil {
		switch err {
		case session.ErrSessionNotFound:
			appErr := appErrors.NotFound("session", sessionID)
			c.JSON(appErr.HTTPStatus, appErr)
		case session.ErrSessionExpired:
			appErr := appErrors.SessionExpired(sessionID)
			c.JSON(appErr.HTTPStatus, appErr)
		case session.ErrSessionBusy:
			appErr := appErrors.Conflict("session is busy executing another task")
			c.JSON(appErr.HTTPStatus, appErr)
		default:
			appErr := appErrors.InternalError("failed to execute in session", err)
			c.JSON(appErr.HTTPStatus, appErr)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// EndSession terminates a session's container. Idempotent.
// DELETE /sessions/{id}
func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.End(c.Request.Context(), sessionID); err != nil {
		appErr := appErrors.InternalError("failed to end session", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session ended"})
}

// HealthCheck reports this worker's liveness and current load.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	status := "healthy"
	if !h.provider.IsHealthy(c.Request.Context()) {
		status = "unhealthy"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:          status,
		ActiveTaskCount: h.tracker.activeCount(),
		PoolSize:        h.capabilities.MaxConcurrentTasks,
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
	})
}

// Capabilities reports what this worker can execute.
// GET /capabilities
func (h *Handler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.capabilities)
}
