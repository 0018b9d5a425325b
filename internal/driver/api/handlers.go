package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/claudecluster/core/internal/common/errors"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/scheduler"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/model"
)

// Handler serves the driver's client-facing HTTP control plane.
type Handler struct {
	scheduler *scheduler.Scheduler
	driverID  string
	startedAt time.Time
	logger    *logger.Logger
}

// NewHandler builds a driver API handler bound to a scheduler.
func NewHandler(s *scheduler.Scheduler, driverID string, log *logger.Logger) *Handler {
	return &Handler{
		scheduler: s,
		driverID:  driverID,
		startedAt: time.Now(),
		logger:    log.WithFields(zap.String("component", "driver_api")),
	}
}

func writeAppError(c *gin.Context, err *appErrors.AppError) {
	c.JSON(err.HTTPStatus, err)
}

func (h *Handler) taskNotFound(c *gin.Context, taskID string) {
	writeAppError(c, appErrors.NotFound("task", taskID))
}

// SubmitTask accepts one task.
// POST /tasks
func (h *Handler) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, appErrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	task := req.Task
	if err := h.scheduler.SubmitTask(c.Request.Context(), &task); err != nil {
		h.writeSubmitError(c, task.ID, err)
		return
	}

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID, Status: task.Status})
}

// SubmitBatch accepts many tasks. parallel=false still dispatches every
// submission asynchronously; it only changes submission order to sequential.
// POST /tasks/batch
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, appErrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	results := make([]TaskAcceptedResponse, len(req.Tasks))
	if req.Parallel {
		done := make(chan struct{}, len(req.Tasks))
		for i := range req.Tasks {
			go func(i int) {
				results[i] = h.submitOne(c, &req.Tasks[i])
				done <- struct{}{}
			}(i)
		}
		for range req.Tasks {
			<-done
		}
	} else {
		for i := range req.Tasks {
			results[i] = h.submitOne(c, &req.Tasks[i])
		}
	}

	c.JSON(http.StatusAccepted, results)
}

func (h *Handler) submitOne(c *gin.Context, task *model.Task) TaskAcceptedResponse {
	if err := h.scheduler.SubmitTask(c.Request.Context(), task); err != nil {
		return TaskAcceptedResponse{TaskID: task.ID, Error: err.Error()}
	}
	return TaskAcceptedResponse{TaskID: task.ID, Status: task.Status}
}

func (h *Handler) writeSubmitError(c *gin.Context, taskID string, err error) {
	var appErr *appErrors.AppError
	if ae, ok := err.(*appErrors.AppError); ok {
		appErr = ae
	} else {
		appErr = appErrors.InternalError("failed to submit task "+taskID, err)
	}
	writeAppError(c, appErr)
}

// ListTasks summarizes every task the driver has seen.
// GET /tasks
func (h *Handler) ListTasks(c *gin.Context) {
	tasks := h.scheduler.ListTasks()
	summaries := make([]TaskSummaryResponse, 0, len(tasks))
	for _, t := range tasks {
		progress, _ := h.scheduler.GetTaskProgress(t.ID)
		summaries = append(summaries, TaskSummaryResponse{
			TaskID:      t.ID,
			Status:      t.Status,
			Progress:    progress,
			CurrentStep: t.Title,
		})
	}
	c.JSON(http.StatusOK, TaskListResponse{Total: len(summaries), Tasks: summaries})
}

// GetTask reports a task's current lifecycle state and progress.
// GET /tasks/{id}
func (h *Handler) GetTask(c *gin.Context) {
	taskID := c.Param("id")
	status, err := h.scheduler.GetTaskStatus(taskID)
	if err != nil {
		h.taskNotFound(c, taskID)
		return
	}
	progress, _ := h.scheduler.GetTaskProgress(taskID)
	c.JSON(http.StatusOK, TaskSummaryResponse{TaskID: taskID, Status: status, Progress: progress})
}

// GetTaskResult returns a task's terminal result.
// GET /tasks/{id}/result
func (h *Handler) GetTaskResult(c *gin.Context) {
	taskID := c.Param("id")
	result, err := h.scheduler.GetTaskResult(taskID)
	if err != nil {
		h.taskNotFound(c, taskID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetTaskProgress returns the buffered progress detail for a task.
// GET /tasks/{id}/progress
func (h *Handler) GetTaskProgress(c *gin.Context) {
	taskID := c.Param("id")
	record, ok := h.scheduler.GetProgressRecord(taskID)
	if !ok {
		h.taskNotFound(c, taskID)
		return
	}
	c.JSON(http.StatusOK, record)
}

// CancelTask cancels a queued or running task. Idempotent.
// DELETE /tasks/{id}
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.scheduler.CancelTask(c.Request.Context(), taskID); err != nil {
		h.taskNotFound(c, taskID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

// RegisterWorker adds a worker to the registry.
// POST /workers
func (h *Handler) RegisterWorker(c *gin.Context) {
	var req RegisterWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, appErrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	worker := req.Worker
	h.scheduler.RegisterWorker(&worker)
	c.JSON(http.StatusCreated, worker)
}

// UnregisterWorker removes a worker, requeuing its in-flight tasks.
// DELETE /workers/{id}
func (h *Handler) UnregisterWorker(c *gin.Context) {
	h.scheduler.UnregisterWorker(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"message": "worker unregistered"})
}

// ListWorkers returns every registered worker.
// GET /workers
func (h *Handler) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Workers().List())
}

// GetWorker returns one worker's record.
// GET /workers/{id}
func (h *Handler) GetWorker(c *gin.Context) {
	w, ok := h.scheduler.Workers().Get(c.Param("id"))
	if !ok {
		writeAppError(c, appErrors.NotFound("worker", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, w)
}

// GetWorkerHealth returns one worker's last observed health.
// GET /workers/{id}/health
func (h *Handler) GetWorkerHealth(c *gin.Context) {
	w, ok := h.scheduler.Workers().Get(c.Param("id"))
	if !ok {
		writeAppError(c, appErrors.NotFound("worker", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, w.Health)
}

// CreateSession starts a container-backed session on a capable worker.
// POST /sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := h.scheduler.CreateSession(c.Request.Context(), req.Options)
	if err != nil {
		if err == registry.ErrNoEligibleWorker || err == session.ErrNoContainerWorker {
			writeAppError(c, appErrors.ServiceUnavailable("container-capable worker"))
			return
		}
		writeAppError(c, appErrors.InternalError("failed to create session", err))
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: sess.ID,
		WorkerID:  sess.WorkerID,
		Endpoint:  sess.Endpoint,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

// ExecuteInSession runs a task synchronously inside an existing session.
// POST /sessions/{id}/execute
func (h *Handler) ExecuteInSession(c *gin.Context) {
	sessionID := c.Param("id")
	var req ExecuteInSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, appErrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	req.Task.Context.SessionID = sessionID
	if err := h.scheduler.SubmitTask(c.Request.Context(), &req.Task); err != nil {
		h.writeSubmitError(c, req.Task.ID, err)
		return
	}

	result, _ := h.scheduler.GetTaskResult(req.Task.ID)
	c.JSON(http.StatusOK, result)
}

// EndSession terminates a session.
// DELETE /sessions/{id}
func (h *Handler) EndSession(c *gin.Context) {
	if err := h.scheduler.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		writeAppError(c, appErrors.InternalError("failed to end session", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session ended"})
}

// GetSession returns one session record.
// GET /sessions/{id}
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.scheduler.GetSession(c.Param("id"))
	if !ok {
		writeAppError(c, appErrors.NotFound("session", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListActiveSessions returns every non-expired session.
// GET /sessions
func (h *Handler) ListActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetActiveSessions())
}

// DriverInfo reports this driver's identity and summary counters.
// GET /driver
func (h *Handler) DriverInfo(c *gin.Context) {
	c.JSON(http.StatusOK, DriverInfoResponse{
		DriverID:      h.driverID,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		WorkerCount:   len(h.scheduler.Workers().List()),
	})
}

// Metrics is an alias over GetStats for GET /metrics. Kept distinct from
// /stats and /scheduler/stats because spec §6 lists all three as separate
// introspection routes serving the same underlying snapshot.
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetStats())
}

// GetStats returns the scheduler's latest stats snapshot.
// GET /stats, GET /scheduler/stats
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetStats())
}

// GetQueue returns every currently queued task.
// GET /scheduler/queue
func (h *Handler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetQueueSnapshot())
}

// GetPlans returns every in-flight decomposition.
// GET /scheduler/plans
func (h *Handler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.ListPlans())
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready reports readiness: healthy only once at least the scheduler exists,
// which is always true post-construction, so this mirrors Health. Kept
// distinct to match spec §6's three-endpoint health surface.
func (h *Handler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Live reports liveness for a Kubernetes-style liveness probe.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
