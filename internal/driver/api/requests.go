// Package api implements the driver's client-facing HTTP surface (spec §6):
// task submission and introspection, worker registration, session routing,
// and scheduler/health introspection, all backed by *scheduler.Scheduler.
package api

import (
	"github.com/claudecluster/core/internal/model"
)

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	Task model.Task `json:"task" binding:"required"`
}

// SubmitBatchRequest is the body of POST /tasks/batch.
type SubmitBatchRequest struct {
	Tasks    []model.Task `json:"tasks" binding:"required"`
	Parallel bool         `json:"parallel"`
}

// TaskAcceptedResponse is one item of a batch or single-submit response.
type TaskAcceptedResponse struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// TaskSummaryResponse is one entry of GET /tasks.
type TaskSummaryResponse struct {
	TaskID                 string           `json:"task_id"`
	Status                 model.TaskStatus `json:"status"`
	Progress               float64          `json:"progress"`
	StartTime              string           `json:"start_time,omitempty"`
	CurrentStep            string           `json:"current_step,omitempty"`
	EstimatedTimeRemaining float64          `json:"estimated_time_remaining_seconds,omitempty"`
}

// TaskListResponse is the body of GET /tasks.
type TaskListResponse struct {
	Total int                    `json:"total"`
	Tasks []TaskSummaryResponse  `json:"tasks"`
}

// RegisterWorkerRequest is the body of POST /workers.
type RegisterWorkerRequest struct {
	Worker          model.Worker `json:"worker" binding:"required"`
	HealthCheckURL  string       `json:"health_check_url,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Options model.SessionOptions `json:"options"`
}

// CreateSessionResponse is the body of a successful POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
	Endpoint  string `json:"endpoint,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// ExecuteInSessionRequest is the body of POST /sessions/{id}/execute.
type ExecuteInSessionRequest struct {
	Task model.Task `json:"task" binding:"required"`
}

// DriverInfoResponse is the body of GET /driver.
type DriverInfoResponse struct {
	DriverID      string  `json:"driver_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	WorkerCount   int     `json:"worker_count"`
}
