// Package api implements the worker's HTTP control plane (spec §4.3): the
// fixed endpoint surface the driver dispatches tasks and sessions against.
package api

import "github.com/claudecluster/core/internal/model"

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	Task    model.Task             `json:"task" binding:"required"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// TaskAcceptedResponse is the 202 body of POST /tasks.
type TaskAcceptedResponse struct {
	TaskID string            `json:"task_id"`
	Status model.TaskStatus  `json:"status"`
}

// TaskStatusResponse is the body of GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID      string            `json:"task_id"`
	Status      model.TaskStatus  `json:"status"`
	Progress    float64           `json:"progress"`
	CurrentStep string            `json:"current_step,omitempty"`
	Output      string            `json:"output,omitempty"`
	Artifacts   []model.Artifact  `json:"artifacts,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   model.ErrorKind   `json:"error_kind,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Options model.SessionOptions `json:"options"`
}

// CreateSessionResponse is the body of a successful POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// ExecuteInSessionRequest is the body of POST /sessions/{id}/execute.
type ExecuteInSessionRequest struct {
	Task    model.Task             `json:"task" binding:"required"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string  `json:"status"`
	ActiveTaskCount int     `json:"active_task_count"`
	PoolSize        int     `json:"pool_size"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}
