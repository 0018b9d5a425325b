package model

import "time"

// SessionOptions are the caller-supplied parameters used to create a
// container-backed session.
type SessionOptions struct {
	RepoURL        string            `json:"repo_url,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Resources      *ResourceLimits   `json:"resources,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
}

// Session is a long-lived container execution context bound to one worker.
// Multiple tasks may execute within it sequentially via
// POST /sessions/{id}/execute.
type Session struct {
	ID           string          `json:"id"`
	WorkerID     string          `json:"worker_id"`
	Endpoint     string          `json:"endpoint"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	LastActivity time.Time       `json:"last_activity"`
	Options      SessionOptions  `json:"options"`
}

// Expired reports whether the session has passed its expiry at instant now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ExecutorState is the worker-internal lifecycle state of one executor slot.
type ExecutorState string

const (
	ExecutorIdle       ExecutorState = "idle"
	ExecutorExecuting  ExecutorState = "executing"
	ExecutorTerminated ExecutorState = "terminated"
)

// ExecutorStatus is a snapshot returned by Executor.Status().
type ExecutorStatus struct {
	ID             string         `json:"id"`
	Mode           ExecutionMode  `json:"mode"`
	State          ExecutorState  `json:"state"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	TasksCompleted int            `json:"tasks_completed"`
	LastUsage      *ResourceUsage `json:"last_usage,omitempty"`
}
