// Package model defines the data types shared between the driver and worker:
// tasks, results, artifacts, workers, sessions and the scheduling records
// built on top of them.
package model

import "time"

// TaskCategory classifies a task for capability matching and affinity scoring.
type TaskCategory string

const (
	CategoryCoding         TaskCategory = "coding"
	CategoryAnalysis       TaskCategory = "analysis"
	CategoryRefactoring    TaskCategory = "refactoring"
	CategoryTesting        TaskCategory = "testing"
	CategoryDocumentation  TaskCategory = "documentation"
	CategorySystem         TaskCategory = "system"
)

// TaskPriority orders tasks within the scheduler's ready queue.
type TaskPriority string

const (
	PriorityCritical   TaskPriority = "critical"
	PriorityHigh       TaskPriority = "high"
	PriorityNormal     TaskPriority = "normal"
	PriorityLow        TaskPriority = "low"
	PriorityBackground TaskPriority = "background"
)

// DefaultPriorityWeights gives every priority level its scheduling weight.
// Overridable via SchedulerConfig.PriorityWeights.
func DefaultPriorityWeights() map[TaskPriority]int {
	return map[TaskPriority]int{
		PriorityCritical:   100,
		PriorityHigh:       75,
		PriorityNormal:     50,
		PriorityLow:        25,
		PriorityBackground: 10,
	}
}

// TaskStatus is the lifecycle state of a task as observed externally.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskUnknown   TaskStatus = "unknown"
)

// IsTerminal reports whether status is one a task cannot transition out of.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// ExecutionMode selects which executor variant runs a task.
type ExecutionMode string

const (
	ModeProcessPool     ExecutionMode = "process_pool"
	ModeContainerAgentic ExecutionMode = "container_agentic"
)

// ResourceLimits bounds an executor's container or process footprint.
type ResourceLimits struct {
	MemoryMB int     `json:"memory_mb,omitempty"`
	CPUCores float64 `json:"cpu_cores,omitempty"`
	// TimeoutSeconds overrides Task.Context.TimeoutSeconds for this resource
	// class when non-zero.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// TaskContext carries everything execution needs beyond the prompt itself.
type TaskContext struct {
	WorkingDir     string            `json:"working_dir,omitempty"`
	RepoURL        string            `json:"repo_url,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	Resources      *ResourceLimits   `json:"resources,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	ExecutionMode  ExecutionMode     `json:"execution_mode,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// Task is the unit of work submitted to the driver.
type Task struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Category     TaskCategory      `json:"category"`
	Priority     TaskPriority      `json:"priority"`
	Status       TaskStatus        `json:"status"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Context      TaskContext       `json:"context,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Artifact describes one file produced in a task's workspace.
type Artifact struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentHash string    `json:"content_hash"`
	MIMEType    string    `json:"mime_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResourceUsage is a point-in-time snapshot of an executor's footprint.
type ResourceUsage struct {
	MemoryMB  float64 `json:"memory_mb"`
	CPUPct    float64 `json:"cpu_pct"`
	Observed  time.Time `json:"observed"`
}

// TaskMetrics records the timing and resource envelope of one execution.
type TaskMetrics struct {
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Duration  time.Duration  `json:"duration"`
	Usage     *ResourceUsage `json:"usage,omitempty"`
}

// ErrorKind is the stable, cross-interface vocabulary of terminal failures.
// See errors.AppError for the HTTP-facing mapping.
type ErrorKind string

const (
	ErrKindValidation        ErrorKind = "validation"
	ErrKindDuplicateTask     ErrorKind = "duplicate-task"
	ErrKindNotFound          ErrorKind = "not-found"
	ErrKindSessionExpired    ErrorKind = "session-expired"
	ErrKindModeUnsupported   ErrorKind = "mode-unsupported"
	ErrKindNoWorkersAvailable ErrorKind = "no-workers-available"
	ErrKindTimedOut          ErrorKind = "timed-out"
	ErrKindWorkerLost        ErrorKind = "worker-lost"
	ErrKindDependencyFailed  ErrorKind = "dependency-failed"
	ErrKindExecutorTerminated ErrorKind = "executor-terminated"
	ErrKindInternal          ErrorKind = "internal"
)

// TaskResult is the immutable record of a task's terminal outcome.
// Invariant: every terminal task has exactly one result, and once written
// it never changes - callers must treat a *TaskResult as a value, never
// mutate one returned from a store.
type TaskResult struct {
	TaskID    string     `json:"task_id"`
	SessionID string     `json:"session_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Output    string     `json:"output"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Metrics   TaskMetrics `json:"metrics"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Error     string     `json:"error,omitempty"`
}
