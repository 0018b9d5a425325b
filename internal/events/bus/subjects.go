package bus

// Subjects published by the driver. Subscribers may use NATS-style
// wildcards: "*" matches one token, ">" matches the remainder, e.g.
// "task.*.progress" matches "task.t1.progress" and "task.>" matches every
// task subject.
const (
	// SubjectTaskStarted fires each time the driver dispatches a task to a
	// worker, so a retried task publishes it again.
	SubjectTaskStarted = "task.started"
	// SubjectTaskProgress fires on every successful status poll, whether or
	// not progress or status changed.
	SubjectTaskProgress = "task.progress"
	// SubjectTaskCompleted fires when a dispatched task completes, or fails
	// with no retry left. Cancellations, dependency failures, session-routed
	// tasks and merged decomposed parents are recorded without publishing it.
	SubjectTaskCompleted = "task.completed"
	// SubjectWorkerHealthChanged fires when a worker's reachability flips.
	SubjectWorkerHealthChanged = "worker.health_changed"
	// SubjectStatsUpdated fires on the stats-refresh interval.
	SubjectStatsUpdated = "stats.updated"
)

// TaskEventData is the Data payload shape for SubjectTaskStarted,
// SubjectTaskProgress and SubjectTaskCompleted events.
type TaskEventData struct {
	TaskID   string  `json:"task_id"`
	WorkerID string  `json:"worker_id,omitempty"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// ToMap converts TaskEventData to the map[string]interface{} shape Event.Data expects.
func (d TaskEventData) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"task_id":   d.TaskID,
		"worker_id": d.WorkerID,
		"status":    d.Status,
		"progress":  d.Progress,
	}
}

// WorkerHealthEventData is the Data payload shape for SubjectWorkerHealthChanged.
type WorkerHealthEventData struct {
	WorkerID string `json:"worker_id"`
	Healthy  bool   `json:"healthy"`
}

// ToMap converts WorkerHealthEventData to the map[string]interface{} shape Event.Data expects.
func (d WorkerHealthEventData) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"worker_id": d.WorkerID,
		"healthy":   d.Healthy,
	}
}
