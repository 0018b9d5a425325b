package model

// SchedulerStats is the scheduler's self-reported snapshot, recomputed on
// the ~10s stats interval and served from getStats/GET /stats (spec §4.4).
type SchedulerStats struct {
	TotalTasks          int     `json:"total_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	FailedTasks         int     `json:"failed_tasks"`
	RunningTasks        int     `json:"running_tasks"`
	QueuedTasks         int     `json:"queued_tasks"`
	WorkerCount         int     `json:"worker_count"`
	HealthyWorkers      int     `json:"healthy_workers"`
	AverageTaskDuration float64 `json:"average_task_duration_seconds"`
	SuccessRate         float64 `json:"success_rate"`
	ThroughputPerMinute float64 `json:"throughput_per_minute"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	ActiveSessions      int     `json:"active_sessions"`
	TotalSessions       int     `json:"total_sessions"`
	ExpiredSessions     int     `json:"expired_sessions"`
}
