package scheduler

import (
	"context"
	"time"

	"github.com/claudecluster/core/internal/model"
)

// statsLoop recomputes the scheduler's stats snapshot on a ~10s cadence
// and emits stats-updated (spec §4.4).
func (s *Scheduler) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateStats(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) updateStats(ctx context.Context) {
	workers := s.workers.List()
	healthy := 0
	for _, w := range workers {
		if w.Health.Healthy {
			healthy++
		}
	}
	active := s.sessions.Active()
	expired := s.sessions.ExpiredCount()

	s.mu.Lock()
	s.stats.RunningTasks = len(s.contexts)
	s.stats.QueuedTasks = s.queue.Len()
	s.stats.WorkerCount = len(workers)
	s.stats.HealthyWorkers = healthy
	s.stats.ActiveSessions = len(active)
	s.stats.ExpiredSessions = expired
	s.stats.TotalSessions = len(active) + expired

	var totalDuration time.Duration
	var completedWithDuration int
	for _, r := range s.results {
		if r.Status == model.TaskCompleted {
			totalDuration += r.Metrics.Duration
			completedWithDuration++
		}
	}
	if completedWithDuration > 0 {
		s.stats.AverageTaskDuration = (totalDuration / time.Duration(completedWithDuration)).Seconds()
	}

	finished := s.stats.CompletedTasks + s.stats.FailedTasks
	if finished > 0 {
		s.stats.SuccessRate = float64(s.stats.CompletedTasks) / float64(finished)
	}

	uptime := time.Since(s.startedAt)
	s.stats.UptimeSeconds = uptime.Seconds()
	if uptime > 0 {
		s.stats.ThroughputPerMinute = float64(finished) / uptime.Minutes()
	}

	snapshot := s.stats
	s.mu.Unlock()

	s.publish(ctx, EventStatsUpdated, "", map[string]interface{}{"stats": snapshot})
}
