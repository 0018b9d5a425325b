package scheduler

import (
	"context"
	"time"

	"github.com/claudecluster/core/internal/model"
)

// healthCheckLoop fans out GET /health to every registered worker on a
// ~30s cadence (spec §4.4, §5).
func (s *Scheduler) healthCheckLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.exec.WorkerHealthCheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkWorkerHealth(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) checkWorkerHealth(ctx context.Context) {
	for _, w := range s.workers.List() {
		go s.probeWorker(ctx, w)
	}
}

// probeWorker pings one worker and updates the registry. A transition to
// unhealthy requeues every task currently assigned to it and emits
// worker-health-changed; a transition back to healthy needs no action
// beyond the registry update, since Select already reconsiders it on the
// next tick.
func (s *Scheduler) probeWorker(ctx context.Context, w *model.Worker) {
	wasHealthy := w.Health.Healthy

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.clients.Get(w.Endpoint).Health(reqCtx)
	responseTime := time.Since(start)
	healthy := err == nil

	_ = s.workers.UpdateHealth(w.ID, healthy, responseTime)

	if healthy == wasHealthy {
		return
	}

	s.publish(ctx, EventWorkerHealthChanged, "", map[string]interface{}{"worker_id": w.ID, "healthy": healthy})

	if !healthy {
		for _, taskID := range s.workers.TasksFor(w.ID) {
			s.requeueAfterWorkerLoss(taskID)
		}
	}
}
