// Package session is the driver-side session registry (spec §4.4, §3):
// creating, routing into, sweeping, and ending container-backed sessions
// bound to a single worker, as distinct from internal/worker/session,
// which is the worker-local container lifecycle a session record here
// points at.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/storage/checkpoint"
)

// WorkerSelector is the subset of registry.Registry the session registry
// needs to place a new session, narrowed for testability.
type WorkerSelector interface {
	SelectForSession() (*model.Worker, error)
	Assign(workerID, taskID string) error
	Release(workerID, taskID string) error
}

// Registry tracks every active driver-side session record and the
// sweep loop that expires them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	expired  int

	workers  WorkerSelector
	clients  *client.Pool
	logger   *logger.Logger

	// checkpoint is optional: when set, session create/end/expire is
	// mirrored there so a restarted driver can rehydrate active sessions.
	checkpoint checkpoint.Store

	sweepInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// SetCheckpointStore attaches the durable mirror session writes go to.
// Optional; nil (the default) disables checkpointing entirely.
func (r *Registry) SetCheckpointStore(store checkpoint.Store) {
	r.checkpoint = store
}

// LoadSessions rehydrates active session records from a checkpoint
// snapshot taken at driver startup, before Start is called. Sessions that
// have already expired by the time the driver comes back up are dropped
// rather than restored, since nothing would ever sweep them.
func (r *Registry) LoadSessions(sessions []*model.Session) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sessions {
		if s.Expired(now) {
			continue
		}
		r.sessions[s.ID] = s
	}
}

// NewRegistry builds a driver-side session registry. sweepInterval should
// match the worker health-check cadence (spec §4.4, ~30s).
func NewRegistry(workers WorkerSelector, clients *client.Pool, sweepInterval time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		sessions:      make(map[string]*model.Session),
		workers:       workers,
		clients:       clients,
		sweepInterval: sweepInterval,
		logger:        log.WithFields(zap.String("component", "session_registry")),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the background expiry sweep.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.sweepLoop(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Create picks a container-capable worker (registry.Registry.SelectForSession)
// and asks it to start a session.
func (r *Registry) Create(ctx context.Context, opts model.SessionOptions) (*model.Session, error) {
	worker, err := r.workers.SelectForSession()
	if err != nil {
		return nil, ErrNoContainerWorker
	}

	created, err := r.clients.Get(worker.Endpoint).CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	sess := &model.Session{
		ID:           created.SessionID,
		WorkerID:     worker.ID,
		Endpoint:     created.Endpoint,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
		LastActivity: now,
		Options:      opts,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.SaveSession(ctx, sess); err != nil {
			r.logger.Warn("checkpoint save session failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	r.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("worker_id", worker.ID))
	return sess, nil
}

// Execute routes a task into an existing session's worker, synchronously.
func (r *Registry) Execute(ctx context.Context, sessionID string, task *model.Task, options map[string]interface{}) (*model.TaskResult, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}

	result, err := r.clients.Get(sess.Endpoint).ExecuteInSession(ctx, sessionID, task, options)
	if err != nil {
		switch err {
		case client.ErrSessionNotFound:
			return nil, ErrSessionNotFound
		case client.ErrSessionExpired:
			return nil, ErrSessionExpired
		default:
			return nil, err
		}
	}

	r.mu.Lock()
	sess.LastActivity = time.Now()
	r.mu.Unlock()

	return result, nil
}

// End terminates a session: calls the bound worker to tear down the
// container, then drops the local record regardless of the call's outcome
// (an unreachable worker shouldn't leave a session record stuck forever).
func (r *Registry) End(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if r.checkpoint != nil {
		if err := r.checkpoint.DeleteSession(ctx, sessionID); err != nil {
			r.logger.Warn("checkpoint delete session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if err := r.clients.Get(sess.Endpoint).EndSession(ctx, sessionID); err != nil {
		r.logger.Warn("failed to end session on worker", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// Get returns a session record by ID.
func (r *Registry) Get(sessionID string) (*model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Active returns every session not yet expired or swept.
func (r *Registry) Active() []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ExpiredCount returns the lifetime count of sessions the sweep loop has
// expired, for the stats loop's expiredSessions counter.
func (r *Registry) ExpiredCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expired
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepExpired(ctx)
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sweepExpired(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var toExpire []*model.Session
	for id, s := range r.sessions {
		if s.Expired(now) {
			toExpire = append(toExpire, s)
			delete(r.sessions, id)
		}
	}
	r.expired += len(toExpire)
	r.mu.Unlock()

	for _, s := range toExpire {
		if r.checkpoint != nil {
			if err := r.checkpoint.DeleteSession(ctx, s.ID); err != nil {
				r.logger.Warn("checkpoint delete session failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		if err := r.clients.Get(s.Endpoint).EndSession(ctx, s.ID); err != nil {
			r.logger.Warn("failed to terminate expired session on worker",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		r.logger.Info("session expired", zap.String("session_id", s.ID))
	}
}
