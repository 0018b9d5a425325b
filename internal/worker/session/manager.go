// Package session implements the worker-side half of the container-agentic
// execution mode (spec §4.1 Container variant, §4.2 Execution Provider,
// §4.3 session endpoints). One Manager owns every container-backed session
// a worker currently holds.
package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/credentials"
	"github.com/claudecluster/core/internal/worker/docker"
	"github.com/claudecluster/core/internal/worker/registry"
)

const (
	outputStartSentinel = "=== OUTPUT START ==="
	outputEndSentinel   = "=== OUTPUT END ==="
	// exitCodeTimeout is the entrypoint contract's reserved exit code
	// meaning the task was killed for running past its timeout.
	exitCodeTimeout = 124
	killGracePeriod = 10 * time.Second
)

// trackedSession is a model.Session plus the worker-internal bookkeeping
// the driver never sees.
type trackedSession struct {
	model.Session
	ContainerID string
	ImageConfig *registry.ImageConfig
	activeTask  string // task ID currently executing inside this session, "" if idle
}

// Manager owns every session currently bound to this worker.
type Manager struct {
	docker      *docker.Client
	registry    *registry.Registry
	credentials *credentials.Manager
	eventBus    bus.EventBus
	logger      *logger.Logger

	workerID string

	mu       sync.RWMutex
	sessions map[string]*trackedSession

	sweepInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewManager builds a session manager for one worker.
func NewManager(workerID string, dockerClient *docker.Client, reg *registry.Registry, credMgr *credentials.Manager, eventBus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		docker:        dockerClient,
		registry:      reg,
		credentials:   credMgr,
		eventBus:      eventBus,
		logger:        log.WithFields(zap.String("component", "session_manager")),
		workerID:      workerID,
		sessions:      make(map[string]*trackedSession),
		sweepInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background expiry sweep.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop halts the background sweep and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Create starts a new container-backed session. Returns an error if the
// worker has no enabled image capable of container execution.
func (m *Manager) Create(ctx context.Context, opts model.SessionOptions) (*model.Session, error) {
	imageConfigs := m.registry.List()
	var cfg *registry.ImageConfig
	for _, candidate := range imageConfigs {
		if candidate.Enabled {
			cfg = candidate
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("no enabled image config available for session creation")
	}

	sessionID := uuid.New().String()

	additional := map[string]string{
		"SESSION_ID":    sessionID,
		"WORKSPACE_DIR": "/workspace",
	}
	if opts.RepoURL != "" {
		additional["REPO_URL"] = opts.RepoURL
	}
	for k, v := range opts.Environment {
		additional[k] = v
	}

	env, err := m.credentials.BuildEnvVars(ctx, cfg.RequiredEnv, additional)
	if err != nil {
		return nil, fmt.Errorf("session: resolve credentials: %w", err)
	}

	memoryMB := cfg.ResourceLimits.MemoryMB
	cpuCores := cfg.ResourceLimits.CPUCores
	if opts.Resources != nil {
		if opts.Resources.MemoryMB > 0 {
			memoryMB = opts.Resources.MemoryMB
		}
		if opts.Resources.CPUCores > 0 {
			cpuCores = opts.Resources.CPUCores
		}
	}

	imageName := cfg.Image
	if cfg.Tag != "" {
		imageName = cfg.Image + ":" + cfg.Tag
	}

	containerID, err := m.docker.CreateContainer(ctx, docker.ContainerConfig{
		Name:       "claudecluster-session-" + sessionID[:8],
		Image:      imageName,
		Cmd:        cfg.Cmd,
		Env:        env,
		WorkingDir: cfg.WorkingDir,
		Memory:     memoryMB * 1024 * 1024,
		CPUQuota:   int64(cpuCores * 100000),
		Labels: map[string]string{
			"claudecluster.session": sessionID,
			"claudecluster.type":    "session",
			"claudecluster.created": time.Now().Format(time.RFC3339),
		},
		AutoRemove: false,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create container: %w", err)
	}

	if err := m.docker.StartContainer(ctx, containerID); err != nil {
		_ = m.docker.RemoveContainer(ctx, containerID, true)
		return nil, fmt.Errorf("session: start container: %w", err)
	}

	timeoutSeconds := opts.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = cfg.ResourceLimits.TimeoutSeconds
	}

	now := time.Now()
	sess := &trackedSession{
		Session: model.Session{
			ID:           sessionID,
			WorkerID:     m.workerID,
			Endpoint:     "",
			CreatedAt:    now,
			ExpiresAt:    now.Add(time.Duration(timeoutSeconds) * time.Second),
			LastActivity: now,
			Options:      opts,
		},
		ContainerID: containerID,
		ImageConfig: cfg,
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("container_id", containerID))

	m.publishSessionEvent(ctx, "session.created", sess)

	snapshot := sess.Session
	return &snapshot, nil
}

// Execute runs one task inside an existing session's container via docker
// exec, blocking until the entrypoint exits or the task's timeout fires.
// Returns ErrSessionNotFound / ErrSessionExpired / ErrSessionBusy as
// appropriate; any other failure surfaces as a failed TaskResult rather
// than a Go error, per §4.1's "execute never fails the call" contract.
func (m *Manager) Execute(ctx context.Context, sessionID string, task *model.Task) (*model.TaskResult, error) {
	m.mu.Lock()
	sess, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if sess.Expired(time.Now()) {
		m.mu.Unlock()
		return nil, ErrSessionExpired
	}
	if sess.activeTask != "" {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	sess.activeTask = task.ID
	sess.LastActivity = time.Now()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		sess.activeTask = ""
		m.mu.Unlock()
	}()

	timeout := time.Duration(task.Context.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(sess.ImageConfig.ResourceLimits.TimeoutSeconds) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := []string{
		"SESSION_ID=" + sessionID,
		"TASK=" + task.Description,
	}
	if task.Context.RepoURL != "" {
		env = append(env, "REPO_URL="+task.Context.RepoURL)
	}

	startedAt := time.Now()
	result, err := m.docker.Exec(execCtx, sess.ContainerID, docker.ExecConfig{
		Cmd: sess.ImageConfig.Cmd,
		Env: env,
	})

	metrics := model.TaskMetrics{StartedAt: startedAt, EndedAt: time.Now()}
	metrics.Duration = metrics.EndedAt.Sub(startedAt)

	if err != nil {
		if execCtx.Err() != nil {
			m.killGracefully(ctx, sess.ContainerID)
			return &model.TaskResult{
				TaskID:    task.ID,
				SessionID: sessionID,
				Status:    model.TaskFailed,
				ErrorKind: model.ErrKindTimedOut,
				Error:     "task exceeded timeout",
				Metrics:   metrics,
			}, nil
		}
		return &model.TaskResult{
			TaskID:    task.ID,
			SessionID: sessionID,
			Status:    model.TaskFailed,
			ErrorKind: model.ErrKindInternal,
			Error:     err.Error(),
			Metrics:   metrics,
		}, nil
	}

	output := extractSentinelOutput(result.Output)

	if result.ExitCode == exitCodeTimeout {
		return &model.TaskResult{
			TaskID:    task.ID,
			SessionID: sessionID,
			Status:    model.TaskFailed,
			Output:    output,
			ErrorKind: model.ErrKindTimedOut,
			Error:     "entrypoint reported timeout (exit 124)",
			Metrics:   metrics,
		}, nil
	}
	if result.ExitCode != 0 {
		return &model.TaskResult{
			TaskID:    task.ID,
			SessionID: sessionID,
			Status:    model.TaskFailed,
			Output:    output,
			ErrorKind: model.ErrKindInternal,
			Error:     fmt.Sprintf("entrypoint exited with code %d", result.ExitCode),
			Metrics:   metrics,
		}, nil
	}

	m.mu.Lock()
	sess.LastActivity = time.Now()
	m.mu.Unlock()

	return &model.TaskResult{
		TaskID:    task.ID,
		SessionID: sessionID,
		Status:    model.TaskCompleted,
		Output:    output,
		Metrics:   metrics,
	}, nil
}

// extractSentinelOutput pulls the text between the wrapper entrypoint's
// output sentinels, per §6's session environment contract. Falls back to
// the raw bytes if the sentinels are absent, so a misbehaving entrypoint
// still surfaces something instead of an empty result.
func extractSentinelOutput(raw []byte) string {
	start := bytes.Index(raw, []byte(outputStartSentinel))
	end := bytes.Index(raw, []byte(outputEndSentinel))
	if start == -1 || end == -1 || end < start {
		return string(raw)
	}
	return string(bytes.TrimSpace(raw[start+len(outputStartSentinel) : end]))
}

// End terminates a session's container and drops the session record.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}

	m.killGracefully(ctx, sess.ContainerID)
	m.publishSessionEvent(ctx, "session.ended", sess)
	return nil
}

// Get returns a session's current state.
func (m *Manager) Get(sessionID string) (*model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	snapshot := sess.Session
	return &snapshot, true
}

// List returns every session currently held by this worker.
func (m *Manager) List() []*model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot := sess.Session
		result = append(result, &snapshot)
	}
	return result
}

func (m *Manager) killGracefully(ctx context.Context, containerID string) {
	stopCtx, cancel := context.WithTimeout(ctx, killGracePeriod)
	defer cancel()

	if err := m.docker.StopContainer(stopCtx, containerID, killGracePeriod); err != nil {
		m.logger.Warn("graceful stop failed, killing container",
			zap.String("container_id", containerID), zap.Error(err))
		_ = m.docker.KillContainer(ctx, containerID, "SIGKILL")
	}
	_ = m.docker.RemoveContainer(ctx, containerID, true)
}

// sweepLoop terminates sessions past their ExpiresAt on a fixed interval
// (spec §4.4 session sweep, mirrored here worker-side for the container
// this worker actually owns).
func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepExpired(ctx)
		}
	}
}

func (m *Manager) sweepExpired(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.Expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Info("sweeping expired session", zap.String("session_id", id))
		_ = m.End(ctx, id)
	}
}

func (m *Manager) publishSessionEvent(ctx context.Context, eventType string, sess *trackedSession) {
	if m.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "worker-session-manager", map[string]interface{}{
		"session_id": sess.ID,
		"worker_id":  sess.WorkerID,
		"expires_at": sess.ExpiresAt,
	})
	if err := m.eventBus.Publish(ctx, eventType, event); err != nil {
		m.logger.Warn("failed to publish session event", zap.String("event_type", eventType), zap.Error(err))
	}
}
