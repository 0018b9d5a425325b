// Package client is the driver's HTTP client to a single worker's control
// plane (spec §4.3, §6). One WorkerClient is cached per registered worker;
// clients are cheap and hold no state beyond the worker's base URL.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"go.uber.org/zap"
)

// WorkerClient talks to one worker's HTTP control plane.
type WorkerClient struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// NewWorkerClient builds a client bound to a worker's base URL
// (e.g. "http://worker-3:8081"). requestTimeout bounds every call.
func NewWorkerClient(baseURL string, requestTimeout time.Duration, log *logger.Logger) *WorkerClient {
	return &WorkerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  log.WithFields(zap.String("component", "worker_client"), zap.String("worker_url", baseURL)),
	}
}

// TaskStatusResponse is the polled per-task state the worker returns from
// GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID      string             `json:"task_id"`
	Status      model.TaskStatus   `json:"status"`
	Progress    float64            `json:"progress"`
	CurrentStep string             `json:"current_step,omitempty"`
	Output      string             `json:"output,omitempty"`
	Artifacts   []model.Artifact   `json:"artifacts,omitempty"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   model.ErrorKind    `json:"error_kind,omitempty"`
}

// DispatchTask submits a task for asynchronous execution (POST /tasks).
// Returns an error tagged model.ErrKindDuplicateTask on a 409.
func (c *WorkerClient) DispatchTask(ctx context.Context, task *model.Task, options map[string]interface{}) error {
	body := map[string]interface{}{"task": task, "options": options}
	resp, err := c.do(ctx, http.MethodPost, "/tasks", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: task %s already active on worker", ErrDuplicateTask, task.ID)
	default:
		return c.unexpectedStatus(resp)
	}
}

// PollTask fetches the current status of a task this worker is running.
func (c *WorkerClient) PollTask(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTaskNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus(resp)
	}

	var status TaskStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("worker_client: decode task status: %w", err)
	}
	return &status, nil
}

// CancelTask issues DELETE /tasks/{id}. Always idempotent per spec §4.3.
func (c *WorkerClient) CancelTask(ctx context.Context, taskID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/tasks/"+taskID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.unexpectedStatus(resp)
	}
	return nil
}

// CreateSessionResponse is the worker's POST /sessions response.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
}

// CreateSession asks the worker to start a container-backed session.
// Returns model.ErrKindModeUnsupported-tagged error on a 400 (worker has no
// container capability).
func (c *WorkerClient) CreateSession(ctx context.Context, options model.SessionOptions) (*CreateSessionResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/sessions", map[string]interface{}{"options": options})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: worker has no container capability", ErrModeUnsupported)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.unexpectedStatus(resp)
	}

	var created CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("worker_client: decode session response: %w", err)
	}
	return &created, nil
}

// ExecuteInSession runs a task synchronously inside an existing session's
// container executor (POST /sessions/{id}/execute).
func (c *WorkerClient) ExecuteInSession(ctx context.Context, sessionID string, task *model.Task, options map[string]interface{}) (*model.TaskResult, error) {
	body := map[string]interface{}{"task": task, "options": options}
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/execute", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ErrSessionNotFound
	case http.StatusGone:
		return nil, ErrSessionExpired
	case http.StatusOK:
		var result model.TaskResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("worker_client: decode task result: %w", err)
		}
		return &result, nil
	default:
		return nil, c.unexpectedStatus(resp)
	}
}

// EndSession terminates a session and its underlying container.
func (c *WorkerClient) EndSession(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.unexpectedStatus(resp)
	}
	return nil
}

// HealthResponse is the worker's GET /health payload.
type HealthResponse struct {
	Status          string  `json:"status"`
	ActiveTaskCount int     `json:"active_task_count"`
	PoolSize        int     `json:"pool_size"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	MemoryMB        float64 `json:"memory_mb"`
	CPUPct          float64 `json:"cpu_pct"`
}

// Health polls the worker's liveness/capacity snapshot, used by the
// driver's ~30s worker health-check loop.
func (c *WorkerClient) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus(resp)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("worker_client: decode health: %w", err)
	}
	return &health, nil
}

// Capabilities fetches the worker's static capability descriptor.
func (c *WorkerClient) Capabilities(ctx context.Context) (*model.Capabilities, error) {
	resp, err := c.do(ctx, http.MethodGet, "/capabilities", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus(resp)
	}

	var caps model.Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("worker_client: decode capabilities: %w", err)
	}
	return &caps, nil
}

func (c *WorkerClient) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("worker_client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("worker_client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("worker request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}
	return resp, nil
}

func (c *WorkerClient) unexpectedStatus(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("worker_client: unexpected status %d: %s", resp.StatusCode, string(data))
}
