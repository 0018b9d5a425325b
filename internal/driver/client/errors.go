package client

import "errors"

var (
	// ErrWorkerUnreachable wraps any transport-level failure reaching a worker.
	ErrWorkerUnreachable = errors.New("worker unreachable")
	// ErrDuplicateTask mirrors model.ErrKindDuplicateTask for a 409 response.
	ErrDuplicateTask = errors.New("task already active on worker")
	// ErrTaskNotFound mirrors model.ErrKindNotFound for a 404 on /tasks/{id}.
	ErrTaskNotFound = errors.New("task not found on worker")
	// ErrModeUnsupported mirrors model.ErrKindModeUnsupported for a 400 on
	// session creation against a worker with no container capability.
	ErrModeUnsupported = errors.New("execution mode unsupported by worker")
	// ErrSessionNotFound mirrors model.ErrKindNotFound for a 404 on session execute.
	ErrSessionNotFound = errors.New("session not found on worker")
	// ErrSessionExpired mirrors model.ErrKindSessionExpired for a 410 on session execute.
	ErrSessionExpired = errors.New("session expired")
)
