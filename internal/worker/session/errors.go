package session

import "errors"

var (
	// ErrSessionNotFound is returned when a session id has no matching
	// tracked session, mirroring a 404 on POST /sessions/{id}/execute.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session's ExpiresAt has passed,
	// mirroring a 410 on POST /sessions/{id}/execute.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionBusy is returned when a second execute arrives while one
	// task is still running inside the session's container.
	ErrSessionBusy = errors.New("session is busy executing another task")
)
