package session

import "errors"

// ErrSessionNotFound mirrors model.ErrKindNotFound for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired mirrors model.ErrKindSessionExpired: expiresAt < now.
var ErrSessionExpired = errors.New("session expired")

// ErrNoContainerWorker is returned by Create when no registered worker
// supports container execution.
var ErrNoContainerWorker = errors.New("no container-capable worker available")
