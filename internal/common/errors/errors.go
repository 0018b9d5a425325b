// Package errors provides the application-wide error vocabulary: every
// terminal failure surfaced across the driver/worker protocol carries one
// of these stable kinds, so HTTP handlers and scheduler retry logic can
// branch on Code without string-matching messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/claudecluster/core/internal/model"
)

// Error codes as constants. Codes for the task/session/execution vocabulary
// reuse model.ErrorKind's string values directly, so AppError.Code can be
// compared against the kind strings sent over the wire.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	ErrCodeDuplicateTask      = string(model.ErrKindDuplicateTask)
	ErrCodeSessionExpired     = string(model.ErrKindSessionExpired)
	ErrCodeModeUnsupported    = string(model.ErrKindModeUnsupported)
	ErrCodeNoWorkersAvailable = string(model.ErrKindNoWorkersAvailable)
	ErrCodeTimedOut           = string(model.ErrKindTimedOut)
	ErrCodeWorkerLost         = string(model.ErrKindWorkerLost)
	ErrCodeDependencyFailed   = string(model.ErrKindDependencyFailed)
	ErrCodeExecutorTerminated = string(model.ErrKindExecutorTerminated)
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// DuplicateTask creates the error returned when a submitted task id already
// exists in the queue or registry.
func DuplicateTask(taskID string) *AppError {
	return &AppError{
		Code:       ErrCodeDuplicateTask,
		Message:    fmt.Sprintf("task '%s' already exists", taskID),
		HTTPStatus: http.StatusConflict,
	}
}

// SessionExpired creates the error returned when a session's expiresAt has
// passed.
func SessionExpired(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionExpired,
		Message:    fmt.Sprintf("session '%s' has expired", sessionID),
		HTTPStatus: http.StatusGone,
	}
}

// ModeUnsupported creates the error returned when a worker has no
// capability for the requested execution mode.
func ModeUnsupported(mode model.ExecutionMode, workerID string) *AppError {
	return &AppError{
		Code:       ErrCodeModeUnsupported,
		Message:    fmt.Sprintf("worker '%s' does not support execution mode '%s'", workerID, mode),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NoWorkersAvailable creates the error recorded when no compatible worker
// exists at submission time. It is not terminal: the task stays queued.
func NoWorkersAvailable(category model.TaskCategory) *AppError {
	return &AppError{
		Code:       ErrCodeNoWorkersAvailable,
		Message:    fmt.Sprintf("no worker available for category '%s'", category),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// TimedOut creates the error recorded when a task exceeds its configured
// timeout.
func TimedOut(taskID string) *AppError {
	return &AppError{
		Code:       ErrCodeTimedOut,
		Message:    fmt.Sprintf("task '%s' timed out", taskID),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// WorkerLost creates the error recorded when a worker misses health checks
// while a task is assigned to it.
func WorkerLost(workerID string) *AppError {
	return &AppError{
		Code:       ErrCodeWorkerLost,
		Message:    fmt.Sprintf("worker '%s' is unreachable", workerID),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// DependencyFailed creates the error recorded when a task's dependency
// reached a terminal non-completed state.
func DependencyFailed(taskID, dependencyID string) *AppError {
	return &AppError{
		Code:       ErrCodeDependencyFailed,
		Message:    fmt.Sprintf("task '%s' cancelled: dependency '%s' did not complete", taskID, dependencyID),
		HTTPStatus: http.StatusFailedDependency,
	}
}

// ExecutorTerminated creates the error returned by an executor whose
// terminate() has already been called.
func ExecutorTerminated(executorID string) *AppError {
	return &AppError{
		Code:       ErrCodeExecutorTerminated,
		Message:    fmt.Sprintf("executor '%s' has been terminated", executorID),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Kind maps an AppError's Code onto the stable model.ErrorKind vocabulary
// used in TaskResult.ErrorKind. Codes with no kind equivalent (auth,
// not-found's HTTP-only siblings) map to ErrKindInternal.
func (e *AppError) Kind() model.ErrorKind {
	switch e.Code {
	case ErrCodeNotFound:
		return model.ErrKindNotFound
	case ErrCodeBadRequest, ErrCodeValidationError:
		return model.ErrKindValidation
	case ErrCodeDuplicateTask:
		return model.ErrKindDuplicateTask
	case ErrCodeSessionExpired:
		return model.ErrKindSessionExpired
	case ErrCodeModeUnsupported:
		return model.ErrKindModeUnsupported
	case ErrCodeNoWorkersAvailable:
		return model.ErrKindNoWorkersAvailable
	case ErrCodeTimedOut:
		return model.ErrKindTimedOut
	case ErrCodeWorkerLost:
		return model.ErrKindWorkerLost
	case ErrCodeDependencyFailed:
		return model.ErrKindDependencyFailed
	case ErrCodeExecutorTerminated:
		return model.ErrKindExecutorTerminated
	default:
		return model.ErrKindInternal
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

