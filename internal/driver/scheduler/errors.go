package scheduler

import "errors"

// ErrDuplicateTask mirrors model.ErrKindDuplicateTask: submitTask called
// twice with the same task id.
var ErrDuplicateTask = errors.New("task id already submitted")

// ErrTaskNotFound is returned by the read-only getters for an unknown id.
var ErrTaskNotFound = errors.New("task not found")
