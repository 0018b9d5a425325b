package registry

import "errors"

// ErrWorkerNotFound is returned when an operation names a worker ID the
// registry has never seen or has already unregistered.
var ErrWorkerNotFound = errors.New("worker not found")

// ErrNoEligibleWorker is returned by Select when no registered worker can
// currently take the task (capacity, category, or mode all excluded it).
var ErrNoEligibleWorker = errors.New("no eligible worker available")
