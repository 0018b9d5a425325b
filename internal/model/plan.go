package model

import "time"

// QueuedTask is the scheduler-internal wrapper around a Task while it sits
// in the queue or is bound to a worker.
type QueuedTask struct {
	Task           *Task
	QueuedAt       time.Time
	RetryCount     int
	LastAttempt    time.Time
	AssignedWorker string
}

// ExecutionContext tracks one task currently dispatched to a worker. The
// scheduler keeps exactly one of these per in-flight task; it is dropped on
// terminal result or cancellation.
type ExecutionContext struct {
	TaskID    string
	WorkerID  string
	StartTime time.Time
	Progress  float64
	Status    TaskStatus
	// CancelPoll, when invoked, stops the background poll loop for this
	// context and cancels its outbound HTTP call.
	CancelPoll func()
}

// ExecutionPlan is the immutable record of a single scheduling decision.
type ExecutionPlan struct {
	TaskID              string
	WorkerID            string
	EstimatedDuration   time.Duration
	PriorityScore       int
	ScheduledAt         time.Time
	Dependencies        []string
	RetryCount          int
}

// MergeStrategy controls how a decomposed parent's result is synthesized
// from its children.
type MergeStrategy string

const (
	MergeConcat  MergeStrategy = "concat"
	MergeMerge   MergeStrategy = "merge"
	MergeReduce  MergeStrategy = "reduce"
	MergeCustom  MergeStrategy = "custom"
)

// DecomposedTask records a parent task's split into ordered children.
type DecomposedTask struct {
	ParentID      string
	ChildIDs      []string
	MergeStrategy MergeStrategy
}

// PendingMerge tracks the in-flight children of one decomposed parent so the
// scheduler can synthesize the parent's result the moment the last child
// reaches a terminal state. Replaces the source's nested-listener merge
// machinery with one explicit record looked up and updated in a single
// place.
type PendingMerge struct {
	ParentID        string
	ExpectedChildIDs []string
	MergeStrategy   MergeStrategy
	ReceivedResults map[string]*TaskResult
}

// Complete reports whether every expected child has reported a result.
func (m *PendingMerge) Complete() bool {
	for _, id := range m.ExpectedChildIDs {
		if _, ok := m.ReceivedResults[id]; !ok {
			return false
		}
	}
	return true
}
