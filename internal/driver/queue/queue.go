// Package queue implements the scheduler's ready-task priority queue.
// A task enters the queue only once every dependency in Task.Dependencies
// has reached TaskCompleted (§4.4 "ready-task computation") - gating on
// dependencies is the scheduler's job, this package only orders what it is
// given.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/claudecluster/core/internal/model"
)

var (
	// ErrQueueFull is returned when the queue is at its configured capacity.
	ErrQueueFull = errors.New("queue: full")
	// ErrTaskExists is returned when a task id is already queued.
	ErrTaskExists = errors.New("queue: task already queued")
)

// taskHeap implements heap.Interface over *model.QueuedTask, ordered by
// priority weight (higher first) and, within a weight, FIFO by queue time.
type taskHeap struct {
	items   []*model.QueuedTask
	weights map[model.TaskPriority]int
	index   map[string]int
}

func (h *taskHeap) Len() int { return len(h.items) }

func (h *taskHeap) weight(qt *model.QueuedTask) int {
	if w, ok := h.weights[qt.Task.Priority]; ok {
		return w
	}
	return h.weights[model.PriorityNormal]
}

func (h *taskHeap) Less(i, j int) bool {
	wi, wj := h.weight(h.items[i]), h.weight(h.items[j])
	if wi != wj {
		return wi > wj
	}
	return h.items[i].QueuedAt.Before(h.items[j].QueuedAt)
}

func (h *taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].Task.ID] = i
	h.index[h.items[j].Task.ID] = j
}

func (h *taskHeap) Push(x interface{}) {
	qt := x.(*model.QueuedTask)
	h.index[qt.Task.ID] = len(h.items)
	h.items = append(h.items, qt)
}

func (h *taskHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	delete(h.index, item.Task.ID)
	h.items = old[:n-1]
	return item
}

// TaskQueue is the scheduler's priority queue of tasks ready to dispatch.
type TaskQueue struct {
	mu      sync.RWMutex
	heap    *taskHeap
	maxSize int
}

// NewTaskQueue builds an empty queue. maxSize <= 0 means unbounded.
// weights gives each model.TaskPriority its scheduling weight; pass nil to
// use model.DefaultPriorityWeights().
func NewTaskQueue(maxSize int, weights map[model.TaskPriority]int) *TaskQueue {
	if weights == nil {
		weights = model.DefaultPriorityWeights()
	}
	h := &taskHeap{
		items:   make([]*model.QueuedTask, 0),
		weights: weights,
		index:   make(map[string]int),
	}
	heap.Init(h)
	return &TaskQueue{heap: h, maxSize: maxSize}
}

// Enqueue adds a ready task to the queue.
func (q *TaskQueue) Enqueue(task *model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.heap.index[task.ID]; exists {
		return ErrTaskExists
	}
	if q.maxSize > 0 && len(q.heap.items) >= q.maxSize {
		return ErrQueueFull
	}

	heap.Push(q.heap, &model.QueuedTask{
		Task:     task,
		QueuedAt: time.Now(),
	})
	return nil
}

// Dequeue removes and returns the highest-priority queued task, or nil if
// the queue is empty.
func (q *TaskQueue) Dequeue() *model.QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap.items) == 0 {
		return nil
	}
	return heap.Pop(q.heap).(*model.QueuedTask)
}

// Peek returns the highest-priority queued task without removing it.
func (q *TaskQueue) Peek() *model.QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.heap.items) == 0 {
		return nil
	}
	return q.heap.items[0]
}

// Requeue re-enters a task that was dispatched and then failed in a way
// that warrants another attempt, bumping its RetryCount. Callers are
// responsible for checking the task's retry budget first.
func (q *TaskQueue) Requeue(qt *model.QueuedTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.heap.index[qt.Task.ID]; exists {
		return ErrTaskExists
	}
	qt.RetryCount++
	qt.LastAttempt = time.Now()
	qt.AssignedWorker = ""
	heap.Push(q.heap, qt)
	return nil
}

// Remove drops a task from the queue, e.g. on cancellation. Reports whether
// it was present.
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, exists := q.heap.index[taskID]
	if !exists {
		return false
	}
	heap.Remove(q.heap, i)
	return true
}

// Contains reports whether a task is currently queued.
func (q *TaskQueue) Contains(taskID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	_, exists := q.heap.index[taskID]
	return exists
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.heap.items)
}

// IsFull reports whether the queue is at its configured capacity.
func (q *TaskQueue) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.maxSize > 0 && len(q.heap.items) >= q.maxSize
}

// List returns a snapshot of every queued task, for the driver's status
// endpoint. The heap order of the returned slice is not itself priority
// order; callers needing ranked output should sort it.
func (q *TaskQueue) List() []*model.QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*model.QueuedTask, len(q.heap.items))
	copy(result, q.heap.items)
	return result
}

// Clear empties the queue.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap.items = make([]*model.QueuedTask, 0)
	q.heap.index = make(map[string]int)
}
