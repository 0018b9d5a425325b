package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
)

// Handler buffers recent messages per task in memory (for GET /tasks/{id}/progress
// and a future dashboard feed) on top of a Store, which may retain a longer
// or differently-bounded history.
type Handler struct {
	store  Store
	logger *logger.Logger

	buffers map[string]*messageBuffer
	mu      sync.RWMutex

	listeners  map[string][]Listener
	listenerMu sync.RWMutex
}

// Listener is called synchronously as a new message arrives for a task.
// Used to feed the optional websocket dashboard stream.
type Listener func(msg *Message)

type messageBuffer struct {
	messages []*Message
	maxSize  int
}

// NewHandler builds a progress handler backed by store.
func NewHandler(store Store, log *logger.Logger) *Handler {
	return &Handler{
		store:     store,
		logger:    log.WithFields(zap.String("component", "progress_handler")),
		buffers:   make(map[string]*messageBuffer),
		listeners: make(map[string][]Listener),
	}
}

// Record stores a progress update for taskID and notifies any listeners.
func (h *Handler) Record(ctx context.Context, taskID string, progressFraction float64, message string) {
	h.process(ctx, &Message{
		Type:      MessageTypeProgress,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			keyProgress: int(progressFraction * 100),
			keyMessage:  message,
		},
	})
}

// RecordOutput stores an output chunk for taskID, as it's produced rather
// than only at terminal completion.
func (h *Handler) RecordOutput(ctx context.Context, taskID, output string) {
	h.process(ctx, &Message{
		Type:      MessageTypeOutput,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{keyMessage: output},
	})
}

func (h *Handler) process(ctx context.Context, msg *Message) {
	if err := h.store.Store(ctx, msg); err != nil {
		h.logger.Error("failed to store progress message", zap.Error(err), zap.String("task_id", msg.TaskID))
		return
	}

	h.mu.Lock()
	buf, exists := h.buffers[msg.TaskID]
	if !exists {
		buf = &messageBuffer{messages: make([]*Message, 0, 100), maxSize: 100}
		h.buffers[msg.TaskID] = buf
	}
	buf.messages = append(buf.messages, msg)
	if len(buf.messages) > buf.maxSize {
		buf.messages = buf.messages[1:]
	}
	h.mu.Unlock()

	h.listenerMu.RLock()
	listeners := h.listeners[msg.TaskID]
	h.listenerMu.RUnlock()
	for _, l := range listeners {
		l(msg)
	}
}

// AddListener registers a callback invoked for every new message recorded
// against taskID. Returns a function that removes it.
func (h *Handler) AddListener(taskID string, l Listener) func() {
	h.listenerMu.Lock()
	h.listeners[taskID] = append(h.listeners[taskID], l)
	h.listenerMu.Unlock()
	return func() { h.removeListener(taskID, l) }
}

func (h *Handler) removeListener(taskID string, target Listener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	listeners := h.listeners[taskID]
	for i := range listeners {
		if &listeners[i] == &target {
			h.listeners[taskID] = append(listeners[:i], listeners[i+1:]...)
			return
		}
	}
}

// GetProgress returns a task's latest recorded progress, or nil if none has
// been recorded yet.
func (h *Handler) GetProgress(taskID string) (*ProgressData, error) {
	return h.store.GetLatestProgress(context.Background(), taskID)
}

// GetRecentMessages returns up to limit of the most recent buffered
// messages for a task.
func (h *Handler) GetRecentMessages(taskID string, limit int) []*Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf, exists := h.buffers[taskID]
	if !exists {
		return nil
	}
	messages := buf.messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	result := make([]*Message, len(messages))
	copy(result, messages)
	return result
}

// CleanupTask drops a completed task's buffer and listeners.
func (h *Handler) CleanupTask(taskID string) {
	h.mu.Lock()
	delete(h.buffers, taskID)
	h.mu.Unlock()

	h.listenerMu.Lock()
	delete(h.listeners, taskID)
	h.listenerMu.Unlock()
}
