// Package streaming fans task progress out to WebSocket-connected dashboard
// clients, subscribed per task ID. Adapted from the teacher's ACP message
// streaming hub (apps/backend/internal/orchestrator/streaming): same
// register/unregister/broadcast channel shape, generalized from
// protocol.Message to this system's own progress.Message since this spec
// has no ACP concept of its own.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/progress"
)

// Client is one connected WebSocket dashboard viewer.
type Client struct {
	ID      string
	conn    *websocket.Conn
	taskIDs map[string]bool
	send    chan []byte
	hub     *Hub
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewClient wraps an upgraded WebSocket connection bound to a hub.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		taskIDs: make(map[string]bool),
		send:    make(chan []byte, 256),
		hub:     hub,
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

// Hub tracks every connected dashboard client and routes broadcasts by task.
type Hub struct {
	clients     map[*Client]bool
	taskClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *progress.Message

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub builds an empty, unstarted dashboard hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		taskClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *progress.Message, 256),
		logger:      log.WithFields(zap.String("component", "dashboard_hub")),
	}
}

// Run processes register/unregister/broadcast events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("dashboard hub started")
	defer h.logger.Info("dashboard hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.taskClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for taskID := range client.taskIDs {
					h.removeFromTaskLocked(taskID, client)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *progress.Message) {
	h.mu.RLock()
	targets := h.taskClients[msg.TaskID]
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal progress message", zap.Error(err))
		return
	}

	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.mu.Lock()
			close(client.send)
			delete(h.clients, client)
			for taskID := range client.taskIDs {
				h.removeFromTaskLocked(taskID, client)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeFromTaskLocked(taskID string, client *Client) {
	if clients, ok := h.taskClients[taskID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.taskClients, taskID)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Broadcast fans msg out to every client subscribed to msg.TaskID. Its
// signature matches progress.Listener; cmd/driver feeds it from event-bus
// subscriptions. Non-blocking: when the buffered channel is full (as it
// becomes once the hub has stopped), msg is dropped and a warning logged.
func (h *Hub) Broadcast(msg *progress.Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("dashboard broadcast buffer full, dropping message", zap.String("task_id", msg.TaskID))
	}
}

// SubscribeClient subscribes a client to a task's progress stream.
func (h *Hub) SubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.taskClients[taskID]; !ok {
		h.taskClients[taskID] = make(map[*Client]bool)
	}
	h.taskClients[taskID][client] = true
}

// UnsubscribeClient removes a client from a task's progress stream.
func (h *Hub) UnsubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromTaskLocked(taskID, client)
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TaskSubscriberCount returns how many clients are watching a given task.
func (h *Hub) TaskSubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.taskClients[taskID])
}
