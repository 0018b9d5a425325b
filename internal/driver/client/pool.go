package client

import (
	"sync"
	"time"

	"github.com/claudecluster/core/internal/common/logger"
)

// Pool caches one WorkerClient per worker endpoint. HTTP clients are cheap
// but hold a connection pool worth reusing across dispatch/poll/cancel
// calls against the same worker rather than rebuilding one per call.
type Pool struct {
	mu             sync.RWMutex
	clients        map[string]*WorkerClient
	requestTimeout time.Duration
	logger         *logger.Logger
}

// NewPool creates an empty client pool. requestTimeout bounds every call
// made through a client this pool hands out.
func NewPool(requestTimeout time.Duration, log *logger.Logger) *Pool {
	return &Pool{
		clients:        make(map[string]*WorkerClient),
		requestTimeout: requestTimeout,
		logger:         log,
	}
}

// Get returns the cached client for endpoint, building one on first use.
func (p *Pool) Get(endpoint string) *WorkerClient {
	p.mu.RLock()
	c, ok := p.clients[endpoint]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[endpoint]; ok {
		return c
	}
	c = NewWorkerClient(endpoint, p.requestTimeout, p.logger)
	p.clients[endpoint] = c
	return c
}

// Drop evicts a cached client, used when a worker is unregistered.
func (p *Pool) Drop(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, endpoint)
}
