package wslogs

import (
	"sync"
	"sync/atomic"
)

// Transport fans log messages out to registered channels
type Transport struct {
	clients map[string]chan Message
	mu      sync.RWMutex
	drops   atomic.Int64
}

// NewTransport creates a new WebSocket log transport
func NewTransport() *Transport {
	return &Transport{
		clients: make(map[string]chan Message),
	}
}

// RegisterClient registers a channel to receive messages.
// The channel should be buffered; Send never waits on it.
func (t *Transport) RegisterClient(id string, ch chan Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[id] = ch
}

// UnregisterClient removes a channel
func (t *Transport) UnregisterClient(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// Send delivers msg to every registered channel. A full channel misses it.
func (t *Transport) Send(msg Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.clients {
		select {
		case ch <- msg:
		default:
			t.drops.Add(1)
		}
	}
}

// ClientCount returns the number of registered channels
func (t *Transport) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Drops returns how many messages were dropped because a channel was full
func (t *Transport) Drops() int64 {
	return t.drops.Load()
}
