package websocket

import (
	"sync"

	"go-chat-hub/pkg/chat"
)

// Registry maps each authenticated subject to its live connection.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register stores c under its subject and returns the client it replaced,
// if any.
func (r *Registry) Register(c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.clients[c.SubjectID()]
	r.clients[c.SubjectID()] = c
	if prev == c {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(subjectID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[subjectID]
	return c, ok
}

func (r *Registry) Remove(subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, subjectID)
}

// RemoveClient deletes the entry only if it still points at c.
func (r *Registry) RemoveClient(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[c.SubjectID()] != c {
		return false
	}
	delete(r.clients, c.SubjectID())
	return true
}

// SendTo is best effort: false when the subject has no live connection or
// its queue is full.
func (r *Registry) SendTo(subjectID string, env chat.Envelope) bool {
	c, ok := r.Lookup(subjectID)
	if !ok {
		return false
	}
	return c.Send(env)
}

func (r *Registry) sendFrame(subjectID string, frame []byte) bool {
	c, ok := r.Lookup(subjectID)
	if !ok {
		return false
	}
	return c.Enqueue(frame)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
