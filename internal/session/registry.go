package session

import "sync"

// Registry tracks open sessions by client id. Only one session per client
// is tracked; a newer session replaces the older entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Controller)}
}

// Add registers c and returns the session it replaced, if any.
func (r *Registry) Add(c *Controller) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[c.ClientID()]
	r.sessions[c.ClientID()] = c
	return prev
}

// Remove unregisters c unless it has already been replaced.
func (r *Registry) Remove(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[c.ClientID()] == c {
		delete(r.sessions, c.ClientID())
	}
}

// Get returns the open session of a client.
func (r *Registry) Get(clientID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[clientID]
	return c, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
