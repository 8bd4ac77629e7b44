package llm

import (
	"fmt"
	"sync"
)

// Registry resolves provider names to clients. Providers register at
// run start; lookups are read-mostly.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register binds a provider name to a client. Re-registering a name
// replaces the previous client.
func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

// Resolve returns the client for name.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("no LLM provider registered as %q", name)
	}
	return c, nil
}
