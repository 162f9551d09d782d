package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/workspace-agents/orchestrator/core/protocol"
)

// Registry manages the set of capabilities the router can dispatch to.
// Thread-safe for concurrent access; capabilities can be added or removed
// without touching the router's control flow.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[protocol.CapabilityID]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[protocol.CapabilityID]Capability),
	}
}

// Register adds a capability under its own ID.
func (r *Registry) Register(c Capability) error {
	id := c.ID()
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	r.capabilities[id] = c
	return nil
}

// Get retrieves a capability by ID.
func (r *Registry) Get(id protocol.CapabilityID) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.capabilities[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Has reports whether a capability is registered under id.
func (r *Registry) Has(id protocol.CapabilityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.capabilities[id]
	return exists
}

// List returns the registered capability IDs, sorted.
func (r *Registry) List() []protocol.CapabilityID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]protocol.CapabilityID, 0, len(r.capabilities))
	for id := range r.capabilities {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Unregister removes a capability from the registry.
func (r *Registry) Unregister(id protocol.CapabilityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(r.capabilities, id)
	return nil
}
