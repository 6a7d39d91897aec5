package work

import (
	"sort"
	"sync"
)

// Registry holds the registered work types.
type Registry struct {
	types map[string]*WorkType
	mu    sync.RWMutex
}

// NewRegistry creates a new work type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*WorkType)}
}

// Register adds a work type, replacing any existing one with the same ID.
func (r *Registry) Register(wt *WorkType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[wt.ID] = wt
}

// Get returns a work type by ID, or nil if not found.
func (r *Registry) Get(id string) *WorkType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[id]
}

// Remove removes a work type from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, id)
}

// Count returns the number of registered work types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// ByPriority returns all work types, highest priority first and by ID within a priority.
func (r *Registry) ByPriority() []*WorkType {
	r.mu.RLock()
	out := make([]*WorkType, 0, len(r.types))
	for _, wt := range r.types {
		out = append(out, wt)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
