package bridair

import (
	"fmt"
	"slices"
	"sync"
)

var (
	ErrUnknownEntity = fmt.Errorf("entity is not registered")
	ErrEntityExists  = fmt.Errorf("entity already registered")
)

// Registry of entities that can be targeted by set_mode commands.
// Entries are added when a purifier is discovered and removed with it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ModeSensor
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*ModeSensor)}
}

func (r *Registry) Add(entityID string, m *ModeSensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entityID]; exists {
		return fmt.Errorf("%w: %s", ErrEntityExists, entityID)
	}
	r.entries[entityID] = m
	return nil
}

// Removes an entity, returning whether it was registered
func (r *Registry) Remove(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[entityID]
	delete(r.entries, entityID)
	return exists
}

// Looks up a mode entity. Unknown ids return ErrUnknownEntity, so stale
// references show up instead of being silently ignored.
func (r *Registry) Lookup(entityID string) (*ModeSensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.entries[entityID]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entityID)
	}
	return m, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Returns the registered entity ids, sorted
func (r *Registry) EntityIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
