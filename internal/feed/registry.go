package feed

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the adapter for every configured DEX, keyed by dex id.
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for dex, or an error if none is registered.
func (r *Registry) Get(dex string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[dex]
	if !ok {
		return nil, fmt.Errorf("feed: no adapter registered for dex %q", dex)
	}
	return a, nil
}

// List returns all registered dex ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove drops the adapter for dex. It reports whether one was registered.
func (r *Registry) Remove(dex string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.adapters[dex]
	delete(r.adapters, dex)
	return ok
}
