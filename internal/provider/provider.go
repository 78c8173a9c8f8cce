// Package provider implements the upstream registry and the HTTP plumbing
// shared by market-data provider adapters.
package provider

import (
	"fmt"
	"slices"
	"sync"

	gateway "github.com/eugener/marketgate/internal"
)

// Registry maps provider names to gateway.Upstream instances.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]gateway.Upstream
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]gateway.Upstream)}
}

// Register adds an upstream under the given name.
// It overwrites any previously registered upstream with the same name.
func (r *Registry) Register(name string, u gateway.Upstream) {
	r.mu.Lock()
	r.providers[name] = u
	r.mu.Unlock()
}

// Get returns the upstream registered under name, or an error if not found.
func (r *Registry) Get(name string) (gateway.Upstream, error) {
	r.mu.RLock()
	u, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return u, nil
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.providers {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
