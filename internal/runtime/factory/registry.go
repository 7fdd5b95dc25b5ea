// Package factory maps implementation references to handler constructors. A
// Registry is the default chain.Instantiator used by transport and global
// chain builds.
package factory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// Factory builds a fresh handler from its descriptor parameters.
type Factory func(p params.Params) (phase.Handler, error)

// Registry maintains a mapping of implementation references to factories.
// Handler packages register themselves with Register, usually from init.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry is the process-wide factory registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for implementation.
func (r *Registry) Register(implementation string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[implementation] = f
}

// RegisterHandler registers a factory that always returns h. Useful for
// stateless handlers shared across chains.
func (r *Registry) RegisterHandler(implementation string, h phase.Handler) {
	r.Register(implementation, func(params.Params) (phase.Handler, error) {
		return h, nil
	})
}

// Instantiate builds a handler with the factory registered for implementation.
func (r *Registry) Instantiate(implementation string, p params.Params) (phase.Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[implementation]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown implementation: %q (registered: %v)", implementation, r.Names())
	}
	if f == nil {
		return nil, fmt.Errorf("implementation %q has a nil factory", implementation)
	}
	return f(p)
}

// Names returns the registered implementation references, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether implementation is registered.
func (r *Registry) Has(implementation string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[implementation]
	return ok
}

// Register adds a factory to the default registry.
func Register(implementation string, f Factory) {
	DefaultRegistry.Register(implementation, f)
}

// Instantiate builds a handler using the default registry.
func Instantiate(implementation string, p params.Params) (phase.Handler, error) {
	return DefaultRegistry.Instantiate(implementation, p)
}
