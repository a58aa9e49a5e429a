package provider

import (
	"sync"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// Factory builds a live adapter. Factories run on every resolution so
// adapters see the current credential state; a factory fails fast with a
// configuration error when a required credential field is absent.
type Factory func() (Provider, error)

// Registry maps logical provider names to adapter factories. It is the
// single source of truth for which providers the gateway knows about.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a provider factory under name. Re-registering a name
// replaces the previous factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve returns a live adapter for name, or an UNSUPPORTED_PROVIDER error
// enumerating the registered names.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, gwerrors.NewUnsupportedProvider(name, r.Names())
	}
	return factory()
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
