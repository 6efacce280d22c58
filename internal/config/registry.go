package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ProviderFactory builds a speech-to-speech provider from its config entry.
type ProviderFactory func(ProviderEntry) (s2s.Provider, error)

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register registers factory under name. Subsequent calls with the same
// name overwrite the previous registration.
func (r *Registry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the provider registered under entry.Name.
func (r *Registry) Create(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// Names lists the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
