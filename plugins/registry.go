package plugins

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-botfactory/core"
)

// Registry is the static set of named plugin factories. Names are matched
// case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(factory Factory) error {
	if r == nil {
		return fmt.Errorf("plugins: registry is nil")
	}
	if factory == nil {
		return fmt.Errorf("plugins: factory is nil")
	}
	name := normalizeName(factory.Declaration().Name)
	if name == "" {
		return fmt.Errorf("plugins: plugin name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugins: plugin already registered: %s", name)
	}
	r.factories[name] = factory
	return nil
}

// Resolve returns the factory for plugin or a PluginResolutionError.
func (r *Registry) Resolve(plugin string, tenant string) (Factory, error) {
	if r == nil {
		return nil, core.PluginResolutionError(plugin, tenant)
	}
	r.mu.RLock()
	factory, ok := r.factories[normalizeName(plugin)]
	r.mu.RUnlock()
	if !ok {
		return nil, core.PluginResolutionError(plugin, tenant)
	}
	return factory, nil
}

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

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
