package shipping

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages provider factories by provider type and the provider
// instance owned by each option.
type Registry struct {
	factories map[string]ProviderFactory
	instances map[string]RateProvider
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		instances: make(map[string]RateProvider),
	}
}

// Register adds a provider factory for a provider type. Registering the same
// type again replaces the factory and drops instances built from it.
func (r *Registry) Register(providerType string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
	r.instances = make(map[string]RateProvider)
}

// Provider returns the provider owned by the option, building it on first use.
func (r *Registry) Provider(option OptionConfig) (RateProvider, error) {
	key := instanceKey(option)

	r.mu.RLock()
	p, ok := r.instances[key]
	factory, known := r.factories[option.ProviderType]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, option.ProviderType)
	}

	p, err := factory(option)
	if err != nil {
		return nil, fmt.Errorf("building %s provider for option %s: %w", option.ProviderType, option.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.instances[key]; ok {
		return existing, nil
	}
	r.instances[key] = p
	return p, nil
}

// Types returns the registered provider types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered provider types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

func instanceKey(option OptionConfig) string {
	return option.ProviderType + "/" + option.ID
}
