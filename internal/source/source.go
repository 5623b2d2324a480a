package source

import (
	"fmt"

	"dailybrief/internal/config"
	"dailybrief/internal/ports"
)

// Factory builds a connector for one configured source.
type Factory func(cfg config.SourceConfig) (ports.Connector, error)

// Registry maps connector kinds to their factories. Kinds are resolved at
// registration time; an unknown kind is a configuration error.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for a connector kind.
func (r *Registry) Register(kind string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = factory
}

// Build resolves the source's kind and constructs its connector.
func (r *Registry) Build(cfg config.SourceConfig) (ports.Connector, error) {
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("connector kind %q is not registered", cfg.Kind)
	}
	return factory(cfg)
}
