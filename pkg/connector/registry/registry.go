// Package registry maps sink type names from the configuration to the
// factories that build them. Sink packages register themselves from init().
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
)

// Dependencies are the shared collaborators handed to every sink factory.
type Dependencies struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// SinkFactory builds a sink from the sink section of the configuration.
type SinkFactory func(cfg config.SinkConfig, deps Dependencies) (core.Sink, error)

// Registry manages sink registration and instantiation
type Registry struct {
	sinks map[string]SinkFactory
	mu    sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new sink registry
func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[string]SinkFactory),
	}
}

// RegisterSink registers a sink factory
func (r *Registry) RegisterSink(name string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %s already registered", name))
	}

	r.sinks[name] = factory
	return nil
}

// CreateSink creates a sink instance
func (r *Registry) CreateSink(name string, cfg config.SinkConfig, deps Dependencies) (core.Sink, error) {
	r.mu.RLock()
	factory, exists := r.sinks[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %s not found", name)).
			WithDetail("available", r.ListSinks())
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	sink, err := factory(cfg, deps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create sink %s", name))
	}

	deps.Logger.Info("sink created", zap.String("sink", name))
	return sink, nil
}

// ListSinks returns the registered sink names, sorted
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	return sinks
}

// HasSink checks if a sink is registered
func (r *Registry) HasSink(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sinks[name]
	return exists
}

// Global registry functions

// RegisterSink registers a sink in the global registry
func RegisterSink(name string, factory SinkFactory) error {
	return globalRegistry.RegisterSink(name, factory)
}

// CreateSink creates a sink from the global registry
func CreateSink(name string, cfg config.SinkConfig, deps Dependencies) (core.Sink, error) {
	return globalRegistry.CreateSink(name, cfg, deps)
}

// ListSinks returns registered sinks from the global registry
func ListSinks() []string {
	return globalRegistry.ListSinks()
}

// HasSink checks if a sink is registered in the global registry
func HasSink(name string) bool {
	return globalRegistry.HasSink(name)
}
