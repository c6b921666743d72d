// Package plugin resolves processor and pipeline identifiers to factories.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/connections"
	"github.com/JakeFAU/icrawler/internal/ingest"
)

// ErrUnknownPlugin is returned for identifiers nobody registered.
var ErrUnknownPlugin = errors.New("unknown plugin")

// ErrDuplicatePlugin is returned when an identifier is registered twice.
var ErrDuplicatePlugin = errors.New("plugin already registered")

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	Conn   *connections.Manager
	Logger *zap.Logger
}

// ProcessorFactory builds a processor for one config.
type ProcessorFactory func(cfg ingest.PluginConfig, emit ingest.Emitter, deps Deps) (ingest.Processor, error)

// PipelineFactory builds a sink pipeline for one config.
type PipelineFactory func(cfg ingest.PluginConfig, deps Deps) (ingest.Pipeline, error)

// Registry maps identifiers to factories.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]ProcessorFactory
	pipelines  map[string]PipelineFactory
	deps       Deps
}

// NewRegistry returns an empty registry whose factories receive deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		processors: make(map[string]ProcessorFactory),
		pipelines:  make(map[string]PipelineFactory),
		deps:       deps,
	}
}

// RegisterProcessor adds a processor factory.
func (r *Registry) RegisterProcessor(id string, factory ProcessorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[id]; exists {
		return fmt.Errorf("%w: processor %s", ErrDuplicatePlugin, id)
	}
	r.processors[id] = factory
	return nil
}

// RegisterPipeline adds a pipeline factory.
func (r *Registry) RegisterPipeline(id string, factory PipelineFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[id]; exists {
		return fmt.Errorf("%w: pipeline %s", ErrDuplicatePlugin, id)
	}
	r.pipelines[id] = factory
	return nil
}

// NewProcessor builds the processor named by cfg.Class.
func (r *Registry) NewProcessor(cfg ingest.PluginConfig, emit ingest.Emitter) (ingest.Processor, error) {
	r.mu.RLock()
	factory, ok := r.processors[cfg.Class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: processor %s", ErrUnknownPlugin, cfg.Class)
	}
	p, err := factory(cfg, emit, r.depsFor(cfg.Class))
	if err != nil {
		return nil, fmt.Errorf("create processor %s: %w", cfg.Class, err)
	}
	return p, nil
}

// NewPipeline builds the pipeline named by cfg.Pipeline.
func (r *Registry) NewPipeline(cfg ingest.PluginConfig) (ingest.Pipeline, error) {
	r.mu.RLock()
	factory, ok := r.pipelines[cfg.Pipeline]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s", ErrUnknownPlugin, cfg.Pipeline)
	}
	p, err := factory(cfg, r.depsFor(cfg.Pipeline))
	if err != nil {
		return nil, fmt.Errorf("create pipeline %s: %w", cfg.Pipeline, err)
	}
	return p, nil
}

// Processors lists the registered processor identifiers.
func (r *Registry) Processors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.processors)
}

// Pipelines lists the registered pipeline identifiers.
func (r *Registry) Pipelines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.pipelines)
}

func (r *Registry) depsFor(id string) Deps {
	d := r.deps
	d.Logger = d.Logger.Named(id)
	return d
}

func sortedNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
