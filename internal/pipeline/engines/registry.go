package engines

import (
	"fmt"
	"sort"
	"sync"

	"blurcast/internal/pipeline"
)

// Registry manages available segmentation engines
type Registry struct {
	engines map[string]pipeline.SegmentationEngine
	mu      sync.RWMutex
}

// NewRegistry creates a new engine registry
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]pipeline.SegmentationEngine),
	}
}

// Register adds an engine to the registry
func (r *Registry) Register(engine pipeline.SegmentationEngine) error {
	if engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}

	name := engine.Name()
	if name == "" {
		return fmt.Errorf("engine name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[name]; exists {
		return fmt.Errorf("engine %q already registered", name)
	}

	r.engines[name] = engine
	return nil
}

// Get returns an engine by name
func (r *Registry) Get(name string) (pipeline.SegmentationEngine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names returns the sorted names of all registered engines
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes an engine from the registry without closing it
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[name]; !exists {
		return fmt.Errorf("engine %q not found", name)
	}

	delete(r.engines, name)
	return nil
}

// Close releases all engine resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, e := range r.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing engine %q: %w", name, err)
		}
		delete(r.engines, name)
	}
	return firstErr
}

// Ensure Registry implements EngineRegistry
var _ pipeline.EngineRegistry = (*Registry)(nil)
