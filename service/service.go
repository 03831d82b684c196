// Package service exposes registered graphs as an execution service:
// compile with caching, invoke, stream, and thread state management.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphserve-ai/graphserve/graph"
	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/registry"
	"github.com/graphserve-ai/graphserve/store"
)

// Options configures a GraphService.
type Options struct {
	// Checkpoints is attached to every compiled graph. Optional;
	// without it thread state operations fail.
	Checkpoints store.CheckpointStore

	// Logger defaults to the package default logger.
	Logger log.Logger
}

// GraphService executes graphs from a registry. Compiled graphs are
// cached per name; re-registering a name drops its cache entry.
type GraphService struct {
	registry    *registry.Registry
	checkpoints store.CheckpointStore
	logger      log.Logger

	mu    sync.Mutex
	cache map[string]*graph.Runnable
}

// New creates a GraphService over the given registry.
func New(reg *registry.Registry, opts Options) *GraphService {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	s := &GraphService{
		registry:    reg,
		checkpoints: opts.Checkpoints,
		logger:      logger,
		cache:       make(map[string]*graph.Runnable),
	}

	reg.OnReplace(func(name string) {
		s.mu.Lock()
		delete(s.cache, name)
		s.mu.Unlock()
	})

	return s
}

// GetCompiledGraph returns the compiled graph for the given name,
// compiling and caching it on first use.
func (s *GraphService) GetCompiledGraph(ctx context.Context, name string) (*graph.Runnable, error) {
	s.mu.Lock()
	if runnable, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return runnable, nil
	}
	s.mu.Unlock()

	entry, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	runnable, err := entry.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph %s: %w", name, err)
	}
	if s.checkpoints != nil {
		runnable.SetCheckpointStore(s.checkpoints)
	}

	s.mu.Lock()
	// Another caller may have compiled concurrently; keep the first.
	if cached, ok := s.cache[name]; ok {
		runnable = cached
	} else {
		s.cache[name] = runnable
	}
	s.mu.Unlock()

	return runnable, nil
}

// Invoke runs the named graph to completion or interrupt.
func (s *GraphService) Invoke(ctx context.Context, name string, input map[string]any, config *graph.Config) (map[string]any, error) {
	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return runnable.InvokeWithConfig(ctx, input, config)
}

// Stream runs the named graph and returns its event channel. The
// channel is closed when execution finishes or ctx is cancelled.
func (s *GraphService) Stream(ctx context.Context, name string, input map[string]any, config *graph.Config) (<-chan graph.StreamEvent, error) {
	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return runnable.Stream(ctx, input, config), nil
}

// GetState returns the latest snapshot addressed by the config.
func (s *GraphService) GetState(ctx context.Context, name string, config *graph.Config) (*graph.StateSnapshot, error) {
	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return runnable.GetState(ctx, config)
}

// GetStateHistory returns the snapshot history of the thread addressed
// by the config, most recent first.
func (s *GraphService) GetStateHistory(ctx context.Context, name string, config *graph.Config) ([]*graph.StateSnapshot, error) {
	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return runnable.GetStateHistory(ctx, config)
}

// UpdateState merges values into the thread state as if written by
// asNode and returns the config of the new checkpoint.
func (s *GraphService) UpdateState(ctx context.Context, name string, config *graph.Config, values map[string]any, asNode string) (*graph.Config, error) {
	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return runnable.UpdateState(ctx, config, values, asNode)
}

// Names returns the registered graph names.
func (s *GraphService) Names() []string {
	return s.registry.Names()
}

// GraphSchema describes a registered graph: its declared input and
// config schemas plus a structural preview.
type GraphSchema struct {
	Name         string                 `json:"name"`
	InputSchema  []registry.FieldSchema `json:"input_schema,omitempty"`
	ConfigSchema []registry.FieldSchema `json:"config_schema,omitempty"`
	Graph        graph.Preview          `json:"graph"`
}

// GetGraphSchema returns the schema of a single registered graph.
func (s *GraphService) GetGraphSchema(ctx context.Context, name string) (*GraphSchema, error) {
	entry, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	runnable, err := s.GetCompiledGraph(ctx, name)
	if err != nil {
		return nil, err
	}

	return &GraphSchema{
		Name:         entry.Name,
		InputSchema:  entry.InputSchema,
		ConfigSchema: entry.ConfigSchema,
		Graph:        runnable.Graph().Preview(),
	}, nil
}

// GetAllGraphSchemas returns the schemas of all registered graphs.
// Graphs that fail to compile are logged and skipped.
func (s *GraphService) GetAllGraphSchemas(ctx context.Context) []*GraphSchema {
	var schemas []*GraphSchema
	for _, name := range s.registry.Names() {
		schema, err := s.GetGraphSchema(ctx, name)
		if err != nil {
			s.logger.Warn("skipping graph %s in schema listing: %v", name, err)
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas
}
