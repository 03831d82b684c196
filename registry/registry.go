// Package registry maps graph names to compile functions and their
// declared schemas. A Registry is an explicit object handed to the
// services that need it; there is no process-global registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/graphserve-ai/graphserve/graph"
)

// ErrNotFound is returned when a graph name is not registered.
var ErrNotFound = errors.New("graph not registered")

// Option is a single selectable value in a field schema.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// GroupedOption groups options under a label.
type GroupedOption struct {
	Label   string   `json:"label"`
	Options []Option `json:"options"`
}

// ObjectSchema describes the fields of a nested object value.
type ObjectSchema struct {
	Fields []FieldSchema `json:"fields"`
}

// FieldSchema declares one field of a graph's input or config surface.
type FieldSchema struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`

	// Options and GroupedOptions enumerate allowed values for select
	// style fields.
	Options        []Option        `json:"options,omitempty"`
	GroupedOptions []GroupedOption `json:"grouped_options,omitempty"`

	// ObjectSchema describes nested fields when Type is "object".
	ObjectSchema *ObjectSchema `json:"object_schema,omitempty"`
}

// CompileFunc builds a runnable graph. It is called lazily when a
// compiled graph is first requested.
type CompileFunc func(ctx context.Context) (*graph.Runnable, error)

// Entry is a registered graph: its name, declared schemas, default
// config and compile function.
type Entry struct {
	Name          string
	InputSchema   []FieldSchema
	ConfigSchema  []FieldSchema
	DefaultConfig *graph.Config
	Compile       CompileFunc
}

// Registry holds graph entries by name. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	// onReplace is notified when a name is re-registered, so caches
	// keyed by name can drop stale compiled graphs.
	onReplace []func(name string)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds an entry, overwriting any previous entry with the same
// name. Replacing an entry notifies registered invalidation hooks.
func (r *Registry) Register(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry must not be nil")
	}
	if entry.Name == "" {
		return fmt.Errorf("entry name must not be empty")
	}
	if entry.Compile == nil {
		return fmt.Errorf("entry %s has no compile function", entry.Name)
	}

	r.mu.Lock()
	_, replaced := r.entries[entry.Name]
	r.entries[entry.Name] = entry
	hooks := r.onReplace
	r.mu.Unlock()

	if replaced {
		for _, hook := range hooks {
			hook(entry.Name)
		}
	}
	return nil
}

// Get returns the entry for the given name.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return entry, nil
}

// Names returns the registered graph names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnReplace registers a hook invoked with the graph name whenever an
// existing entry is overwritten.
func (r *Registry) OnReplace(hook func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReplace = append(r.onReplace, hook)
}
