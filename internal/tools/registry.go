package tools

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// Registry is a concurrency-safe set of tool descriptors keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry returns a registry holding ds.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{tools: make(map[string]Descriptor, len(ds))}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Names must be unique and handlers non-nil.
func (r *Registry) Register(d Descriptor) error {
	name := d.Name()
	if name == "" {
		return fmt.Errorf("tools: register: empty tool name")
	}
	if d.Handler == nil {
		return fmt.Errorf("tools: register %q: nil handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tools: register %q: already registered", name)
	}
	r.tools[name] = d
	return nil
}

// Unregister removes every tool whose name has prefix and returns how many
// were removed.
func (r *Registry) Unregister(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// SetShape overrides the shape of a registered tool.
func (r *Registry) SetShape(name string, s Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	d.Shape = s
	r.tools[name] = d
	return nil
}

// Definitions returns the model-facing definitions sorted by name.
func (r *Registry) Definitions() []s2s.ToolDefinition {
	r.mu.RLock()
	defs := make([]s2s.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d.Definition)
	}
	r.mu.RUnlock()
	slices.SortFunc(defs, func(a, b s2s.ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// Suggest returns the registered tool name closest to name, for hinting the
// model after it calls a tool that does not exist.
func (r *Registry) Suggest(name string) (string, bool) {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return Closest(name, names)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
