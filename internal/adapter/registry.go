package adapter

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

// Registry maps tool names to adapters.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Builtins returns the node, go, java and rust adapters for info.
func Builtins(client *http.Client, info *platform.Info) []Tool {
	return []Tool{
		NewNode(client, info),
		NewGo(client, info),
		NewJava(client, info),
		NewRust(client, info),
	}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Lookup returns the adapter for name.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &errs.ToolNotSupportedError{Tool: name, Supported: r.Names()}
	}
	return t, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases plugin interpreters.
func (r *Registry) Close() {
	for _, t := range r.tools {
		if p, ok := t.(*Plugin); ok {
			p.Close()
		}
	}
}
