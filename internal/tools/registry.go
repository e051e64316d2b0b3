package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/finch-ai/finch/internal/fault"
)

// Registry is the closed set of tools available to the planner. A plan that
// names a tool outside the registry is rejected, never improvised.
//
// Registry is safe for concurrent use. Registration normally happens once at
// startup; lookups and validation happen per query.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, for stable prompt catalogues

	// schemas caches the compiled JSON Schema per tool name.
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds t to the registry. Registering a second tool under an
// already-taken name is an error. The tool's input schema is compiled here
// so malformed schemas fail at startup rather than at query time.
func (r *Registry) Register(t Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tools: register: tool has empty name")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.InputSchema))
	if err != nil {
		return fmt.Errorf("tools: register %q: compile input schema: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tools: register %q: name already taken", spec.Name)
	}
	r.tools[spec.Name] = t
	r.schemas[spec.Name] = schema
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns all registered tool specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ValidateInput checks input against the named tool's input schema. An
// unknown tool or a schema violation is reported as a validation error.
func (r *Registry) ValidateInput(name string, input map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("tools: %w: unknown tool %q", fault.ErrValidation, name)
	}

	if input == nil {
		input = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("tools: validate input for %q: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	// Report all violations in a stable order.
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	sort.Strings(msgs)
	return fmt.Errorf("tools: %w: input for %q: %s", fault.ErrValidation, name, strings.Join(msgs, "; "))
}
