package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/martinemde/codeagent/unifiedllm"
)

// ToolHandler executes a tool with validated arguments.
type ToolHandler func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean", "array", "object"
	Description string
	Required    bool
	Enum        []string
	Items       map[string]any // JSON Schema for array elements
}

// ToolDefinition describes a tool for the model. It does not change after
// registration.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []Parameter
	// Mutating marks tools with side effects. Only batches made entirely of
	// non-mutating tools may run concurrently.
	Mutating bool
}

// JSONSchema renders the parameter list as a JSON Schema object.
func (d ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Schema converts the definition to the provider-facing form.
func (d ToolDefinition) Schema() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.JSONSchema(),
	}
}

// RegisteredTool pairs a tool definition with its handler.
type RegisteredTool struct {
	Definition ToolDefinition
	Handler    ToolHandler
}

// ToolRegistry maps tool names to tools and remembers registration order.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds a tool. Names are unique.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	if tool.Definition.Name == "" || tool.Handler == nil {
		return fmt.Errorf("register tool: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Definition.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Definition.Name)
	}
	r.tools[tool.Definition.Name] = &tool
	r.order = append(r.order, tool.Definition.Name)
	return nil
}

// MustRegister is Register for static tool tables.
func (r *ToolRegistry) MustRegister(tool RegisteredTool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a registered tool by name.
func (r *ToolRegistry) Get(name string) (*RegisteredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Has reports whether a tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns definitions in registration order, keeping those for which
// filter returns true. A nil filter keeps everything.
func (r *ToolRegistry) List(filter func(ToolDefinition) bool) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition
		if filter == nil || filter(def) {
			defs = append(defs, def)
		}
	}
	return defs
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// View returns a new registry holding only the named tools, in this
// registry's order. Unknown names are an error.
func (r *ToolRegistry) View(names []string) (*ToolRegistry, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if !r.Has(n) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, n)
		}
		want[n] = true
	}
	return r.filtered(func(name string) bool { return want[name] }), nil
}

// Without returns a new registry holding every tool except the named ones.
func (r *ToolRegistry) Without(names ...string) *ToolRegistry {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	return r.filtered(func(name string) bool { return !drop[name] })
}

// replace swaps in tool for the registered tool of the same name, keeping
// its position.
func (r *ToolRegistry) replace(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Definition.Name]; ok {
		r.tools[tool.Definition.Name] = &tool
	}
}

func (r *ToolRegistry) filtered(keep func(string) bool) *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view := NewToolRegistry()
	for _, name := range r.order {
		if keep(name) {
			tool := *r.tools[name]
			view.tools[name] = &tool
			view.order = append(view.order, name)
		}
	}
	return view
}

// Schemas returns provider-facing definitions in registration order.
func (r *ToolRegistry) Schemas() []unifiedllm.ToolDefinition {
	defs := r.List(nil)
	out := make([]unifiedllm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.Schema()
	}
	return out
}

// ReadOnly is a List filter keeping non-mutating tools.
func ReadOnly(d ToolDefinition) bool { return !d.Mutating }

// Arguments holds decoded tool arguments.
type Arguments map[string]any

// String returns a string argument.
func (a Arguments) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Int returns an integer argument. JSON numbers must be integral.
func (a Arguments) Int(key string) (int, bool) {
	switch n := a[key].(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// Bool returns a boolean argument.
func (a Arguments) Bool(key string) (bool, bool) {
	b, ok := a[key].(bool)
	return b, ok
}

// Decode re-marshals a single argument into v.
func (a Arguments) Decode(key string, v any) error {
	raw, err := json.Marshal(a[key])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
