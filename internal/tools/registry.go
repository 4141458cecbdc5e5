// Package tools provides the tool registry and the router that validates
// and executes tool invocations on behalf of the model.
//
// The registry is built once at process start from an explicit list of
// definitions and is immutable afterwards, which makes unsynchronized
// concurrent reads safe. Every definition carries a JSON schema; the router
// validates parameters structurally before a handler runs, so handlers can
// assume well-formed input.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrDuplicateTool indicates a name registered twice.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrUnknownTool indicates an invocation of an unregistered name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrValidation indicates parameters that fail the tool's schema.
	ErrValidation = errors.New("invalid tool parameters")

	// ErrToolHandler indicates a handler that returned an error or panicked.
	ErrToolHandler = errors.New("tool handler")
)

// Handler executes a validated tool invocation. The returned value is
// JSON-encoded into the result payload.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Definition describes one tool: its model-facing name and description, the
// JSON schema of its parameters, and the handler that serves it.
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// registered is a Definition with its schema resolved for validation.
type registered struct {
	Definition
	resolved *jsonschema.Resolved
}

// Registry is the immutable tool mapping. Build it with NewRegistry at
// startup; it is safe for concurrent reads with no synchronization.
type Registry struct {
	tools map[string]*registered
	names []string // sorted
}

// NewRegistry builds a Registry from defs. Duplicate names and unresolvable
// schemas are build-time failures, not invocation-time surprises.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registered, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.tools[def.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, def.Name)
		}
		if def.InputSchema == nil {
			return nil, fmt.Errorf("tool %q has no input schema", def.Name)
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", def.Name)
		}
		resolved, err := def.InputSchema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolving schema for %q: %w", def.Name, err)
		}
		r.tools[def.Name] = &registered{Definition: def, resolved: resolved}
		r.names = append(r.names, def.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Definitions returns all definitions in name order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// lookup returns the registered tool, if present.
func (r *Registry) lookup(name string) (*registered, bool) {
	t, ok := r.tools[name]
	return t, ok
}
