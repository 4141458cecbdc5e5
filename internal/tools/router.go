package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Result is the outcome of one tool invocation. On success Payload holds the
// JSON-encoded handler result. On failure Err carries the user-visible
// message; AvailableTools is populated for unknown-tool failures.
type Result struct {
	OK             bool
	ToolName       string
	Payload        string
	Err            string
	AvailableTools []string
}

// Router validates and executes tool invocations against a Registry.
type Router struct {
	registry *Registry
	logger   log.Logger
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Router{registry: registry, logger: logger.With("component", "tools")}
}

// Invoke runs the named tool with params. Failures are reported twice: in
// the Result for the model or wire envelope, and as a sentinel-classified
// error (ErrUnknownTool, ErrValidation, ErrToolHandler) for the caller's
// status mapping. A handler failure or panic never propagates raw.
func (r *Router) Invoke(ctx context.Context, name string, params map[string]any) (*Result, error) {
	r.logger.Info("tool invocation", "tool", name)

	tool, ok := r.registry.lookup(name)
	if !ok {
		return &Result{
			ToolName:       name,
			Err:            fmt.Sprintf("unknown tool %q", name),
			AvailableTools: r.registry.Names(),
		}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := r.validate(tool, params); err != nil {
		return &Result{ToolName: name, Err: err.Error()}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	payload, err := r.execute(ctx, tool, params)
	if err != nil {
		r.logger.Warn("tool handler failed", "tool", name, "error", err)
		return &Result{ToolName: name, Err: err.Error()}, fmt.Errorf("%w: %v", ErrToolHandler, err)
	}
	return &Result{OK: true, ToolName: name, Payload: payload}, nil
}

// validate checks params against the tool's schema. Required fields are
// checked first so their absence reports as "missing field: X" rather than
// a generic schema violation.
func (r *Router) validate(tool *registered, params map[string]any) error {
	for _, field := range tool.InputSchema.Required {
		if _, ok := params[field]; !ok {
			return fmt.Errorf("missing field: %s", field)
		}
	}
	if err := tool.resolved.Validate(params); err != nil {
		return err
	}
	return nil
}

// execute runs the handler with panic containment and encodes its result.
func (r *Router) execute(ctx context.Context, tool *registered, params map[string]any) (payload string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", tool.Name, rec)
		}
	}()

	out, err := tool.Handler(ctx, params)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding %s result: %w", tool.Name, err)
	}
	return string(encoded), nil
}
