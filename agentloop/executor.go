package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// NoOutput stands in for an empty tool result.
const NoOutput = "(no output)"

// ToolOutput is the bounded result of one tool invocation.
type ToolOutput struct {
	Output    string
	Truncated bool
}

// ToolExecutor validates arguments against a tool's schema, runs the handler
// in an execution environment and bounds the result.
type ToolExecutor struct {
	registry       *ToolRegistry
	env            ExecutionEnvironment
	maxOutputBytes int
	logger         *slog.Logger
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithMaxOutputBytes sets the truncation limit for tool results.
func WithMaxOutputBytes(n int) ExecutorOption {
	return func(x *ToolExecutor) {
		if n > 0 {
			x.maxOutputBytes = n
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *ToolExecutor) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewToolExecutor creates an executor over registry and env.
func NewToolExecutor(registry *ToolRegistry, env ExecutionEnvironment, opts ...ExecutorOption) *ToolExecutor {
	x := &ToolExecutor{
		registry:       registry,
		env:            env,
		maxOutputBytes: DefaultMaxOutputBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Registry returns the registry the executor dispatches against.
func (x *ToolExecutor) Registry() *ToolRegistry { return x.registry }

// Environment returns the execution environment.
func (x *ToolExecutor) Environment() ExecutionEnvironment { return x.env }

// WithRegistry returns a copy of the executor that dispatches against reg.
func (x *ToolExecutor) WithRegistry(reg *ToolRegistry) *ToolExecutor {
	cp := *x
	cp.registry = reg
	return &cp
}

// Execute runs the named tool. Tool-level failures come back as errors
// wrapping one of the package sentinels.
func (x *ToolExecutor) Execute(ctx context.Context, name string, raw json.RawMessage) (ToolOutput, error) {
	tool, err := x.registry.Get(name)
	if err != nil {
		return ToolOutput{}, err
	}
	args, err := validateArguments(tool.Definition, raw)
	if err != nil {
		return ToolOutput{}, err
	}

	out, err := tool.Handler(ctx, args, x.env)
	if err != nil {
		return ToolOutput{}, err
	}
	if out == "" {
		out = NoOutput
	}
	bounded, truncated := TruncateOutput(out, x.maxOutputBytes)
	return ToolOutput{Output: bounded, Truncated: truncated}, nil
}

// Dispatch executes req and always produces a result paired with it. Errors
// become "Error: ..." results for the model to react to.
func (x *ToolExecutor) Dispatch(ctx context.Context, req ToolRequest) ToolResult {
	x.logger.Debug("tool call", "tool", req.Name, "id", req.ID, "args", TruncateForLog(string(req.Arguments), 200))

	out, err := x.Execute(ctx, req.Name, req.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, ErrDeniedCommand):
			x.logger.Warn("command denied", "tool", req.Name, "id", req.ID, "error", err)
		case errors.Is(err, ErrTimeout):
			x.logger.Warn("tool timed out", "tool", req.Name, "id", req.ID, "error", err)
		default:
			x.logger.Info("tool failed", "tool", req.Name, "id", req.ID, "error", err)
		}
		msg, truncated := TruncateOutput("Error: "+err.Error(), x.maxOutputBytes)
		return ToolResult{ToolRequestID: req.ID, Output: msg, IsError: true, Truncated: truncated}
	}
	if out.Truncated {
		x.logger.Debug("tool output truncated", "tool", req.Name, "id", req.ID, "limit", x.maxOutputBytes)
	}
	return ToolResult{ToolRequestID: req.ID, Output: out.Output, Truncated: out.Truncated}
}

// validateArguments checks raw against the definition's parameters before
// decoding it. Missing arguments are treated as an empty object.
func validateArguments(def ToolDefinition, raw json.RawMessage) (Arguments, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: %s: arguments are not valid JSON", ErrInvalidArguments, def.Name)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: %s: arguments must be an object", ErrInvalidArguments, def.Name)
	}

	for _, p := range def.Parameters {
		v := parsed.Get(gjson.Escape(p.Name))
		if !v.Exists() || v.Type == gjson.Null {
			if p.Required {
				return nil, fmt.Errorf("%w: %s: missing required parameter %q", ErrInvalidArguments, def.Name, p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, fmt.Errorf("%w: %s: parameter %q must be %s", ErrInvalidArguments, def.Name, p.Name, p.Type)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, v.String()) {
			return nil, fmt.Errorf("%w: %s: parameter %q must be one of %s", ErrInvalidArguments, def.Name, p.Name, strings.Join(p.Enum, ", "))
		}
	}

	decoded, ok := parsed.Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: arguments must be an object", ErrInvalidArguments, def.Name)
	}
	return Arguments(decoded), nil
}

func typeMatches(want string, v gjson.Result) bool {
	switch want {
	case "string":
		return v.Type == gjson.String
	case "integer":
		return v.Type == gjson.Number && v.Num == math.Trunc(v.Num)
	case "number":
		return v.Type == gjson.Number
	case "boolean":
		return v.Type == gjson.True || v.Type == gjson.False
	case "array":
		return v.IsArray()
	case "object":
		return v.IsObject()
	default:
		return true
	}
}
