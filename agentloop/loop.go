package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/codeagent/unifiedllm"
)

// ModelClient is the model-service boundary. *unifiedllm.Client satisfies it.
type ModelClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// Config bounds one agent loop.
type Config struct {
	Model     string `json:"model"`
	Provider  string `json:"provider,omitempty"`
	MaxTokens int    `json:"max_tokens"`
	// MaxIterations caps model calls per Run. Zero means unlimited.
	MaxIterations int           `json:"max_iterations"`
	ModelTimeout  time.Duration `json:"model_timeout"`
	// ParallelTools lets a batch of non-mutating tool requests run
	// concurrently, at most MaxParallelTools at a time.
	ParallelTools    bool `json:"parallel_tools"`
	MaxParallelTools int  `json:"max_parallel_tools"`
	// LoopWindow is the number of recent tool requests checked for a
	// repeating pattern. Zero disables loop detection.
	LoopWindow int `json:"loop_window"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:        8000,
		MaxIterations:    50,
		ModelTimeout:     5 * time.Minute,
		MaxParallelTools: 4,
		LoopWindow:       DefaultLoopWindow,
	}
}

// Agent runs the tool-calling loop: one model call per iteration, every
// requested tool dispatched, results appended in request order, until the
// model stops asking for tools.
type Agent struct {
	client   ModelClient
	executor *ToolExecutor
	system   string
	config   Config
	logger   *slog.Logger
	emitter  *EventEmitter

	mu    sync.Mutex
	usage unifiedllm.Usage
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithEmitter sends loop events to e.
func WithEmitter(e *EventEmitter) AgentOption {
	return func(a *Agent) { a.emitter = e }
}

// NewAgent creates an agent. The system prompt and the executor's tool set
// stay fixed for the agent's lifetime.
func NewAgent(client ModelClient, executor *ToolExecutor, system string, cfg Config, opts ...AgentOption) *Agent {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultConfig().MaxParallelTools
	}
	a := &Agent{
		client:   client,
		executor: executor,
		system:   system,
		config:   cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the agent's configuration.
func (a *Agent) Config() Config { return a.config }

// Usage returns the tokens consumed so far.
func (a *Agent) Usage() unifiedllm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Run drives conv until the model produces a final answer and returns that
// answer's text. Model failures are returned wrapped in ErrTransportFailure;
// tool failures are fed back to the model instead.
func (a *Agent) Run(ctx context.Context, conv *Conversation) (string, error) {
	tools := a.executor.Registry().Schemas()

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if a.config.MaxIterations > 0 && iteration >= a.config.MaxIterations {
			a.emitter.Emit(EventIterationLimit, map[string]any{"iterations": iteration})
			a.logger.Warn("iteration limit reached", "iterations", iteration)
			return "", fmt.Errorf("%w: %d model calls", ErrMaxIterationsExceeded, iteration)
		}

		resp, err := a.complete(ctx, unifiedllm.Request{
			Model:     a.config.Model,
			Provider:  a.config.Provider,
			System:    a.system,
			Messages:  conv.Messages(),
			Tools:     tools,
			MaxTokens: a.config.MaxTokens,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			a.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			a.logger.Error("model call failed", "iteration", iteration, "error", err)
			return "", fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}
		a.recordUsage(resp.Usage)

		blocks, requests := responseBlocks(resp)
		if text := resp.Text(); text != "" {
			a.emitter.Emit(EventAssistantText, map[string]any{"text": text})
		}

		if resp.StopReason != unifiedllm.StopToolRequested || len(requests) == 0 {
			final := NewAssistantTurn(textOnly(blocks))
			if err := conv.Append(final); err != nil {
				return "", err
			}
			a.logger.Debug("loop finished", "iterations", iteration+1, "stop", resp.RawStop)
			return final.Text(), nil
		}

		if err := conv.Append(NewAssistantTurn(blocks)); err != nil {
			return "", err
		}
		results := a.dispatch(ctx, requests)
		var notes []string
		if DetectLoop(conv.Turns(), a.config.LoopWindow) {
			a.emitter.Emit(EventLoopDetected, map[string]any{"window": a.config.LoopWindow})
			a.logger.Warn("tool loop detected", "window", a.config.LoopWindow)
			notes = append(notes, fmt.Sprintf(loopWarning, a.config.LoopWindow))
		}
		if err := conv.Append(NewToolResultsTurn(results, notes...)); err != nil {
			return "", err
		}
	}
}

func (a *Agent) complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	if a.config.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.ModelTimeout)
		defer cancel()
	}
	a.logger.Debug("model call", "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))
	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response from model")
	}
	return resp, nil
}

func (a *Agent) recordUsage(u unifiedllm.Usage) {
	a.mu.Lock()
	a.usage = a.usage.Add(u)
	a.mu.Unlock()
}

// dispatch executes one batch of requests. Results are placed by request
// index, so their order never depends on completion order.
func (a *Agent) dispatch(ctx context.Context, requests []ToolRequest) []ToolResult {
	results := make([]ToolResult, len(requests))
	if a.config.ParallelTools && len(requests) > 1 && a.allReadOnly(requests) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.config.MaxParallelTools)
		for i, req := range requests {
			g.Go(func() error {
				results[i] = a.dispatchOne(gctx, req)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}
	for i, req := range requests {
		results[i] = a.dispatchOne(ctx, req)
	}
	return results
}

func (a *Agent) allReadOnly(requests []ToolRequest) bool {
	reg := a.executor.Registry()
	for _, req := range requests {
		tool, err := reg.Get(req.Name)
		if err != nil || tool.Definition.Mutating {
			return false
		}
	}
	return true
}

func (a *Agent) dispatchOne(ctx context.Context, req ToolRequest) ToolResult {
	a.emitter.Emit(EventToolCallStart, map[string]any{
		"tool_name": req.Name,
		"call_id":   req.ID,
		"arguments": string(req.Arguments),
	})
	res := a.executor.Dispatch(ctx, req)
	a.emitter.Emit(EventToolCallEnd, map[string]any{
		"tool_name": req.Name,
		"call_id":   req.ID,
		"output":    res.Output,
		"is_error":  res.IsError,
		"truncated": res.Truncated,
	})
	return res
}

// responseBlocks converts the response message into turn content, giving
// every tool request a usable ID and JSON arguments.
func responseBlocks(resp *unifiedllm.Response) ([]ContentBlock, []ToolRequest) {
	var blocks []ContentBlock
	var requests []ToolRequest
	seen := make(map[string]bool)
	for _, part := range resp.Message.Content {
		switch part.Kind {
		case unifiedllm.ContentText:
			if part.Text != "" {
				blocks = append(blocks, TextBlock(part.Text))
			}
		case unifiedllm.ContentToolCall:
			if part.ToolCall == nil {
				continue
			}
			req := ToolRequest{
				ID:        part.ToolCall.ID,
				Name:      part.ToolCall.Name,
				Arguments: part.ToolCall.Arguments,
			}
			if req.ID == "" || seen[req.ID] {
				req.ID = "call_" + uuid.NewString()
			}
			seen[req.ID] = true
			if len(req.Arguments) == 0 {
				req.Arguments = json.RawMessage("{}")
			}
			blocks = append(blocks, RequestBlock(req))
			requests = append(requests, req)
		}
	}
	return blocks, requests
}

// textOnly drops tool requests from a final turn; nothing will answer them.
func textOnly(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Kind == BlockText {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		out = append(out, TextBlock(""))
	}
	return out
}
