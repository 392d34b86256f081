package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter talks to the Anthropic Messages API with native tool use.
type AnthropicAdapter struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature *float64
}

// NewAnthropicAdapter creates an adapter. If apiKey is empty the SDK reads
// ANTHROPIC_API_KEY from the environment.
func NewAnthropicAdapter(apiKey string, opts ...AdapterOption) *AnthropicAdapter {
	cfg := newAdapterConfig(apiKey, opts)

	// Retries are owned by RetryMiddleware.
	reqOpts := []aoption.RequestOption{aoption.WithMaxRetries(0)}
	if key := strings.TrimSpace(cfg.apiKey); key != "" {
		reqOpts = append(reqOpts, aoption.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.baseURL); base != "" {
		reqOpts = append(reqOpts, aoption.WithBaseURL(base))
	}
	reqOpts = append(reqOpts, cfg.requestOpts...)

	model := cfg.model
	if model == "" {
		model = DefaultModel("anthropic")
	}

	return &AnthropicAdapter{
		client:      anthropic.NewClient(reqOpts...),
		model:       ResolveModel(model),
		maxTokens:   int64(cfg.maxTokens),
		temperature: cfg.temperature,
	}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends one non-streaming Messages request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	model := a.model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
		Tools:     buildAnthropicTools(req.Tools),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		// The system prompt never changes within a session, so mark it cacheable.
		params.System = []anthropic.TextBlockParam{{
			Text:         system,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}
	temperature := a.temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}
	if temperature != nil {
		params.Temperature = anthropic.Float(*temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}

	var parts []ContentPart
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if variant.Text != "" {
				parts = append(parts, TextPart(variant.Text))
			}
		case anthropic.ToolUseBlock:
			args := json.RawMessage(variant.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			parts = append(parts, ToolCallPart(variant.ID, variant.Name, args))
		}
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Provider:   a.Name(),
		Message:    Message{Role: RoleAssistant, Content: parts},
		StopReason: mapAnthropicStopReason(string(msg.StopReason)),
		RawStop:    string(msg.StopReason),
		Usage:      Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}, nil
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				if strings.TrimSpace(part.Text) != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case ContentToolCall:
				if part.ToolCall == nil {
					continue
				}
				var input any = json.RawMessage("{}")
				if len(part.ToolCall.Arguments) > 0 && json.Valid(part.ToolCall.Arguments) {
					input = part.ToolCall.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case ContentToolResult:
				if part.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ToolCallID, part.ToolResult.Content, part.ToolResult.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: def.Parameters["properties"],
				Required:   requiredList(def.Parameters["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func requiredList(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mapAnthropicStopReason(reason string) StopReason {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "tool_use":
		return StopToolRequested
	case "end_turn", "stop_sequence":
		return StopNaturalEnd
	default:
		return StopOther
	}
}

func (a *AnthropicAdapter) translateError(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			if secs, perr := strconv.ParseFloat(apiErr.Response.Header.Get("retry-after"), 64); perr == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		e := ErrorFromStatusCode(apiErr.StatusCode, a.Name(), apiErr.Error(), retryAfter)
		e.Cause = err
		return e
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return newError(KindTimeout, a.Name(), "request timed out", ctxErr)
		}
		return newError(KindAborted, a.Name(), "request cancelled", ctxErr)
	}
	return newError(KindNetwork, a.Name(), "request failed", err)
}
