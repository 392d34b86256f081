package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter for
// any provider gollm supports (openai, ollama, groq, ...). gollm returns plain
// text, so the conversation is flattened into one prompt and tool calls are
// recovered from the generated text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...AdapterOption) (*GollmAdapter, error) {
	cfg := newAdapterConfig(apiKey, opts)

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, newError(KindConfiguration, provider, "no model configured", nil)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetMaxRetries(0), // RetryMiddleware owns retries.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.temperature != nil {
		gollmOpts = append(gollmOpts, gollm.SetTemperature(*cfg.temperature))
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.gollmOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// translateRequest flattens a Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var parts []string
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				if msg.Role == RoleAssistant {
					parts = append(parts, "[Assistant]: "+part.Text)
				} else {
					parts = append(parts, part.Text)
				}
			case ContentToolCall:
				if part.ToolCall != nil {
					parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s", part.ToolCall.ID, part.ToolCall.Name, string(part.ToolCall.Arguments)))
				}
			case ContentToolResult:
				if part.ToolResult != nil {
					prefix := "[Tool Result "
					if part.ToolResult.IsError {
						prefix = "[Tool Error "
					}
					parts = append(parts, prefix+part.ToolResult.ToolCallID+"]: "+part.ToolResult.Content)
				}
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Continue."
	}

	var promptOpts []gollm.PromptOption
	if system := strings.TrimSpace(req.System); system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools), gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", ResolveModel(req.Model))
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		a.llm.SetOption("max_tokens", req.MaxTokens)
	}
}

// buildResponse constructs a Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, remaining := parseToolCalls(text)

	var parts []ContentPart
	if strings.TrimSpace(remaining) != "" {
		parts = append(parts, TextPart(strings.TrimSpace(remaining)))
	}
	for _, tc := range calls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	stop := StopNaturalEnd
	if len(calls) > 0 {
		stop = StopToolRequested
	}

	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:         "resp_" + uuid.New().String()[:8],
		Model:      model,
		Provider:   a.provider,
		Message:    Message{Role: RoleAssistant, Content: parts},
		StopReason: stop,
		Usage:      Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

var functionCallPattern = regexp.MustCompile(`(?s)<function_call>(.*?)</function_call>`)

type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts tool calls embedded in generated text, either as
// <function_call>{...}</function_call> blocks or as a trailing JSON array of
// {"name", "arguments"} objects. It returns the calls and the leftover text.
func parseToolCalls(text string) ([]ToolCallData, string) {
	var raws []rawToolCall
	remaining := text

	if matches := functionCallPattern.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		for _, m := range matches {
			var rc rawToolCall
			if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &rc); err == nil && rc.Name != "" {
				raws = append(raws, rc)
			}
		}
		remaining = functionCallPattern.ReplaceAllString(text, "")
	} else if start := strings.Index(text, `[{"name"`); start != -1 {
		if err := json.Unmarshal([]byte(strings.TrimSpace(text[start:])), &raws); err == nil {
			remaining = text[:start]
		} else {
			raws = nil
		}
	}

	calls := make([]ToolCallData, 0, len(raws))
	for _, rc := range raws {
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: normalizeArguments(rc.Arguments),
		})
	}
	return calls, remaining
}

// normalizeArguments unwraps arguments that were encoded as a JSON string.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return raw
}

// translateError classifies a gollm error. gollm only exposes message text,
// so classification is by content.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	kind, status := KindNetwork, 0
	for _, rule := range gollmErrorRules {
		if containsAny(lower, rule.needles...) {
			kind, status = rule.kind, rule.status
			break
		}
	}
	return &Error{Kind: kind, Provider: a.provider, StatusCode: status, Cause: err}
}

var gollmErrorRules = []struct {
	kind    ErrorKind
	status  int
	needles []string
}{
	{KindAuthentication, 401, []string{"401", "unauthorized", "invalid key", "invalid api key"}},
	{KindAccessDenied, 403, []string{"403", "forbidden"}},
	{KindNotFound, 404, []string{"404", "not found"}},
	{KindRateLimit, 429, []string{"429", "rate limit"}},
	{KindContextLength, 413, []string{"context length", "too many tokens"}},
	{KindServer, 500, []string{"500", "502", "503", "internal server", "overloaded"}},
	{KindTimeout, 0, []string{"timeout"}},
	{KindContentFilter, 0, []string{"content filter", "safety"}},
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
