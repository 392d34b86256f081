package unifiedllm

import (
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/teilomillet/gollm"
)

// AdapterOption configures a provider adapter.
type AdapterOption func(*adapterConfig)

type adapterConfig struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
	gollmOpts   []gollm.ConfigOption
	requestOpts []aoption.RequestOption
}

func newAdapterConfig(apiKey string, opts []AdapterOption) *adapterConfig {
	cfg := &adapterConfig{apiKey: apiKey, maxTokens: 8000}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) AdapterOption {
	return func(c *adapterConfig) {
		c.apiKey = key
	}
}

// WithBaseURL points the adapter at an alternative endpoint.
func WithBaseURL(url string) AdapterOption {
	return func(c *adapterConfig) {
		c.baseURL = url
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) AdapterOption {
	return func(c *adapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) AdapterOption {
	return func(c *adapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) AdapterOption {
	return func(c *adapterConfig) {
		c.temperature = &t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) AdapterOption {
	return func(c *adapterConfig) {
		c.gollmOpts = append(c.gollmOpts, opts...)
	}
}

// WithRequestOptions adds extra Anthropic SDK request options.
func WithRequestOptions(opts ...aoption.RequestOption) AdapterOption {
	return func(c *adapterConfig) {
		c.requestOpts = append(c.requestOpts, opts...)
	}
}
