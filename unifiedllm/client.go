package unifiedllm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProviderAdapter is one model backend.
type ProviderAdapter interface {
	// Name is the provider identifier, e.g. "anthropic".
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// CompleteFunc performs one completion.
type CompleteFunc func(ctx context.Context, req Request) (*Response, error)

// Middleware decorates a CompleteFunc.
type Middleware func(next CompleteFunc) CompleteFunc

// Client routes requests to registered adapters through a middleware chain.
type Client struct {
	mu              sync.RWMutex
	adapters        map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.adapters[name] = adapter }
}

// WithDefaultProvider names the adapter used when a request names none and
// the model is not in the catalog.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithMiddleware appends middleware. The first one given sees the request
// first.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// NewClient creates a client. With a single adapter and no default, that
// adapter becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds an adapter after construction.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// route picks the adapter: the request's provider, else the catalog entry
// for its model if registered, else the default.
func (c *Client) route(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil && c.adapters[info.Provider] != nil {
			name = info.Provider
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, newError(KindConfiguration, "", "no provider specified and no default provider configured", nil)
	}
	adapter, ok := c.adapters[name]
	if !ok {
		return nil, newError(KindConfiguration, name, "provider is not registered", nil)
	}
	return adapter, nil
}

// Complete sends req to its provider through the middleware chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.route(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	call := CompleteFunc(adapter.Complete)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		call = c.middleware[i](call)
	}
	return call(ctx, req)
}

// Close closes every adapter that holds resources.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, adapter := range c.adapters {
		if closer, ok := adapter.(Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// RetryMiddleware retries transient failures according to policy.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (*Response, error) {
			return policy.Do(ctx, req, next)
		}
	}
}

// LoggingMiddleware logs each call's latency, stop reason and token usage.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("model call failed", "provider", req.Provider, "model", req.Model,
					"kind", KindOf(err), "elapsed", time.Since(start), "error", err)
				return nil, err
			}
			logger.Debug("model call", "provider", resp.Provider, "model", resp.Model,
				"stop", resp.StopReason, "input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens, "elapsed", time.Since(start))
			return resp, nil
		}
	}
}
