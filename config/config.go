// Package config loads codeagent settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/codeagent/agentloop"
	"github.com/martinemde/codeagent/unifiedllm"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "codeagent.yaml"

const gollmPrefix = "gollm:"

// Config is the complete codeagent configuration.
type Config struct {
	// Provider is "anthropic" or "gollm:<name>", e.g. "gollm:openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	MaxTokens        int           `yaml:"max_tokens"`
	WorkDir          string        `yaml:"work_dir"`
	MaxIterations    int           `yaml:"max_iterations"`
	ModelTimeout     time.Duration `yaml:"model_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	MaxOutputBytes   int           `yaml:"max_output_bytes"`
	ParallelTools    bool          `yaml:"parallel_tools"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	LoopWindow       int           `yaml:"loop_window"`

	// Denylist replaces the default command denylist when set. An empty
	// list allows every command.
	Denylist []string `yaml:"denylist"`

	// Instructions are appended to the system prompt.
	Instructions string        `yaml:"instructions"`
	Skills       []SkillConfig `yaml:"skills"`

	LogLevel string      `yaml:"log_level"`
	Retry    RetryConfig `yaml:"retry"`
}

// SkillConfig is an inline skill document offered through load_skill.
type SkillConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"body"`
}

// RetryConfig controls retries of transient model errors.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// Default returns the built-in configuration.
func Default() Config {
	loop := agentloop.DefaultConfig()
	retry := unifiedllm.DefaultRetryPolicy()
	return Config{
		Provider:         "anthropic",
		MaxTokens:        loop.MaxTokens,
		WorkDir:          ".",
		MaxIterations:    loop.MaxIterations,
		ModelTimeout:     loop.ModelTimeout,
		CommandTimeout:   agentloop.DefaultCommandTimeout,
		MaxOutputBytes:   agentloop.DefaultMaxOutputBytes,
		MaxParallelTools: loop.MaxParallelTools,
		LoopWindow:       loop.LoopWindow,
		LogLevel:         "warn",
		Retry: RetryConfig{
			MaxRetries: retry.MaxRetries,
			BaseDelay:  retry.BaseDelay,
		},
	}
}

// Path picks the config file: flag, then $CODEAGENT_CONFIG, then DefaultPath.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CODEAGENT_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.Model == "" {
		cfg.Model = unifiedllm.DefaultModel(cfg.ProviderName())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CODEAGENT_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("CODEAGENT_MODEL"); v != "" {
		c.Model = v
	}
	if c.Provider == "anthropic" {
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			c.APIKey = v
		}
		if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
			c.BaseURL = v
		}
	}
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Provider != "anthropic" && (!strings.HasPrefix(c.Provider, gollmPrefix) || c.ProviderName() == "") {
		errs = append(errs, fmt.Errorf("provider %q: want anthropic or gollm:<name>", c.Provider))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	for name, v := range map[string]int{
		"max_tokens":         c.MaxTokens,
		"max_output_bytes":   c.MaxOutputBytes,
		"max_parallel_tools": c.MaxParallelTools,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations))
	}
	if c.LoopWindow < 0 {
		errs = append(errs, fmt.Errorf("loop_window must not be negative, got %d", c.LoopWindow))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("model_timeout must be positive, got %s", c.ModelTimeout))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	for i, sk := range c.Skills {
		if strings.TrimSpace(sk.Name) == "" {
			errs = append(errs, fmt.Errorf("skills[%d]: name is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ProviderName returns the unifiedllm provider identifier: "anthropic" or
// the gollm provider after the "gollm:" prefix.
func (c *Config) ProviderName() string {
	return strings.TrimPrefix(c.Provider, gollmPrefix)
}

// UsesGollm reports whether the provider is reached through gollm.
func (c *Config) UsesGollm() bool {
	return strings.HasPrefix(c.Provider, gollmPrefix)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// AgentConfig maps the loop settings onto agentloop.Config.
func (c *Config) AgentConfig() agentloop.Config {
	return agentloop.Config{
		Model:            c.Model,
		Provider:         c.ProviderName(),
		MaxTokens:        c.MaxTokens,
		MaxIterations:    c.MaxIterations,
		ModelTimeout:     c.ModelTimeout,
		ParallelTools:    c.ParallelTools,
		MaxParallelTools: c.MaxParallelTools,
		LoopWindow:       c.LoopWindow,
	}
}

// RetryPolicy returns the client retry policy.
func (c *Config) RetryPolicy() unifiedllm.RetryPolicy {
	p := unifiedllm.DefaultRetryPolicy()
	p.MaxRetries = c.Retry.MaxRetries
	if c.Retry.BaseDelay > 0 {
		p.BaseDelay = c.Retry.BaseDelay
	}
	return p
}

// SkillSource returns the configured skills, or nil when there are none.
func (c *Config) SkillSource() agentloop.SkillSource {
	if len(c.Skills) == 0 {
		return nil
	}
	skills := make(agentloop.StaticSkills, len(c.Skills))
	for _, sk := range c.Skills {
		skills[sk.Name] = agentloop.Skill{Name: sk.Name, Description: sk.Description, Body: sk.Body}
	}
	return skills
}
