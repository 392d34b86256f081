package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.uber.org/dig"

	"github.com/martinemde/codeagent/agentloop"
	"github.com/martinemde/codeagent/config"
	"github.com/martinemde/codeagent/unifiedllm"
)

// app holds the resolved services for one CLI invocation.
type app struct {
	cfg     *config.Config
	env     *agentloop.LocalExecutionEnvironment
	client  *unifiedllm.Client
	session *agentloop.Session
	logger  *slog.Logger
	style   style
}

// flags carries command-line overrides into the container.
type flags struct {
	configPath string
	workDir    string
	verbose    bool
}

// newApp wires config, client, environment, tools, spawner and session.
func newApp(configPath, workDir string, verbose bool) (*app, error) {
	d := dig.New()
	providers := []any{
		func() flags { return flags{configPath: configPath, workDir: workDir, verbose: verbose} },
		loadConfig,
		newLogger,
		newClient,
		newEnvironment,
		newEmitter,
		newExecutor,
		newSpawner,
		newSession,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var a *app
	err := d.Invoke(func(
		cfg *config.Config,
		env *agentloop.LocalExecutionEnvironment,
		client *unifiedllm.Client,
		session *agentloop.Session,
		logger *slog.Logger,
	) {
		a = &app{
			cfg:     cfg,
			env:     env,
			client:  client,
			session: session,
			logger:  logger,
			style:   newStyle(os.Stderr),
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return a, nil
}

// Close releases provider resources.
func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close client", "error", err)
	}
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(config.Path(f.configPath))
	if err != nil {
		return nil, err
	}
	if f.workDir != "" {
		cfg.WorkDir = f.workDir
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, f flags) *slog.Logger {
	level, _ := cfg.SlogLevel()
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func newClient(cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	opts := []unifiedllm.AdapterOption{
		unifiedllm.WithModel(cfg.Model),
		unifiedllm.WithMaxTokens(cfg.MaxTokens),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, unifiedllm.WithBaseURL(cfg.BaseURL))
	}

	var adapter unifiedllm.ProviderAdapter
	if cfg.UsesGollm() {
		g, err := unifiedllm.NewGollmAdapter(cfg.ProviderName(), cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		adapter = g
	} else {
		adapter = unifiedllm.NewAnthropicAdapter(cfg.APIKey, opts...)
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.ProviderName(), adapter),
		unifiedllm.WithDefaultProvider(cfg.ProviderName()),
		unifiedllm.WithMiddleware(
			unifiedllm.LoggingMiddleware(logger),
			unifiedllm.RetryMiddleware(cfg.RetryPolicy()),
		),
	), nil
}

func newEnvironment(cfg *config.Config) (*agentloop.LocalExecutionEnvironment, error) {
	env, err := agentloop.NewLocalExecutionEnvironment(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", cfg.WorkDir, err)
	}
	return env, nil
}

// newExecutor builds the registry: core tools, todo_write and, when skills
// are configured, load_skill. The task tool is added by newSpawner.
func newExecutor(cfg *config.Config, env *agentloop.LocalExecutionEnvironment, logger *slog.Logger) (*agentloop.ToolExecutor, error) {
	reg := agentloop.NewToolRegistry()
	err := agentloop.RegisterCoreTools(reg, agentloop.CoreToolOptions{
		Policy:         agentloop.NewCommandPolicy(cfg.Denylist),
		CommandTimeout: cfg.CommandTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := reg.Register(agentloop.TodoTool(agentloop.NewTodoTracker())); err != nil {
		return nil, err
	}
	if skills := cfg.SkillSource(); skills != nil {
		if err := reg.Register(agentloop.SkillTool(skills)); err != nil {
			return nil, err
		}
	}
	return agentloop.NewToolExecutor(reg, env,
		agentloop.WithMaxOutputBytes(cfg.MaxOutputBytes),
		agentloop.WithExecutorLogger(logger),
	), nil
}

// newEmitter creates the event stream shared by the session and spawner.
func newEmitter() *agentloop.EventEmitter {
	return agentloop.NewEventEmitter(uuid.NewString(), 1024)
}

func newSpawner(cfg *config.Config, client *unifiedllm.Client, executor *agentloop.ToolExecutor, env *agentloop.LocalExecutionEnvironment, emitter *agentloop.EventEmitter, logger *slog.Logger) (*agentloop.Spawner, error) {
	childPrompt := "You are a subagent working on a delegated task. Finish it and reply with a concise final answer.\n\n" +
		agentloop.BuildEnvironmentContext(env, cfg.Model)
	spawner := agentloop.NewSpawner(client, executor, cfg.AgentConfig(),
		agentloop.WithSpawnerLogger(logger),
		agentloop.WithSpawnerEmitter(emitter),
		agentloop.WithChildSystemPrompt(childPrompt),
	)
	if err := executor.Registry().Register(spawner.Tool()); err != nil {
		return nil, err
	}
	return spawner, nil
}

// newSession takes the spawner so the task tool is registered before the
// session's tool set is read.
func newSession(cfg *config.Config, client *unifiedllm.Client, executor *agentloop.ToolExecutor, _ *agentloop.Spawner, env *agentloop.LocalExecutionEnvironment, emitter *agentloop.EventEmitter, logger *slog.Logger) *agentloop.Session {
	system := agentloop.BuildSystemPrompt(env, cfg.Model, cfg.Instructions)
	return agentloop.NewSession(client, executor, system, cfg.AgentConfig(),
		agentloop.WithSessionLogger(logger),
		agentloop.WithSessionEmitter(emitter),
	)
}
