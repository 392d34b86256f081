package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskToolName is the name the subagent tool registers under.
const TaskToolName = "task"

// AgentType describes one kind of subagent: which tools it may use and the
// preamble that frames its task.
type AgentType struct {
	Name        string
	Description string
	// Tools lists the allowed tool names. Nil means every parent tool except
	// the task tool itself.
	Tools    []string
	Preamble string
}

// DefaultAgentTypes is the fixed subagent table.
var DefaultAgentTypes = []AgentType{
	{
		Name:        "explore",
		Description: "Read-only agent for exploring code, finding files, searching",
		Tools:       []string{"read_file", "glob", "grep"},
		Preamble:    "You are an exploration agent. Search and analyze, but never modify files. Return a concise summary.",
	},
	{
		Name:        "plan",
		Description: "Planning agent for designing implementation strategies",
		Tools:       []string{"read_file", "glob", "grep"},
		Preamble:    "You are a planning agent. Analyze the codebase and output a numbered implementation plan. Do NOT make changes.",
	},
	{
		Name:        "code",
		Description: "Full agent for implementing features and fixing bugs",
		Preamble:    "You are a coding agent. Implement the requested changes efficiently.",
	},
}

// Spawner runs delegated tasks in isolated child loops. A child gets a fresh
// conversation and a restricted view of the parent's tools; only its final
// text comes back. Children run one at a time since they share the working
// directory.
type Spawner struct {
	client   ModelClient
	executor *ToolExecutor
	types    map[string]AgentType
	order    []string
	config   Config
	system   string
	logger   *slog.Logger
	emitter  *EventEmitter

	runMu sync.Mutex
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithAgentTypes replaces the agent type table.
func WithAgentTypes(types ...AgentType) SpawnerOption {
	return func(s *Spawner) {
		s.types = make(map[string]AgentType, len(types))
		s.order = s.order[:0]
		for _, t := range types {
			s.types[t.Name] = t
			s.order = append(s.order, t.Name)
		}
	}
}

// WithSpawnerLogger sets the logger.
func WithSpawnerLogger(l *slog.Logger) SpawnerOption {
	return func(s *Spawner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSpawnerEmitter reports subagent start and finish to e.
func WithSpawnerEmitter(e *EventEmitter) SpawnerOption {
	return func(s *Spawner) { s.emitter = e }
}

// WithChildSystemPrompt sets the base system prompt for children. The agent
// type's preamble is sent as part of the task, not the system prompt.
func WithChildSystemPrompt(system string) SpawnerOption {
	return func(s *Spawner) { s.system = system }
}

// NewSpawner creates a spawner whose children call client and run tools
// through executor's registry and environment.
func NewSpawner(client ModelClient, executor *ToolExecutor, cfg Config, opts ...SpawnerOption) *Spawner {
	s := &Spawner{
		client:   client,
		executor: executor,
		config:   cfg,
		system:   "You are a subagent working on a delegated task. Finish it and reply with a concise final answer.",
		logger:   slog.Default(),
	}
	WithAgentTypes(DefaultAgentTypes...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AgentTypes returns the configured types in table order.
func (s *Spawner) AgentTypes() []AgentType {
	out := make([]AgentType, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.types[name])
	}
	return out
}

// ChildTools returns the restricted registry a child of agentType would get.
// Children never receive the task tool, and a child's todo_write is bound to
// a fresh tracker so it cannot touch the parent's list.
func (s *Spawner) ChildTools(agentType string) (*ToolRegistry, error) {
	at, ok := s.types[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, agentType)
	}
	tools := s.executor.Registry().Without(TaskToolName)
	if at.Tools != nil {
		allowed := make([]string, 0, len(at.Tools))
		for _, name := range at.Tools {
			if name != TaskToolName && tools.Has(name) {
				allowed = append(allowed, name)
			}
		}
		view, err := tools.View(allowed)
		if err != nil {
			return nil, err
		}
		tools = view
	}
	if tools.Has(TodoToolName) {
		tools.replace(TodoTool(NewTodoTracker()))
	}
	return tools, nil
}

// Spawn runs task as agentType and returns the child's final text. Failures
// come back as an "Error: ..." string so the parent loop keeps going.
func (s *Spawner) Spawn(ctx context.Context, task string, agentType string) string {
	out, err := s.run(ctx, task, agentType)
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

func (s *Spawner) run(ctx context.Context, task, agentType string) (string, error) {
	at, ok := s.types[agentType]
	if !ok {
		return "", fmt.Errorf("%w: %w: %q", ErrSubagentFailure, ErrUnknownAgentType, agentType)
	}
	tools, err := s.ChildTools(agentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubagentFailure, err)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.NewString()
	logger := s.logger.With("subagent", runID, "agent_type", agentType)
	start := time.Now()
	s.emitter.Emit(EventSubagentStart, map[string]any{"run_id": runID, "agent_type": agentType, "task": task})
	logger.Info("subagent started", "tools", strings.Join(tools.Names(), ","))

	child := NewAgent(s.client, s.executor.WithRegistry(tools), s.system, s.config, WithLogger(logger))
	conv := NewConversation()
	if err := conv.Append(NewUserTurn(at.Preamble + "\n\nTask:\n" + task)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubagentFailure, err)
	}

	text, err := child.Run(ctx, conv)
	s.emitter.Emit(EventSubagentEnd, map[string]any{
		"run_id":   runID,
		"turns":    conv.Len(),
		"duration": time.Since(start).String(),
		"failed":   err != nil,
	})
	if err != nil {
		logger.Warn("subagent failed", "error", err, "turns", conv.Len())
		return "", fmt.Errorf("%w: %w", ErrSubagentFailure, err)
	}
	logger.Info("subagent finished", "turns", conv.Len(), "duration", time.Since(start))
	if strings.TrimSpace(text) == "" {
		text = "(subagent returned no text)"
	}
	return text, nil
}

// Tool exposes the spawner as the task tool.
func (s *Spawner) Tool() RegisteredTool {
	names := slices.Clone(s.order)
	var desc strings.Builder
	desc.WriteString("Delegate a focused subtask to a subagent with its own isolated context. Only its final answer is returned.\n\nAgent types:")
	for _, at := range s.AgentTypes() {
		fmt.Fprintf(&desc, "\n- %s: %s", at.Name, at.Description)
	}
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        TaskToolName,
			Description: desc.String(),
			Parameters: []Parameter{
				{Name: "description", Type: "string", Description: "Short task name (3-5 words) for progress display.", Required: true},
				{Name: "prompt", Type: "string", Description: "Detailed instructions for the subagent.", Required: true},
				{Name: "agent_type", Type: "string", Description: "Which kind of subagent to run.", Required: true, Enum: names},
			},
			Mutating: true,
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			prompt, _ := args.String("prompt")
			agentType, _ := args.String("agent_type")
			description, _ := args.String("description")
			s.logger.Debug("task tool", "description", description, "agent_type", agentType)
			return s.Spawn(ctx, prompt, agentType), nil
		},
	}
}
