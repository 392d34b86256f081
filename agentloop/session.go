package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/codeagent/unifiedllm"
)

// Reminders appended to user input to steer todo usage.
const (
	InitialReminder = "<reminder>Use todo_write for multi-step tasks.</reminder>"
	NagReminder     = "<reminder>10+ turns without todo update. Please update todos.</reminder>"
)

// nagAfterRounds is how many tool rounds may pass without a todo_write call
// before NagReminder is sent.
const nagAfterRounds = 10

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// ErrSessionClosed is returned by Submit after Close.
var ErrSessionClosed = errors.New("session is closed")

// Session owns the top-level conversation of one interactive run and feeds
// user inputs through the agent loop one at a time.
type Session struct {
	id      string
	agent   *Agent
	conv    *Conversation
	emitter *EventEmitter
	logger  *slog.Logger

	reminders bool
	submitted int

	submitMu sync.Mutex
	mu       sync.Mutex
	state    SessionState
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	logger     *slog.Logger
	bufferSize int
	emitter    *EventEmitter
}

// WithSessionLogger sets the logger for the session and its agent.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) SessionOption {
	return func(o *sessionOptions) { o.bufferSize = n }
}

// WithSessionEmitter makes the session emit on e and adopt its session ID,
// so other components (a Spawner) can share the stream.
func WithSessionEmitter(e *EventEmitter) SessionOption {
	return func(o *sessionOptions) { o.emitter = e }
}

// NewSession creates a session whose agent calls client and runs tools
// through executor. Todo reminders are enabled when the executor's registry
// holds the todo_write tool.
func NewSession(client ModelClient, executor *ToolExecutor, system string, cfg Config, opts ...SessionOption) *Session {
	o := sessionOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	emitter := o.emitter
	if emitter == nil {
		emitter = NewEventEmitter(uuid.NewString(), o.bufferSize)
	}
	id := emitter.SessionID()
	logger := o.logger.With("session", id)
	s := &Session{
		id:        id,
		agent:     NewAgent(client, executor, system, cfg, WithLogger(logger), WithEmitter(emitter)),
		conv:      NewConversation(),
		emitter:   emitter,
		logger:    logger,
		reminders: executor.Registry().Has(TodoToolName),
		state:     StateIdle,
	}
	emitter.Emit(EventSessionStart, map[string]any{"model": cfg.Model})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Conversation returns the session's conversation.
func (s *Session) Conversation() *Conversation { return s.conv }

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Usage returns the tokens consumed by the session's top-level loop.
func (s *Session) Usage() unifiedllm.Usage { return s.agent.Usage() }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

// Submit sends one user input through the loop and returns the final answer.
func (s *Session) Submit(ctx context.Context, input string) (string, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.State() == StateClosed {
		return "", ErrSessionClosed
	}
	s.setState(StateProcessing)
	defer s.setState(StateIdle)

	texts := s.reminderFor()
	texts = append(texts, input)
	if err := s.conv.Append(NewUserTurn(texts...)); err != nil {
		return "", fmt.Errorf("append user input: %w", err)
	}
	s.submitted++
	s.emitter.Emit(EventUserInput, map[string]any{"content": input})

	text, err := s.agent.Run(ctx, s.conv)
	if err != nil {
		s.logger.Error("submit failed", "error", err)
		return "", err
	}
	return text, nil
}

// reminderFor picks the reminder to prepend to the next input, if any.
func (s *Session) reminderFor() []string {
	if !s.reminders {
		return nil
	}
	var reminder string
	switch {
	case s.submitted == 0:
		reminder = InitialReminder
	case roundsWithoutTodo(s.conv.Turns()) > nagAfterRounds:
		reminder = NagReminder
	default:
		return nil
	}
	s.emitter.Emit(EventReminderInjected, map[string]any{"content": reminder})
	return []string{reminder}
}

// roundsWithoutTodo counts tool rounds since the most recent todo_write
// request.
func roundsWithoutTodo(turns []Turn) int {
	rounds := 0
	for i := len(turns) - 1; i >= 0; i-- {
		reqs := turns[i].ToolRequests()
		if turns[i].Role != RoleAssistant || len(reqs) == 0 {
			continue
		}
		for _, r := range reqs {
			if r.Name == TodoToolName {
				return rounds
			}
		}
		rounds++
	}
	return rounds
}

// Close ends the session and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	already := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if already {
		return
	}
	s.emitter.Emit(EventSessionEnd, map[string]any{"turns": s.conv.Len()})
	s.emitter.Close()
}
