package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/codeagent/unifiedllm"
)

// scriptedModel replays canned responses in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []step
	fallback *unifiedllm.Response
	requests []unifiedllm.Request
}

type step struct {
	resp *unifiedllm.Response
	err  error
}

func newScriptedModel(steps ...step) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		if m.fallback != nil {
			return m.fallback, nil
		}
		return nil, errors.New("script exhausted")
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.resp, s.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) unifiedllm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func reply(r *unifiedllm.Response) step { return step{resp: r} }
func fail(err error) step              { return step{err: err} }

func call(id, name, args string) unifiedllm.ToolCallData {
	return unifiedllm.ToolCallData{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolCallResponse(calls ...unifiedllm.ToolCallData) *unifiedllm.Response {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{Message: msg, StopReason: unifiedllm.StopToolRequested, RawStop: "tool_use"}
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:    unifiedllm.AssistantMessage(text),
		StopReason: unifiedllm.StopNaturalEnd,
		RawStop:    "end_turn",
		Usage:      unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

// fakeEnv is an in-memory ExecutionEnvironment that records commands.
type fakeEnv struct {
	mu         sync.Mutex
	files      map[string]string
	execCalls  []string
	execResult *ExecResult
	execErr    error
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{files: make(map[string]string)}
}

func (f *fakeEnv) ResolvePath(p string) (string, error) {
	if strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	return "/work/" + p, nil
}

func (f *fakeEnv) ReadFile(path string) (string, error) {
	if _, err := f.ResolvePath(path); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return content, nil
}

func (f *fakeEnv) WriteFile(path string, content string) error {
	if _, err := f.ResolvePath(path); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *fakeEnv) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, command)
	if f.execErr != nil {
		return &ExecResult{ExitCode: -1, TimedOut: errors.Is(f.execErr, ErrTimeout)}, f.execErr
	}
	if f.execResult != nil {
		return f.execResult, nil
	}
	return &ExecResult{Stdout: "ok\n"}, nil
}

func (f *fakeEnv) Glob(pattern string) ([]string, error) { return nil, nil }

func (f *fakeEnv) Grep(ctx context.Context, pattern, path string, opts GrepOptions) ([]string, error) {
	return nil, nil
}

func (f *fakeEnv) WorkingDirectory() string { return "/work" }
func (f *fakeEnv) Platform() string         { return "test" }
func (f *fakeEnv) OSVersion() string        { return "test" }

func (f *fakeEnv) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execCalls...)
}

// newCoreRegistry returns a registry holding the core tools and todo_write.
func newCoreRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	reg := NewToolRegistry()
	if err := RegisterCoreTools(reg, CoreToolOptions{}); err != nil {
		t.Fatalf("RegisterCoreTools: %v", err)
	}
	if err := reg.Register(TodoTool(NewTodoTracker())); err != nil {
		t.Fatalf("register todo tool: %v", err)
	}
	return reg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	return cfg
}

func newUserConversation(t *testing.T, text string) *Conversation {
	t.Helper()
	conv := NewConversation()
	if err := conv.Append(NewUserTurn(text)); err != nil {
		t.Fatalf("append user turn: %v", err)
	}
	return conv
}

func toolNames(defs []unifiedllm.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
