package agentloop

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/martinemde/codeagent/unifiedllm"
)

func newSpawnerRegistry(t *testing.T, model ModelClient, env ExecutionEnvironment) (*ToolExecutor, *Spawner) {
	t.Helper()
	reg := newCoreRegistry(t)
	x := NewToolExecutor(reg, env)
	spawner := NewSpawner(model, x, testConfig())
	if err := reg.Register(spawner.Tool()); err != nil {
		t.Fatalf("register task tool: %v", err)
	}
	return x, spawner
}

func TestChildToolsRestrictsView(t *testing.T) {
	_, spawner := newSpawnerRegistry(t, newScriptedModel(), newFakeEnv())

	explore, err := spawner.ChildTools("explore")
	if err != nil {
		t.Fatalf("ChildTools(explore): %v", err)
	}
	if got := explore.Names(); !reflect.DeepEqual(got, []string{"read_file", "glob", "grep"}) {
		t.Errorf("explore tools = %v", got)
	}

	code, err := spawner.ChildTools("code")
	if err != nil {
		t.Fatalf("ChildTools(code): %v", err)
	}
	if code.Has(TaskToolName) || !code.Has("write_file") || !code.Has("bash") {
		t.Errorf("code tools = %v", code.Names())
	}

	if _, err := spawner.ChildTools("nope"); !errors.Is(err, ErrUnknownAgentType) {
		t.Errorf("expected ErrUnknownAgentType, got %v", err)
	}
}

func TestTaskToolSchema(t *testing.T) {
	_, spawner := newSpawnerRegistry(t, newScriptedModel(), newFakeEnv())
	def := spawner.Tool().Definition
	var enum []string
	for _, p := range def.Parameters {
		if p.Name == "agent_type" {
			enum = p.Enum
		}
	}
	if !reflect.DeepEqual(enum, []string{"explore", "plan", "code"}) {
		t.Errorf("agent_type enum = %v", enum)
	}
	if !strings.Contains(def.Description, "explore: Read-only agent") {
		t.Errorf("description should list agent types: %q", def.Description)
	}
}

func TestSpawnFailuresBecomeText(t *testing.T) {
	model := newScriptedModel(fail(unifiedllm.ErrorFromStatusCode(503, "anthropic", "unavailable", 0)))
	_, spawner := newSpawnerRegistry(t, model, newFakeEnv())

	out := spawner.Spawn(context.Background(), "look around", "explore")
	if !strings.HasPrefix(out, "Error: subagent failed") {
		t.Errorf("unexpected failure text %q", out)
	}

	out = spawner.Spawn(context.Background(), "look around", "wizard")
	if !strings.HasPrefix(out, "Error: subagent failed") || !strings.Contains(out, "unknown agent type") {
		t.Errorf("unexpected unknown-type text %q", out)
	}
	if model.calls() != 1 {
		t.Errorf("unknown type should not reach the model, calls = %d", model.calls())
	}
}

func TestSpawnEmptyAnswer(t *testing.T) {
	model := newScriptedModel(reply(textResponse("")))
	_, spawner := newSpawnerRegistry(t, model, newFakeEnv())
	if out := spawner.Spawn(context.Background(), "x", "plan"); out != "(subagent returned no text)" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestParentReceivesOnlyChildSummary(t *testing.T) {
	env := newFakeEnv()
	env.files["notes.txt"] = "the entry point is main.go"
	model := newScriptedModel(
		reply(toolCallResponse(call("p1", "task", `{"description": "find entry", "prompt": "find main", "agent_type": "explore"}`))),
		reply(toolCallResponse(call("k1", "read_file", `{"path": "notes.txt"}`))),
		reply(textResponse("summary")),
		reply(textResponse("done")),
	)
	x, _ := newSpawnerRegistry(t, model, env)
	agent := NewAgent(model, x, "parent", testConfig())
	conv := newUserConversation(t, "where is main?")

	text, err := agent.Run(context.Background(), conv)
	if err != nil || text != "done" {
		t.Fatalf("Run = %q, %v", text, err)
	}
	if conv.Len() != 4 {
		t.Fatalf("parent should grow by one request and one result, got %d turns", conv.Len())
	}
	results := conv.Turns()[2].ToolResults()
	if len(results) != 1 || results[0].Output != "summary" || results[0].ToolRequestID != "p1" {
		t.Errorf("unexpected parent results %+v", results)
	}

	child := model.request(1)
	if got := toolNames(child.Tools); !reflect.DeepEqual(got, []string{"read_file", "glob", "grep"}) {
		t.Errorf("child saw tools %v", got)
	}
	if slices.Contains(toolNames(child.Tools), "write_file") {
		t.Error("explore child was offered write_file")
	}
	seed := child.Messages[0].TextContent()
	if len(child.Messages) != 1 || !strings.Contains(seed, "exploration agent") || !strings.HasSuffix(seed, "Task:\nfind main") {
		t.Errorf("unexpected child seed %q", seed)
	}
	if child.System == "parent" {
		t.Error("child inherited the parent system prompt")
	}

	parentAfter := model.request(3)
	for _, m := range parentAfter.Messages {
		for _, tc := range m.ToolCalls() {
			if tc.ID == "k1" {
				t.Error("child tool call leaked into the parent conversation")
			}
		}
	}
}

func TestChildTodoListIsPrivate(t *testing.T) {
	parentTodos := NewTodoTracker()
	if _, err := parentTodos.Update([]TodoItem{{Content: "parent task", Status: TodoInProgress, ActiveForm: "Working"}}); err != nil {
		t.Fatal(err)
	}
	reg := NewToolRegistry()
	if err := RegisterCoreTools(reg, CoreToolOptions{}); err != nil {
		t.Fatal(err)
	}
	reg.MustRegister(TodoTool(parentTodos))

	model := newScriptedModel(
		reply(toolCallResponse(call("k1", TodoToolName, `{"items": [{"content": "child", "status": "pending", "activeForm": "Doing child"}]}`))),
		reply(textResponse("child done")),
	)
	spawner := NewSpawner(model, NewToolExecutor(reg, newFakeEnv()), testConfig())
	before := parentTodos.Render()

	if out := spawner.Spawn(context.Background(), "plan the work", "code"); out != "child done" {
		t.Fatalf("Spawn = %q", out)
	}
	if got := parentTodos.Render(); got != before {
		t.Errorf("child replaced the parent todo list:\n%s", got)
	}
	results := model.request(1).Messages[2].Content[0].ToolResult
	if results == nil || results.IsError || !strings.Contains(results.Content, "[ ] child") {
		t.Errorf("child todo_write should succeed on its own list, got %+v", results)
	}

	tools, err := spawner.ChildTools("code")
	if err != nil {
		t.Fatal(err)
	}
	if !tools.Has(TodoToolName) {
		t.Error("code children should keep todo_write")
	}
	if names := tools.Names(); names[len(names)-1] != TodoToolName {
		t.Errorf("todo_write moved in the child registry: %v", names)
	}
}
