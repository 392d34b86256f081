package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func execTool(t *testing.T, x *ToolExecutor, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	out, err := x.Execute(context.Background(), name, raw)
	return out.Output, err
}

func TestReadFileTool(t *testing.T) {
	env := newFakeEnv()
	env.files["notes.txt"] = "a\nb\nc\nd\n"
	x := NewToolExecutor(newCoreRegistry(t), env)

	got, err := execTool(t, x, "read_file", map[string]any{"path": "notes.txt", "limit": 2})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if want := "a\nb\n... (2 more lines)"; got != want {
		t.Errorf("read_file with limit = %q, want %q", got, want)
	}

	got, _ = execTool(t, x, "read_file", map[string]any{"path": "notes.txt", "limit": 10})
	if got != "a\nb\nc\nd\n" {
		t.Errorf("limit past the end should return the whole file, got %q", got)
	}

	if _, err := execTool(t, x, "read_file", map[string]any{"path": "notes.txt", "limit": -1}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments for negative limit, got %v", err)
	}
	if _, err := execTool(t, x, "read_file", map[string]any{"path": "missing.txt"}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWriteAndEditFileTools(t *testing.T) {
	env := newFakeEnv()
	x := NewToolExecutor(newCoreRegistry(t), env)

	got, err := execTool(t, x, "write_file", map[string]any{"path": "out.txt", "content": "hi"})
	if err != nil || got != "Wrote 2 bytes to out.txt" {
		t.Fatalf("write_file = %q, %v", got, err)
	}

	env.files["main.go"] = "foo bar foo"
	got, err = execTool(t, x, "edit_file", map[string]any{"path": "main.go", "old_text": "foo", "new_text": "baz"})
	if err != nil || got != "Edited main.go" {
		t.Fatalf("edit_file = %q, %v", got, err)
	}
	if env.files["main.go"] != "baz bar foo" {
		t.Errorf("expected only the first occurrence replaced, got %q", env.files["main.go"])
	}

	_, err = execTool(t, x, "edit_file", map[string]any{"path": "main.go", "old_text": "qux", "new_text": "x"})
	if err == nil || !strings.Contains(err.Error(), "text not found") {
		t.Errorf("expected text not found, got %v", err)
	}
	if _, err := execTool(t, x, "edit_file", map[string]any{"path": "main.go", "old_text": "", "new_text": "x"}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments for empty old_text, got %v", err)
	}
	if _, err := execTool(t, x, "write_file", map[string]any{"path": "../x", "content": "x"}); !errors.Is(err, ErrPathEscape) {
		t.Errorf("expected ErrPathEscape, got %v", err)
	}
}

func TestBashToolExitCode(t *testing.T) {
	env := newFakeEnv()
	env.execResult = &ExecResult{Stdout: "partial\n", Stderr: "boom\n", ExitCode: 2}
	x := NewToolExecutor(newCoreRegistry(t), env)

	got, err := execTool(t, x, "bash", map[string]any{"command": "make"})
	if err != nil {
		t.Fatalf("bash: %v", err)
	}
	if !strings.HasSuffix(got, "\n[exit code: 2]") || !strings.Contains(got, "boom") {
		t.Errorf("unexpected bash output %q", got)
	}

	env.execResult = &ExecResult{}
	got, _ = execTool(t, x, "bash", map[string]any{"command": "true"})
	if got != NoOutput {
		t.Errorf("expected %q for silent success, got %q", NoOutput, got)
	}

	if _, err := execTool(t, x, "bash", map[string]any{"command": "   "}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments for blank command, got %v", err)
	}
}

func TestBashToolLocal(t *testing.T) {
	x := NewToolExecutor(newCoreRegistry(t), newLocalEnv(t))
	got, err := execTool(t, x, "bash", map[string]any{"command": "echo hello"})
	if err != nil || got != "hello" {
		t.Errorf("bash = %q, %v", got, err)
	}
}

func TestGlobAndGrepToolsEmpty(t *testing.T) {
	x := NewToolExecutor(newCoreRegistry(t), newFakeEnv())
	if got, _ := execTool(t, x, "glob", map[string]any{"pattern": "*.go"}); got != "No files matched." {
		t.Errorf("glob = %q", got)
	}
	if got, _ := execTool(t, x, "grep", map[string]any{"pattern": "x"}); got != "No matches found." {
		t.Errorf("grep = %q", got)
	}
}

func TestGrepToolLocal(t *testing.T) {
	env := newLocalEnv(t)
	writeTree(t, env.WorkingDirectory(), map[string]string{"a.go": "package a\n// TODO fix\n"})
	x := NewToolExecutor(newCoreRegistry(t), env)
	got, err := execTool(t, x, "grep", map[string]any{"pattern": "todo", "case_insensitive": true})
	if err != nil || got != "a.go:2:// TODO fix" {
		t.Errorf("grep = %q, %v", got, err)
	}
}
