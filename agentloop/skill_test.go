package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSkillTool(t *testing.T) {
	skills := StaticSkills{
		"go-testing": {Description: "How we write Go tests", Body: "  Use table tests.\n"},
		"release":    {Name: "release", Description: "Cutting a release", Body: "Tag it."},
	}
	tool := SkillTool(skills)
	if !strings.Contains(tool.Definition.Description, "- go-testing: How we write Go tests\n- release: Cutting a release") {
		t.Errorf("description should list skills in name order: %q", tool.Definition.Description)
	}

	reg := NewToolRegistry()
	reg.MustRegister(tool)
	x := NewToolExecutor(reg, newFakeEnv())

	out, err := x.Execute(context.Background(), SkillToolName, json.RawMessage(`{"skill": "go-testing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "<skill-loaded name=\"go-testing\">\nUse table tests.\n</skill-loaded>\n\nFollow the instructions in the skill above."
	if out.Output != want {
		t.Errorf("skill output =\n%s\nwant\n%s", out.Output, want)
	}

	if _, err := x.Execute(context.Background(), SkillToolName, json.RawMessage(`{"skill": "nope"}`)); !errors.Is(err, ErrUnknownSkill) {
		t.Errorf("expected ErrUnknownSkill, got %v", err)
	}
}
