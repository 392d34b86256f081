package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("claude-sonnet-4-5")
	if info == nil {
		t.Fatal("expected to find claude-sonnet-4-5")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider %q, got %q", "anthropic", info.Provider)
	}

	info = GetModelInfo("Opus")
	if info == nil || info.ID != "claude-opus-4-1" {
		t.Fatalf("expected alias lookup to find claude-opus-4-1, got %v", info)
	}

	if GetModelInfo("nonexistent-model") != nil {
		t.Error("expected nil for unknown model")
	}
	if GetModelInfo("") != nil {
		t.Error("expected nil for empty id")
	}
}

func TestDefaultModel(t *testing.T) {
	if got := DefaultModel("anthropic"); got != "claude-sonnet-4-5" {
		t.Errorf("expected claude-sonnet-4-5, got %q", got)
	}
	if got := DefaultModel("openai"); got != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %q", got)
	}
	if got := DefaultModel("nobody"); got != "" {
		t.Errorf("expected empty default for unknown provider, got %q", got)
	}
}

func TestResolveModel(t *testing.T) {
	if got := ResolveModel("haiku"); got != "claude-haiku-4-5" {
		t.Errorf("expected alias to resolve, got %q", got)
	}
	if got := ResolveModel("custom-finetune"); got != "custom-finetune" {
		t.Errorf("expected unknown id to pass through, got %q", got)
	}
}
