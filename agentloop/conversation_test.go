package agentloop

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/martinemde/codeagent/unifiedllm"
)

func assistantWithRequests(ids ...string) Turn {
	var blocks []ContentBlock
	for _, id := range ids {
		blocks = append(blocks, RequestBlock(ToolRequest{ID: id, Name: "bash", Arguments: json.RawMessage(`{}`)}))
	}
	return NewAssistantTurn(blocks)
}

func results(ids ...string) []ToolResult {
	out := make([]ToolResult, len(ids))
	for i, id := range ids {
		out[i] = ToolResult{ToolRequestID: id, Output: "out " + id}
	}
	return out
}

func TestConversationPairing(t *testing.T) {
	conv := newUserConversation(t, "hi")
	if err := conv.Append(assistantWithRequests("a", "b")); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	if err := conv.Append(NewUserTurn("ignoring you")); !errors.Is(err, ErrUnpairedToolRequest) {
		t.Errorf("expected ErrUnpairedToolRequest for text-only reply, got %v", err)
	}
	if err := conv.Append(NewToolResultsTurn(results("a"))); !errors.Is(err, ErrUnpairedToolRequest) {
		t.Errorf("expected ErrUnpairedToolRequest for missing result, got %v", err)
	}
	if err := conv.Append(NewToolResultsTurn(results("b", "a"))); !errors.Is(err, ErrUnpairedToolRequest) {
		t.Errorf("expected ErrUnpairedToolRequest for out-of-order results, got %v", err)
	}
	if conv.Len() != 2 {
		t.Fatalf("rejected appends must not change the conversation, len = %d", conv.Len())
	}

	if err := conv.Append(NewToolResultsTurn(results("a", "b"), "a note")); err != nil {
		t.Fatalf("append paired results: %v", err)
	}
	last, _ := conv.Last()
	got := last.ToolResults()
	if len(got) != 2 || got[0].ToolRequestID != "a" || got[1].ToolRequestID != "b" {
		t.Errorf("unexpected results %+v", got)
	}
	if last.Text() != "a note" {
		t.Errorf("expected trailing note, got %q", last.Text())
	}
}

func TestConversationRejectsResultsLeadingAfterText(t *testing.T) {
	conv := newUserConversation(t, "hi")
	if err := conv.Append(assistantWithRequests("a")); err != nil {
		t.Fatal(err)
	}
	turn := Turn{Role: RoleUser, Content: []ContentBlock{TextBlock("first"), ResultBlock(ToolResult{ToolRequestID: "a"})}}
	if err := conv.Append(turn); !errors.Is(err, ErrUnpairedToolRequest) {
		t.Errorf("expected ErrUnpairedToolRequest, got %v", err)
	}
}

func TestConversationRejectsStrayResults(t *testing.T) {
	conv := newUserConversation(t, "hi")
	if err := conv.Append(NewAssistantTurn([]ContentBlock{TextBlock("hello")})); err != nil {
		t.Fatal(err)
	}
	if err := conv.Append(NewToolResultsTurn(results("x"))); !errors.Is(err, ErrUnpairedToolRequest) {
		t.Errorf("expected ErrUnpairedToolRequest, got %v", err)
	}
}

func TestConversationValidatesTurns(t *testing.T) {
	conv := NewConversation()
	tests := []struct {
		name string
		turn Turn
	}{
		{"empty", Turn{Role: RoleUser}},
		{"bad role", Turn{Role: "system", Content: []ContentBlock{TextBlock("x")}}},
		{"request in user turn", Turn{Role: RoleUser, Content: []ContentBlock{RequestBlock(ToolRequest{ID: "a"})}}},
		{"duplicate ids", assistantWithRequests("a", "a")},
		{"unknown kind", Turn{Role: RoleUser, Content: []ContentBlock{{Kind: "image"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conv.Append(tt.turn); !errors.Is(err, ErrInvalidTurn) {
				t.Errorf("expected ErrInvalidTurn, got %v", err)
			}
		})
	}
}

func TestConversationTurnsIsACopy(t *testing.T) {
	conv := newUserConversation(t, "hi")
	turns := conv.Turns()
	turns[0].Content[0].Text = "changed"
	turns = append(turns, NewUserTurn("more"))
	if conv.Len() != 1 || len(turns) != 2 {
		t.Errorf("expected 1 turn, got %d", conv.Len())
	}
	if got := conv.Turns()[0].Text(); got != "hi" {
		t.Errorf("expected stored text %q, got %q", "hi", got)
	}
}

func TestConversationMessages(t *testing.T) {
	conv := newUserConversation(t, "hi")
	if err := conv.Append(assistantWithRequests("a")); err != nil {
		t.Fatal(err)
	}
	if err := conv.Append(NewToolResultsTurn([]ToolResult{{ToolRequestID: "a", Output: "boom", IsError: true}})); err != nil {
		t.Fatal(err)
	}
	if err := conv.Append(NewAssistantTurn([]ContentBlock{TextBlock("done")})); err != nil {
		t.Fatal(err)
	}

	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Role != unifiedllm.RoleAssistant || msgs[1].ToolCalls()[0].ID != "a" {
		t.Errorf("unexpected assistant message %+v", msgs[1])
	}
	res := msgs[2].Content[0].ToolResult
	if msgs[2].Role != unifiedllm.RoleUser || res == nil || res.ToolCallID != "a" || !res.IsError || res.Content != "boom" {
		t.Errorf("unexpected result message %+v", msgs[2])
	}
	if conv.FinalText() != "done" {
		t.Errorf("expected final text %q, got %q", "done", conv.FinalText())
	}
}

func TestConversationStoredBlocksAreUnreachable(t *testing.T) {
	conv := newUserConversation(t, "hi")
	assistant := assistantWithRequests("a")
	if err := conv.Append(assistant); err != nil {
		t.Fatal(err)
	}
	assistant.Content[0].ToolRequest.Name = "rm"
	assistant.Content[0].ToolRequest.Arguments[0] = '['

	answer := NewToolResultsTurn(results("a"))
	if err := conv.Append(answer); err != nil {
		t.Fatal(err)
	}
	answer.Content[0].ToolResult.Output = "changed by caller"

	turns := conv.Turns()
	turns[2].Content[0].ToolResult.Output = "changed via Turns"
	last, _ := conv.Last()
	last.Content[0].ToolResult.IsError = true

	stored := conv.Turns()
	req := stored[1].ToolRequests()[0]
	if req.Name != "bash" || string(req.Arguments) != "{}" {
		t.Errorf("stored request changed: %+v", req)
	}
	res := stored[2].ToolResults()[0]
	if res.Output != "out a" || res.IsError {
		t.Errorf("stored result changed: %+v", res)
	}
}
