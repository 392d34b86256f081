package agentloop

import (
	"encoding/json"
	"fmt"
	"testing"
)

func historyOf(calls ...string) []Turn {
	turns := []Turn{NewUserTurn("go")}
	for i, args := range calls {
		id := fmt.Sprintf("c%d", i)
		turns = append(turns,
			NewAssistantTurn([]ContentBlock{RequestBlock(ToolRequest{ID: id, Name: "bash", Arguments: json.RawMessage(args)})}),
			NewToolResultsTurn([]ToolResult{{ToolRequestID: id, Output: "ok"}}),
		)
	}
	return turns
}

func TestDetectLoop(t *testing.T) {
	a, b, c, d := `{"command":"a"}`, `{"command":"b"}`, `{"command":"c"}`, `{"command":"d"}`
	tests := []struct {
		name   string
		turns  []Turn
		window int
		want   bool
	}{
		{"too short", historyOf(a, a), 4, false},
		{"same call", historyOf(b, a, a, a, a), 4, true},
		{"alternating", historyOf(a, b, a, b), 4, true},
		{"cycle of three", historyOf(a, b, c, a, b, c), 6, true},
		{"varied", historyOf(a, b, c, d), 4, false},
		{"disabled", historyOf(a, a, a), 0, false},
		{"window of one", historyOf(a, a), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLoop(tt.turns, tt.window); got != tt.want {
				t.Errorf("DetectLoop = %v, want %v", got, tt.want)
			}
		})
	}
}
