package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/codeagent/unifiedllm"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates content blocks.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockToolRequest BlockKind = "tool_request"
	BlockToolResult  BlockKind = "tool_result"
)

// ToolRequest is a model-issued request to invoke a tool.
type ToolRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one ToolRequest, paired by ID.
type ToolResult struct {
	ToolRequestID string `json:"tool_request_id"`
	Output        string `json:"output"`
	IsError       bool   `json:"is_error"`
	Truncated     bool   `json:"truncated"`
}

// ContentBlock is one element of a turn.
type ContentBlock struct {
	Kind        BlockKind    `json:"kind"`
	Text        string       `json:"text,omitempty"`
	ToolRequest *ToolRequest `json:"tool_request,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// RequestBlock creates a tool request content block.
func RequestBlock(req ToolRequest) ContentBlock {
	return ContentBlock{Kind: BlockToolRequest, ToolRequest: &req}
}

// ResultBlock creates a tool result content block.
func ResultBlock(res ToolResult) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: &res}
}

// Turn is a single entry in the conversation.
type Turn struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewUserTurn creates a user turn from one or more text segments.
func NewUserTurn(texts ...string) Turn {
	blocks := make([]ContentBlock, 0, len(texts))
	for _, t := range texts {
		blocks = append(blocks, TextBlock(t))
	}
	return Turn{Role: RoleUser, Content: blocks, Timestamp: time.Now()}
}

// NewAssistantTurn creates an assistant turn from raw content blocks.
func NewAssistantTurn(blocks []ContentBlock) Turn {
	return Turn{Role: RoleAssistant, Content: blocks, Timestamp: time.Now()}
}

// NewToolResultsTurn creates the user turn answering a batch of tool
// requests. Notes follow the results as text blocks.
func NewToolResultsTurn(results []ToolResult, notes ...string) Turn {
	blocks := make([]ContentBlock, 0, len(results)+len(notes))
	for _, r := range results {
		blocks = append(blocks, ResultBlock(r))
	}
	for _, n := range notes {
		blocks = append(blocks, TextBlock(n))
	}
	return Turn{Role: RoleUser, Content: blocks, Timestamp: time.Now()}
}

// Text returns the concatenated text blocks of the turn.
func (t Turn) Text() string {
	var parts []string
	for _, b := range t.Content {
		if b.Kind == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolRequests returns the tool requests in block order.
func (t Turn) ToolRequests() []ToolRequest {
	var reqs []ToolRequest
	for _, b := range t.Content {
		if b.Kind == BlockToolRequest && b.ToolRequest != nil {
			reqs = append(reqs, *b.ToolRequest)
		}
	}
	return reqs
}

// ToolResults returns the tool results in block order.
func (t Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, b := range t.Content {
		if b.Kind == BlockToolResult && b.ToolResult != nil {
			results = append(results, *b.ToolResult)
		}
	}
	return results
}

// Conversation is the append-only sequence of turns exchanged with the model.
// Every assistant turn that requests tools must be followed by a user turn
// that opens with exactly one result per request, in request order. Text may
// follow the results.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds a turn after validating it against the previous one.
func (c *Conversation) Append(turn Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateTurn(turn); err != nil {
		return err
	}

	var pending []ToolRequest
	if n := len(c.turns); n > 0 && c.turns[n-1].Role == RoleAssistant {
		pending = c.turns[n-1].ToolRequests()
	}
	results := turn.ToolResults()

	if len(pending) > 0 {
		if turn.Role != RoleUser {
			return fmt.Errorf("%w: expected %d tool results", ErrUnpairedToolRequest, len(pending))
		}
		if len(results) != len(pending) {
			return fmt.Errorf("%w: got %d results for %d requests", ErrUnpairedToolRequest, len(results), len(pending))
		}
		for i := range pending {
			if turn.Content[i].Kind != BlockToolResult {
				return fmt.Errorf("%w: tool results must lead the turn", ErrUnpairedToolRequest)
			}
			if results[i].ToolRequestID != pending[i].ID {
				return fmt.Errorf("%w: result %d answers %q, want %q", ErrUnpairedToolRequest, i, results[i].ToolRequestID, pending[i].ID)
			}
		}
	} else if len(results) > 0 {
		return fmt.Errorf("%w: tool results without pending requests", ErrUnpairedToolRequest)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.turns = append(c.turns, turn.clone())
	return nil
}

func validateTurn(turn Turn) error {
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return fmt.Errorf("%w: role %q", ErrInvalidTurn, turn.Role)
	}
	if len(turn.Content) == 0 {
		return fmt.Errorf("%w: no content", ErrInvalidTurn)
	}
	seen := make(map[string]bool)
	for _, b := range turn.Content {
		switch b.Kind {
		case BlockText:
		case BlockToolRequest:
			if turn.Role != RoleAssistant || b.ToolRequest == nil || b.ToolRequest.ID == "" {
				return fmt.Errorf("%w: malformed tool request", ErrInvalidTurn)
			}
			if seen[b.ToolRequest.ID] {
				return fmt.Errorf("%w: duplicate tool request id %q", ErrInvalidTurn, b.ToolRequest.ID)
			}
			seen[b.ToolRequest.ID] = true
		case BlockToolResult:
			if turn.Role != RoleUser || b.ToolResult == nil {
				return fmt.Errorf("%w: malformed tool result", ErrInvalidTurn)
			}
		default:
			return fmt.Errorf("%w: block kind %q", ErrInvalidTurn, b.Kind)
		}
	}
	return nil
}

// Turns returns a copy of all turns.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}

// clone copies t deeply enough that no caller can reach stored blocks.
func (t Turn) clone() Turn {
	content := make([]ContentBlock, len(t.Content))
	for i, b := range t.Content {
		if b.ToolRequest != nil {
			req := *b.ToolRequest
			req.Arguments = append(json.RawMessage(nil), req.Arguments...)
			b.ToolRequest = &req
		}
		if b.ToolResult != nil {
			res := *b.ToolResult
			b.ToolResult = &res
		}
		content[i] = b
	}
	t.Content = content
	return t
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1].clone(), true
}

// FinalText returns the text of the last assistant turn, or "".
func (c *Conversation) FinalText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAssistant {
			return c.turns[i].Text()
		}
	}
	return ""
}

// Messages converts the turns into provider messages.
func (c *Conversation) Messages() []unifiedllm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	messages := make([]unifiedllm.Message, 0, len(c.turns))
	for _, turn := range c.turns {
		msg := unifiedllm.Message{Role: unifiedllm.RoleUser}
		if turn.Role == RoleAssistant {
			msg.Role = unifiedllm.RoleAssistant
		}
		for _, b := range turn.Content {
			switch b.Kind {
			case BlockText:
				msg.Content = append(msg.Content, unifiedllm.TextPart(b.Text))
			case BlockToolRequest:
				msg.Content = append(msg.Content, unifiedllm.ToolCallPart(b.ToolRequest.ID, b.ToolRequest.Name, b.ToolRequest.Arguments))
			case BlockToolResult:
				msg.Content = append(msg.Content, unifiedllm.ToolResultPart(b.ToolResult.ToolRequestID, b.ToolResult.Output, b.ToolResult.IsError))
			}
		}
		messages = append(messages, msg)
	}
	return messages
}
