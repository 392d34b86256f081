package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TodoStatus is the state of one todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// MaxTodoItems bounds the todo list.
const MaxTodoItems = 20

// TodoItem is one entry on the todo list.
type TodoItem struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"activeForm"`
}

// TodoTracker holds the agent's task list. The list is only ever replaced as
// a whole, and at most one item is in progress.
type TodoTracker struct {
	mu    sync.RWMutex
	items []TodoItem
}

// NewTodoTracker creates an empty tracker.
func NewTodoTracker() *TodoTracker {
	return &TodoTracker{}
}

// Update validates items and replaces the list with them, returning the
// rendered list. On error the previous list is kept.
func (t *TodoTracker) Update(items []TodoItem) (string, error) {
	validated := make([]TodoItem, 0, len(items))
	inProgress := 0
	for i, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			return "", fmt.Errorf("%w: item %d: content required", ErrInvalidArguments, i)
		}
		status := TodoStatus(strings.ToLower(string(item.Status)))
		if status == "" {
			status = TodoPending
		}
		switch status {
		case TodoPending, TodoCompleted:
		case TodoInProgress:
			inProgress++
		default:
			return "", fmt.Errorf("%w: item %d: invalid status %q", ErrInvalidArguments, i, item.Status)
		}
		active := strings.TrimSpace(item.ActiveForm)
		if active == "" {
			return "", fmt.Errorf("%w: item %d: activeForm required", ErrInvalidArguments, i)
		}
		validated = append(validated, TodoItem{Content: content, Status: status, ActiveForm: active})
	}
	if len(validated) > MaxTodoItems {
		return "", fmt.Errorf("%w: %d items, max %d", ErrTooManyItems, len(validated), MaxTodoItems)
	}
	if inProgress > 1 {
		return "", fmt.Errorf("%w: %d items in progress", ErrMultipleInProgress, inProgress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = validated
	return t.renderLocked(), nil
}

// Items returns a copy of the current list.
func (t *TodoTracker) Items() []TodoItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TodoItem(nil), t.items...)
}

// Render formats the list for the model.
func (t *TodoTracker) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.renderLocked()
}

func (t *TodoTracker) renderLocked() string {
	if len(t.items) == 0 {
		return "No todos."
	}

	var sb strings.Builder
	done := 0
	for _, item := range t.items {
		switch item.Status {
		case TodoCompleted:
			done++
			fmt.Fprintf(&sb, "[x] %s\n", item.Content)
		case TodoInProgress:
			fmt.Fprintf(&sb, "[>] %s <- %s\n", item.Content, item.ActiveForm)
		default:
			fmt.Fprintf(&sb, "[ ] %s\n", item.Content)
		}
	}
	fmt.Fprintf(&sb, "\n(%d/%d completed)", done, len(t.items))
	return sb.String()
}

// TodoToolName is the name the todo tool registers under.
const TodoToolName = "todo_write"

// TodoTool exposes tracker as the todo_write tool.
func TodoTool(tracker *TodoTracker) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        TodoToolName,
			Description: "Replace the task list. Use it to plan multi-step work and track progress. Send the full list every time.",
			Parameters: []Parameter{
				{
					Name:        "items",
					Type:        "array",
					Description: "The complete todo list.",
					Required:    true,
					Items: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"content":    map[string]any{"type": "string", "description": "Task description"},
							"status":     map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
							"activeForm": map[string]any{"type": "string", "description": "Present tense, e.g. 'Reading files'"},
						},
						"required": []string{"content", "status", "activeForm"},
					},
				},
			},
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			var items []TodoItem
			if err := args.Decode("items", &items); err != nil {
				return "", fmt.Errorf("%w: items: %v", ErrInvalidArguments, err)
			}
			return tracker.Update(items)
		},
	}
}
