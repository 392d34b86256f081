package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single bash invocation.
const DefaultCommandTimeout = 60 * time.Second

// CoreToolOptions configures the shell and file tools.
type CoreToolOptions struct {
	Policy         *CommandPolicy
	CommandTimeout time.Duration
}

// RegisterCoreTools registers bash, read_file, write_file, edit_file, glob
// and grep on reg.
func RegisterCoreTools(reg *ToolRegistry, opts CoreToolOptions) error {
	if opts.Policy == nil {
		opts.Policy = NewCommandPolicy(nil)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	for _, tool := range []RegisteredTool{
		bashTool(opts.Policy, opts.CommandTimeout),
		readFileTool(),
		writeFileTool(),
		editFileTool(),
		globTool(),
		grepTool(),
	} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func bashTool(policy *CommandPolicy, timeout time.Duration) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "bash",
			Description: "Run a shell command in the working directory. Returns combined stdout and stderr.",
			Parameters: []Parameter{
				{Name: "command", Type: "string", Description: "The command to run.", Required: true},
			},
			Mutating: true,
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			command, _ := args.String("command")
			if strings.TrimSpace(command) == "" {
				return "", fmt.Errorf("%w: command is empty", ErrInvalidArguments)
			}
			if err := policy.Check(command); err != nil {
				return "", err
			}

			result, err := env.ExecCommand(ctx, command, timeout)
			if err != nil {
				return "", err
			}
			out := strings.TrimSpace(result.Output())
			if result.ExitCode != 0 {
				if out != "" {
					out += "\n"
				}
				out += fmt.Sprintf("[exit code: %d]", result.ExitCode)
			}
			return out, nil
		},
	}
}

func readFileTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "read_file",
			Description: "Read a file's contents.",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the working directory.", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum number of lines to return."},
			},
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			path, _ := args.String("path")
			limit, hasLimit := args.Int("limit")
			if hasLimit && limit < 0 {
				return "", fmt.Errorf("%w: limit must not be negative", ErrInvalidArguments)
			}

			text, err := env.ReadFile(path)
			if err != nil {
				return "", err
			}
			if limit == 0 {
				return text, nil
			}
			lines := splitLines(text)
			if limit >= len(lines) {
				return text, nil
			}
			kept := append(lines[:limit:limit], fmt.Sprintf("... (%d more lines)", len(lines)-limit))
			return strings.Join(kept, "\n"), nil
		},
	}
}

// splitLines splits text on newlines, dropping the empty element a trailing
// newline would produce.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func writeFileTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed.",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the working directory.", Required: true},
				{Name: "content", Type: "string", Description: "The full file content.", Required: true},
			},
			Mutating: true,
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			path, _ := args.String("path")
			content, _ := args.String("content")
			if err := env.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func editFileTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "edit_file",
			Description: "Replace the first exact occurrence of old_text in a file with new_text.",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the working directory.", Required: true},
				{Name: "old_text", Type: "string", Description: "Exact text to find.", Required: true},
				{Name: "new_text", Type: "string", Description: "Replacement text.", Required: true},
			},
			Mutating: true,
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			path, _ := args.String("path")
			oldText, _ := args.String("old_text")
			newText, _ := args.String("new_text")
			if oldText == "" {
				return "", fmt.Errorf("%w: old_text is empty", ErrInvalidArguments)
			}

			content, err := env.ReadFile(path)
			if err != nil {
				return "", err
			}
			if !strings.Contains(content, oldText) {
				return "", fmt.Errorf("text not found in %s", path)
			}
			if err := env.WriteFile(path, strings.Replace(content, oldText, newText, 1)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	}
}

func globTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "glob",
			Description: "Find files matching a glob pattern such as \"**/*.go\". Paths are relative to the working directory.",
			Parameters: []Parameter{
				{Name: "pattern", Type: "string", Description: "Glob pattern.", Required: true},
			},
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			pattern, _ := args.String("pattern")
			matches, err := env.Glob(pattern)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func grepTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "grep",
			Description: "Search file contents with a regular expression. Returns file:line:text matches.",
			Parameters: []Parameter{
				{Name: "pattern", Type: "string", Description: "Regular expression.", Required: true},
				{Name: "path", Type: "string", Description: "Directory or file to search. Default: working directory."},
				{Name: "include", Type: "string", Description: "Only search files whose name matches this glob, e.g. \"*.go\"."},
				{Name: "case_insensitive", Type: "boolean", Description: "Ignore case."},
				{Name: "max_results", Type: "integer", Description: "Maximum matches to return. Default: 100."},
			},
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			pattern, _ := args.String("pattern")
			path, _ := args.String("path")
			include, _ := args.String("include")
			caseInsensitive, _ := args.Bool("case_insensitive")
			maxResults, ok := args.Int("max_results")
			if !ok || maxResults <= 0 {
				maxResults = 100
			}

			lines, err := env.Grep(ctx, pattern, path, GrepOptions{
				Include:         include,
				CaseInsensitive: caseInsensitive,
				MaxResults:      maxResults,
			})
			if err != nil {
				return "", err
			}
			if len(lines) == 0 {
				return "No matches found.", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}
