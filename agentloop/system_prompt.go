package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// projectDocFiles are loaded from the working directory, in order.
var projectDocFiles = []string{"AGENTS.md", "CLAUDE.md"}

// BaseInstructions opens every system prompt.
const BaseInstructions = `You are a coding agent working in a local repository.

Loop: plan -> act with tools -> update todos -> report.

Rules:
- Use todo_write to track multi-step tasks.
- Mark tasks in_progress before starting, completed when done.
- Prefer tools over prose. Act, don't just explain.
- Use the task tool to delegate exploration or planning that would flood your context.
- After finishing, summarize what changed.`

// BuildSystemPrompt assembles the system prompt once per session: base
// instructions, the environment block and any project instruction files.
// The result must not change during the session.
func BuildSystemPrompt(env ExecutionEnvironment, model string, extra string) string {
	parts := []string{BaseInstructions, BuildEnvironmentContext(env, model)}
	if docs := DiscoverProjectDocs(env.WorkingDirectory()); docs != "" {
		parts = append(parts, "# Project instructions\n\n"+docs)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, "# User instructions\n\n"+extra)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext generates the environment block.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	isGit := isGitRepository(workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGit)
	if isGit {
		if branch := getGitBranch(workingDir); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md and CLAUDE.md from workingDir, capped
// at 32KB in total.
func DiscoverProjectDocs(workingDir string) string {
	var docs []string
	total := 0
	for _, name := range projectDocFiles {
		content, err := os.ReadFile(filepath.Join(workingDir, name))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, "## "+name+"\n\n"+text)
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

func isGitRepository(dir string) bool {
	out, err := gitOutput(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func getGitBranch(dir string) string {
	out, _ := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	return out
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
