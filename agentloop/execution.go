package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/match"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns stdout followed by stderr.
func (r ExecResult) Output() string {
	return r.Stdout + r.Stderr
}

// GrepOptions configures grep behavior.
type GrepOptions struct {
	Include         string // glob matched against file base names
	CaseInsensitive bool
	MaxResults      int
}

// ExecutionEnvironment is where tools touch the outside world. Every path is
// interpreted relative to, and confined to, the working directory.
type ExecutionEnvironment interface {
	// ResolvePath returns the absolute path for p or ErrPathEscape.
	ResolvePath(p string) (string, error)

	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)
	Glob(pattern string) ([]string, error)
	Grep(ctx context.Context, pattern string, path string, opts GrepOptions) ([]string, error)

	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that child processes do not inherit.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// DefaultMaxCaptureBytes bounds how much command output is held in memory.
const DefaultMaxCaptureBytes = 1 << 20

// LocalExecutionEnvironment runs tools on the local machine, rooted at a
// working directory fixed at construction.
type LocalExecutionEnvironment struct {
	root            string // symlink-resolved absolute root
	maxCaptureBytes int
}

// NewLocalExecutionEnvironment creates a local execution environment rooted
// at workingDir (the process working directory when empty). The directory
// must exist.
func NewLocalExecutionEnvironment(workingDir string) (*LocalExecutionEnvironment, error) {
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workingDir = wd
	}
	abs, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, err
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", root)
	}
	return &LocalExecutionEnvironment{root: root, maxCaptureBytes: DefaultMaxCaptureBytes}, nil
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string { return e.root }
func (e *LocalExecutionEnvironment) Platform() string         { return runtime.GOOS }
func (e *LocalExecutionEnvironment) OSVersion() string        { return runtime.GOOS + "/" + runtime.GOARCH }

// ResolvePath confines p to the root. Relative paths are joined to the root;
// absolute paths are accepted only when they already lie inside it. Symlinks
// along the existing part of the path are resolved before the check.
func (e *LocalExecutionEnvironment) ResolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidArguments)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(e.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !within(e.root, candidate) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}
	if !within(e.root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// maxSymlinkHops bounds symlink chains followed by resolveExisting.
const maxSymlinkHops = 40

// resolveExisting evaluates symlinks on the deepest existing ancestor of path
// and re-appends the missing tail. A dangling symlink is followed to its
// target, so a link to a missing file resolves to where a write would land.
func resolveExisting(path string) (string, error) {
	return resolveHops(path, 0)
}

func resolveHops(path string, hops int) (string, error) {
	if hops > maxSymlinkHops {
		return "", fmt.Errorf("too many levels of symbolic links: %s", path)
	}
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return joinTail(resolved, tail), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(current)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			resolved, err := resolveHops(filepath.Clean(target), hops+1)
			if err != nil {
				return "", err
			}
			return joinTail(resolved, tail), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

// joinTail appends tail, which holds path elements in reverse order.
func joinTail(base string, tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		base = filepath.Join(base, tail[i])
	}
	return base
}

func (e *LocalExecutionEnvironment) rel(abs string) string {
	if r, err := filepath.Rel(e.root, abs); err == nil {
		return r
	}
	return abs
}

// ReadFile returns the raw file content. Binary files are refused.
func (e *LocalExecutionEnvironment) ReadFile(path string) (string, error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if !isText(data) {
		return "", fmt.Errorf("%s is a binary file (%s)", path, mimetype.Detect(data).String())
	}
	return string(data), nil
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

func (e *LocalExecutionEnvironment) WriteFile(path string, content string) error {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// ExecCommand runs command through /bin/sh in the root. The whole process
// group is killed when the timeout fires or ctx is cancelled.
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = e.root
	cmd.Env = append(filterEnvironment(), "PWD="+e.root)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second

	buf := newLimitedBuffers(e.maxCaptureBytes)
	cmd.Stdout = buf.Stdout()
	cmd.Stderr = buf.Stderr()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	killed := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		killed = true
		waitErr = <-done
	}

	result := &ExecResult{
		Stdout:     buf.StdoutString(),
		Stderr:     buf.StderrString(),
		Truncated:  buf.Truncated(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if killed {
		result.ExitCode = -1
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			result.TimedOut = true
			return result, fmt.Errorf("%w: command exceeded %s", ErrTimeout, timeout)
		}
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run command: %w", waitErr)
	}
	return result, nil
}

// Glob matches pattern against files under the root. "**" matches any number
// of directories. Results are root-relative and sorted.
func (e *LocalExecutionEnvironment) Glob(pattern string) ([]string, error) {
	if filepath.IsAbs(pattern) || strings.HasPrefix(filepath.Clean(pattern), "..") {
		return nil, fmt.Errorf("%w: %s", ErrPathEscape, pattern)
	}
	pattern = filepath.ToSlash(filepath.Clean(pattern))

	var matches []string
	err := filepath.WalkDir(e.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if p == e.root || d.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(e.rel(p))
		if globMatch(pattern, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// globMatch matches slash-separated paths segment by segment. A "**" segment
// matches zero or more segments; other segments use '*' and '?' wildcards.
func globMatch(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 || !match.Match(segs[0], pat[0]) {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

// Grep searches text files under path for a regular expression and returns
// "file:line:text" entries.
func (e *LocalExecutionEnvironment) Grep(ctx context.Context, pattern string, path string, opts GrepOptions) ([]string, error) {
	expr := pattern
	if opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern: %v", ErrInvalidArguments, err)
	}

	start := e.root
	if path != "" {
		if start, err = e.ResolvePath(path); err != nil {
			return nil, err
		}
	}

	var out []string
	limitHit := errors.New("limit")
	walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.Include != "" && !match.Match(d.Name(), opts.Include) {
			return nil
		}
		target := p
		if d.Type()&fs.ModeSymlink != 0 {
			if target, err = e.ResolvePath(p); err != nil {
				return nil
			}
		}
		data, err := os.ReadFile(target)
		if err != nil || !isText(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				out = append(out, fmt.Sprintf("%s:%d:%s", e.rel(p), i+1, line))
				if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
					return limitHit
				}
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, limitHit) {
		return out, walkErr
	}
	return out, nil
}
