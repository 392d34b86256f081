package agentloop

import (
	"bytes"
	"io"
	"sync"
)

// limitedBuffers captures stdout and stderr against one shared byte budget.
// Writes past the budget are discarded but reported as successful so the
// child process never blocks on a full pipe.
type limitedBuffers struct {
	max int

	mu        sync.Mutex
	used      int
	truncated bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newLimitedBuffers(max int) *limitedBuffers {
	if max <= 0 {
		max = 1
	}
	return &limitedBuffers{max: max}
}

func (b *limitedBuffers) Stdout() io.Writer { return limitedWriter{b: b, dst: &b.stdout} }
func (b *limitedBuffers) Stderr() io.Writer { return limitedWriter{b: b, dst: &b.stderr} }

func (b *limitedBuffers) StdoutString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdout.String()
}

func (b *limitedBuffers) StderrString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stderr.String()
}

func (b *limitedBuffers) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

type limitedWriter struct {
	b   *limitedBuffers
	dst *bytes.Buffer
}

func (w limitedWriter) Write(p []byte) (int, error) {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()

	remain := w.b.max - w.b.used
	n := len(p)
	if n > remain {
		n = remain
		w.b.truncated = true
	}
	if n > 0 {
		w.dst.Write(p[:n])
		w.b.used += n
	}
	return len(p), nil
}
