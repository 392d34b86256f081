package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/martinemde/codeagent/agentloop"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiCyan  = "\033[96m"
	ansiRed   = "\033[91m"
)

// style decides how progress lines look on the output terminal.
type style struct {
	ansi  bool
	width int
}

func newStyle(f *os.File) style {
	s := style{width: 100}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return s
	}
	s.ansi = true
	if w, _, err := term.GetSize(fd); err == nil && w > 20 {
		s.width = w
	}
	return s
}

func (s style) wrap(code, text string) string {
	if !s.ansi {
		return text
	}
	return code + text + ansiReset
}

func (s style) prompt(text string) string { return s.wrap(ansiBold, text) }

// fit collapses text to one line no wider than the terminal.
func (s style) fit(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > s.width {
		return agentloop.TruncateForLog(text, s.width-3)
	}
	return text
}

// renderEvents prints tool progress from the session's event stream until
// the session closes. The returned channel closes when rendering is done.
func (a *app) renderEvents(w io.Writer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range a.session.Events() {
			a.renderEvent(w, ev)
		}
	}()
	return done
}

func (a *app) renderEvent(w io.Writer, ev agentloop.SessionEvent) {
	s := a.style
	switch ev.Kind {
	case agentloop.EventToolCallStart:
		line := fmt.Sprintf("> %v: %v", ev.Data["tool_name"], ev.Data["arguments"])
		fmt.Fprintln(w, s.wrap(ansiCyan, s.fit(line)))
	case agentloop.EventToolCallEnd:
		out, _ := ev.Data["output"].(string)
		line := "  " + s.fit(out)
		if isErr, _ := ev.Data["is_error"].(bool); isErr {
			fmt.Fprintln(w, s.wrap(ansiRed, line))
			return
		}
		fmt.Fprintln(w, s.wrap(ansiDim, line))
	case agentloop.EventSubagentStart:
		fmt.Fprintln(w, s.wrap(ansiCyan, s.fit(fmt.Sprintf("> subagent [%v]: %v", ev.Data["agent_type"], ev.Data["task"]))))
	case agentloop.EventSubagentEnd:
		fmt.Fprintln(w, s.wrap(ansiDim, fmt.Sprintf("  subagent finished after %v turns in %v", ev.Data["turns"], ev.Data["duration"])))
	case agentloop.EventLoopDetected:
		fmt.Fprintln(w, s.wrap(ansiRed, "  repeated tool calls detected"))
	case agentloop.EventIterationLimit:
		fmt.Fprintln(w, s.wrap(ansiRed, fmt.Sprintf("  stopped after %v model calls", ev.Data["iterations"])))
	}
}

// printUsage reports the session's token consumption.
func (a *app) printUsage(w io.Writer) {
	u := a.session.Usage()
	if u.TotalTokens == 0 && u.InputTokens == 0 {
		return
	}
	fmt.Fprintln(w, a.style.wrap(ansiDim, fmt.Sprintf("%s tokens (%s in, %s out)",
		humanize.Comma(int64(u.InputTokens+u.OutputTokens)),
		humanize.Comma(int64(u.InputTokens)),
		humanize.Comma(int64(u.OutputTokens)),
	)))
}
