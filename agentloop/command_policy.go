package agentloop

import (
	"fmt"
	"strings"
)

// DefaultDenylist holds substrings that block a command outright.
var DefaultDenylist = []string{
	"rm -rf /",
	"sudo",
	"shutdown",
	"reboot",
	"> /dev/",
}

// CommandPolicy screens shell commands before they run. It is a substring
// screen, not a sandbox.
type CommandPolicy struct {
	deny []string
}

// NewCommandPolicy builds a policy from denylist. A nil denylist selects
// DefaultDenylist; an empty non-nil one allows everything.
func NewCommandPolicy(denylist []string) *CommandPolicy {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	deny := make([]string, 0, len(denylist))
	for _, d := range denylist {
		if d != "" {
			deny = append(deny, d)
		}
	}
	return &CommandPolicy{deny: deny}
}

// Check returns ErrDeniedCommand if command contains a denied substring.
func (p *CommandPolicy) Check(command string) error {
	if p == nil {
		return nil
	}
	for _, d := range p.deny {
		if strings.Contains(command, d) {
			return fmt.Errorf("%w: contains %q", ErrDeniedCommand, d)
		}
	}
	return nil
}

// Denylist returns a copy of the configured substrings.
func (p *CommandPolicy) Denylist() []string {
	return append([]string(nil), p.deny...)
}
