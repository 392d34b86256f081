package agentloop

import "unicode/utf8"

// DefaultMaxOutputBytes bounds every tool result stored in the conversation.
const DefaultMaxOutputBytes = 50000

// TruncateOutput returns the first maxBytes bytes of output and whether
// anything was cut. The prefix is exact; no marker is appended.
func TruncateOutput(output string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(output) <= maxBytes {
		return output, false
	}
	return output[:maxBytes], true
}

// TruncateForLog shortens s for log lines, backing off to a rune boundary.
func TruncateForLog(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
