package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// DefaultLoopWindow is how many recent tool requests DetectLoop inspects.
const DefaultLoopWindow = 10

// loopWarning is appended after the tool results when a loop is detected.
const loopWarning = "<reminder>Loop detected: your last %d tool calls repeat the same pattern. Try a different approach.</reminder>"

// requestSignature identifies a tool request by name and argument hash.
func requestSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns signatures of the last count tool requests, oldest
// first.
func recentSignatures(turns []Turn, count int) []string {
	var sigs []string
	for i := len(turns) - 1; i >= 0 && len(sigs) < count; i-- {
		if turns[i].Role != RoleAssistant {
			continue
		}
		reqs := turns[i].ToolRequests()
		for j := len(reqs) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, requestSignature(reqs[j].Name, reqs[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last window tool requests repeat a pattern
// of length 1, 2 or 3.
func DetectLoop(turns []Turn, window int) bool {
	if window <= 1 {
		return false
	}
	sigs := recentSignatures(turns, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		repeats := true
		for i := patternLen; i < window && repeats; i++ {
			repeats = sigs[i] == sigs[i%patternLen]
		}
		if repeats {
			return true
		}
	}
	return false
}
