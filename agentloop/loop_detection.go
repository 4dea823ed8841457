package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// DetectLoop reports whether the last windowSize signatures follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(sigs []string, windowSize int) bool {
	if windowSize <= 0 || len(sigs) < windowSize {
		return false
	}
	window := sigs[len(sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize == patternLen {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if window[i] != window[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
