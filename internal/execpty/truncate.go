package execpty

import (
	"fmt"
	"strings"
)

const bytesPerToken = 4

// middleTruncate fits s within maxOutputTokens*4 bytes by eliding the
// middle, preferring to cut on newline boundaries, and leaving an elision
// marker on its own line. If s already fits, it is returned unchanged with
// no marker inserted.
func middleTruncate(s string, maxOutputTokens int) string {
	maxBytes := maxOutputTokens * bytesPerToken
	if len(s) <= maxBytes {
		return s
	}

	elidedBytes := len(s) - maxBytes
	tokensElided := elidedBytes / bytesPerToken
	if tokensElided < 1 {
		tokensElided = 1
	}
	marker := fmt.Sprintf("…%d tokens truncated…\n", tokensElided)

	budget := maxBytes - len(marker)
	if budget < 0 {
		budget = 0
	}
	headBudget := budget / 2
	tailBudget := budget - headBudget

	head := s
	if headBudget < len(head) {
		head = head[:headBudget]
	}
	if idx := strings.LastIndexByte(head, '\n'); idx >= 0 {
		head = head[:idx+1]
	}

	tailStart := len(s) - tailBudget
	if tailStart < 0 {
		tailStart = 0
	}
	tail := s[tailStart:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}

	return head + marker + tail
}
