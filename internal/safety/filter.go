package safety

import "strings"

// SafeFallback replaces any generated reply that trips the outgoing filter.
const SafeFallback = "I want to focus on supporting you through this. What you're feeling matters, and I'm here to listen. Would you like to tell me what's making things feel so hard right now?"

var harmfulReplyPatterns = []string{
	"kill yourself",
	"end your life",
	"you should die",
	"not worth living",
	"better off dead",
}

type FilterResult struct {
	ShouldFilter bool
	Text         string
}

// FilterOutgoing scans a generated reply before it is shown or spoken.
func FilterOutgoing(reply string) FilterResult {
	if reply == "" {
		return FilterResult{Text: reply}
	}

	lower := strings.ToLower(reply)
	for _, p := range harmfulReplyPatterns {
		if strings.Contains(lower, p) {
			return FilterResult{ShouldFilter: true, Text: SafeFallback}
		}
	}
	return FilterResult{Text: reply}
}
