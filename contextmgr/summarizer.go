package contextmgr

import (
	"context"
	"strings"

	"github.com/workspace-agents/orchestrator/core/protocol"
)

// NewTruncatingSummarizer returns the deterministic fallback summarizer:
// it joins role-prefixed message lines and truncates the result to the
// target length. Used when no LLM-backed summarizer is configured; being
// a pure function of its input, it is trivially idempotent.
func NewTruncatingSummarizer() Summarizer {
	return SummarizerFunc(func(ctx context.Context, old []protocol.Message, targetLength int) (string, error) {
		var b strings.Builder
		for i, m := range old {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(string(m.Role))
			b.WriteString(": ")
			b.WriteString(m.Content)
		}

		text := b.String()
		if targetLength > 0 && len(text) > targetLength {
			text = text[:targetLength]
		}
		return text, nil
	})
}
