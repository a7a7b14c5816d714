package ingest

import (
	"strings"
	"time"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// Extract computes size and shape metrics over the normalized text.
// Skipped states pass through untouched.
func Extract(sctx StageContext, s State) (State, *apierr.ServiceError) {
	if s.Skipped {
		return s, nil
	}

	s.ByteSize = len(s.Normalized)
	s.CharCount = len([]rune(s.Normalized))
	s.LineCount = countLines(s.Normalized)
	s.WordCount = countWords(s.Normalized)
	s.ExtractedAt = time.Now().UTC()

	return s, nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
