package trajcontext

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"webagent/internal/types"
)

// Fixed framing strings for the context block.
const (
	// EmptyContextMessage is the canonical empty-context representation.
	// Downstream consumers treat absence of history as normal.
	EmptyContextMessage = "No relevant past trajectories found."

	contextHeader = "Previous trajectories and solution steps that worked:"
	contextFooter = "You can use these as reference to determine your next step."

	truncationMarker = "\n... [context truncated]"

	// maxExcerptLen caps the per-record content excerpt.
	maxExcerptLen = 400
)

// FormatContext renders retrieved records into a single text block. It is a
// pure function of its inputs: record order is preserved exactly as merged
// (episodes before entities), and the same inputs always produce the same
// bytes. maxLen bounds the whole block; zero or negative means unbounded.
func FormatContext(instruction, platform, taskType string, records []types.EpisodeRecord, maxLen int) string {
	if len(records) == 0 {
		return EmptyContextMessage
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Instruction: %s\n", instruction)
	fmt.Fprintf(&b, "Platform: %s | Task type: %s\n", platform, taskType)
	fmt.Fprintf(&b, "Found %d relevant past trajectories.\n\n", len(records))

	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Name)
		if !rec.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "   Recorded: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(&b, "   Source: %s\n", rec.Source)
		if excerpt := rec.Excerpt(maxExcerptLen); excerpt != "" {
			fmt.Fprintf(&b, "   %s\n", excerpt)
		}
		b.WriteString("\n")
	}

	b.WriteString(contextFooter)

	block := b.String()
	if maxLen > 0 && len(block) > maxLen {
		block = truncateToRune(block, maxLen) + truncationMarker
	}
	return block
}

// truncateToRune cuts s to at most max bytes without splitting a UTF-8 rune.
func truncateToRune(s string, max int) string {
	if max >= len(s) {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// MergeRecords combines episode and entity results append-only: episodes
// first, then entities, duplicates removed by name, capped at max. Episodes
// are preferred when the combined count exceeds the cap. No re-sorting.
func MergeRecords(episodes, entities []types.EpisodeRecord, max int) []types.EpisodeRecord {
	if max <= 0 {
		max = 5
	}

	seen := make(map[string]bool, len(episodes)+len(entities))
	merged := make([]types.EpisodeRecord, 0, max)

	for _, rec := range append(append([]types.EpisodeRecord{}, episodes...), entities...) {
		if len(merged) >= max {
			break
		}
		name := strings.TrimSpace(rec.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		merged = append(merged, rec)
	}
	return merged
}
