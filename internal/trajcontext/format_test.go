package trajcontext

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"webagent/internal/types"
)

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestFormatContext_EmptyRecords(t *testing.T) {
	got := FormatContext("anything", "Google Calendar", "Schedule Event", nil, 3000)
	if got != EmptyContextMessage {
		t.Errorf("empty records: got %q, want %q", got, EmptyContextMessage)
	}

	// Byte-identical regardless of the other inputs.
	again := FormatContext("", "", "", []types.EpisodeRecord{}, 0)
	if again != EmptyContextMessage {
		t.Errorf("empty records with zero inputs: got %q", again)
	}
}

func TestFormatContext_HeaderContents(t *testing.T) {
	records := []types.EpisodeRecord{
		{Name: "Create event in Google Calendar", Content: "Step 1: click create", Source: types.SourceEpisode},
		{Name: "Delete event in Google Calendar", Content: "Step 1: open event", Source: types.SourceEntity},
		{Name: "Move event in Google Calendar", Content: "Step 1: drag", Source: types.SourceEpisode},
	}

	got := FormatContext("Schedule a meeting with John tomorrow at 2pm",
		"Google Calendar", "Schedule Event", records, 3000)

	for _, want := range []string{
		"Previous trajectories and solution steps that worked:",
		"Schedule a meeting with John tomorrow at 2pm",
		"Google Calendar",
		"Schedule Event",
		"Found 3 relevant past trajectories",
		"You can use these as reference to determine your next step.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted block missing %q:\n%s", want, got)
		}
	}
}

func TestFormatContext_Deterministic(t *testing.T) {
	records := []types.EpisodeRecord{
		{Name: "a", Content: "x", Source: types.SourceEpisode, CreatedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
		{Name: "b", Content: "y", Source: types.SourceEntity},
	}
	first := FormatContext("i", "p", "t", records, 3000)
	second := FormatContext("i", "p", "t", records, 3000)
	if first != second {
		t.Error("same inputs produced different blocks")
	}
	if !strings.Contains(first, "2026-06-01T12:00:00Z") {
		t.Errorf("timestamp not rendered as RFC3339:\n%s", first)
	}
}

func TestFormatContext_Truncation(t *testing.T) {
	records := []types.EpisodeRecord{
		{Name: "long", Content: strings.Repeat("step then step then ", 300), Source: types.SourceEpisode},
	}
	got := FormatContext("i", "p", "t", records, 200)
	if len(got) > 200+len(truncationMarker) {
		t.Errorf("block length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Error("truncated block missing marker")
	}
}

func TestFormatContext_TruncationKeepsRunesIntact(t *testing.T) {
	records := []types.EpisodeRecord{
		{Name: "multibyte", Content: strings.Repeat("日程を作成して確認する ", 100), Source: types.SourceEpisode},
	}
	// Sweep caps through the excerpt region so some land mid-rune.
	for maxLen := 170; maxLen < 200; maxLen++ {
		got := FormatContext("i", "p", "t", records, maxLen)
		if !utf8.ValidString(got) {
			t.Fatalf("cap %d produced invalid UTF-8: %q", maxLen, got)
		}
		if len(got) > maxLen+len(truncationMarker) {
			t.Errorf("cap %d: block length %d exceeds cap", maxLen, len(got))
		}
	}
}

// =============================================================================
// MERGE TESTS
// =============================================================================

func TestMergeRecords_CapAndPreference(t *testing.T) {
	var episodes, entities []types.EpisodeRecord
	for i := 0; i < 10; i++ {
		episodes = append(episodes, types.EpisodeRecord{
			Name: fmt.Sprintf("episode-%d", i), Source: types.SourceEpisode,
		})
		entities = append(entities, types.EpisodeRecord{
			Name: fmt.Sprintf("entity-%d", i), Source: types.SourceEntity,
		})
	}

	merged := MergeRecords(episodes, entities, 5)
	if len(merged) != 5 {
		t.Fatalf("got %d records, want 5", len(merged))
	}
	for i, rec := range merged {
		if rec.Source != types.SourceEpisode {
			t.Errorf("record %d is %s, episodes should fill the cap first", i, rec.Source)
		}
	}
}

func TestMergeRecords_DedupByName(t *testing.T) {
	episodes := []types.EpisodeRecord{
		{Name: "shared", Source: types.SourceEpisode},
		{Name: "only-episode", Source: types.SourceEpisode},
	}
	entities := []types.EpisodeRecord{
		{Name: "shared", Source: types.SourceEntity},
		{Name: " shared ", Source: types.SourceEntity}, // same after trimming
		{Name: "only-entity", Source: types.SourceEntity},
	}

	merged := MergeRecords(episodes, entities, 5)
	if len(merged) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(merged), merged)
	}
	if merged[0].Source != types.SourceEpisode || merged[0].Name != "shared" {
		t.Errorf("episode copy of duplicate should win, got %+v", merged[0])
	}
}

func TestMergeRecords_OrderPreserved(t *testing.T) {
	episodes := []types.EpisodeRecord{{Name: "e1"}, {Name: "e0"}}
	entities := []types.EpisodeRecord{{Name: "n9"}, {Name: "n2"}}

	merged := MergeRecords(episodes, entities, 5)
	want := []string{"e1", "e0", "n9", "n2"}
	for i, rec := range merged {
		if rec.Name != want[i] {
			t.Errorf("position %d: got %q, want %q (no re-sorting)", i, rec.Name, want[i])
		}
	}
}

func TestMergeRecords_SkipsEmptyNames(t *testing.T) {
	merged := MergeRecords([]types.EpisodeRecord{{Name: "  "}, {Name: "ok"}}, nil, 5)
	if len(merged) != 1 || merged[0].Name != "ok" {
		t.Errorf("unexpected merge result: %+v", merged)
	}
}
