package types

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExcerpt(t *testing.T) {
	rec := EpisodeRecord{Content: "  click the create button  "}
	if got := rec.Excerpt(100); got != "click the create button" {
		t.Errorf("short content should come back trimmed, got %q", got)
	}
	if got := rec.Excerpt(0); got != "click the create button" {
		t.Errorf("max <= 0 should mean unbounded, got %q", got)
	}

	long := EpisodeRecord{Content: strings.Repeat("x", 50)}
	got := long.Excerpt(10)
	if got != strings.Repeat("x", 10)+"..." {
		t.Errorf("truncated excerpt = %q", got)
	}
}

func TestExcerpt_RuneBoundary(t *testing.T) {
	rec := EpisodeRecord{Content: strings.Repeat("予定を削除", 20)}
	// Every cap in this range lands inside a 3-byte rune at least once.
	for max := 7; max < 20; max++ {
		got := rec.Excerpt(max)
		if !utf8.ValidString(got) {
			t.Fatalf("max %d produced invalid UTF-8: %q", max, got)
		}
		if len(got) > max+len("...") {
			t.Errorf("max %d: excerpt length %d exceeds cap", max, len(got))
		}
	}
}
