package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"webagent/internal/config"
	"webagent/internal/types"
)

func testConfig() config.KnowledgeConfig {
	cfg := config.DefaultConfig().Knowledge
	cfg.Enabled = true
	return cfg
}

func openTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "episodes.db"), nil)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

// failingEmbedder simulates an unreachable embedding API.
type failingEmbedder struct{}

func (failingEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding api down")
}

func TestLocalStore_EmbedderFailureFallsBackToKeyword(t *testing.T) {
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "episodes.db"), failingEmbedder{})
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer store.Close(context.Background())
	ctx := context.Background()

	ep := types.EpisodeRecord{Name: "Create event", Content: "click create button", Source: types.SourceEpisode}
	if err := store.AddEpisode(ctx, ep, "g"); err != nil {
		t.Fatalf("AddEpisode with failing embedder must still store: %v", err)
	}

	got := store.SearchEpisodes(ctx, "create", "g", 5)
	if len(got) != 1 {
		t.Fatalf("keyword fallback returned %d records, want 1", len(got))
	}
}

func TestEncodeFloat32SliceToBlob(t *testing.T) {
	blob := encodeFloat32SliceToBlob([]float32{1, 0.5, -2})
	if len(blob) != 12 {
		t.Fatalf("blob length = %d, want 12 (4 bytes per float)", len(blob))
	}
	// Little-endian 1.0 is 00 00 80 3f.
	if blob[0] != 0x00 || blob[1] != 0x00 || blob[2] != 0x80 || blob[3] != 0x3f {
		t.Errorf("unexpected encoding of 1.0: % x", blob[:4])
	}
	if got := encodeFloat32SliceToBlob(nil); len(got) != 0 {
		t.Errorf("nil vector should encode to empty blob, got %d bytes", len(got))
	}
}

func TestLocalStore_AddAndSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	episodes := []types.EpisodeRecord{
		{Name: "Create event in Google Calendar", Content: "Step 1: click create button", Source: types.SourceEpisode},
		{Name: "Delete task in Google Keep", Content: "Step 1: open the note", Source: types.SourceEpisode},
	}
	for _, ep := range episodes {
		if err := store.AddEpisode(ctx, ep, "trajectory_context"); err != nil {
			t.Fatalf("AddEpisode failed: %v", err)
		}
	}

	got := store.SearchEpisodes(ctx, "create event", "trajectory_context", 5)
	if len(got) == 0 {
		t.Fatal("search returned no records")
	}
	if got[0].Source != types.SourceEpisode {
		t.Errorf("record source = %s, want episode", got[0].Source)
	}

	// Scoped by group: a different group sees nothing.
	if got := store.SearchEpisodes(ctx, "create event", "other_group", 5); len(got) != 0 {
		t.Errorf("group scoping leaked %d records", len(got))
	}
}

func TestLocalStore_SearchEntities(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ep := types.EpisodeRecord{
		Name:    "Schedule weekly sync",
		Content: "Recurring event setup",
		Source:  types.SourceEntity,
	}
	if err := store.AddEpisode(ctx, ep, "g"); err != nil {
		t.Fatalf("AddEpisode failed: %v", err)
	}

	got := store.SearchEntities(ctx, "schedule", "Trajectory", 5)
	if len(got) != 1 {
		t.Fatalf("got %d entity records, want 1", len(got))
	}
	if got[0].Source != types.SourceEntity {
		t.Errorf("record source = %s, want entity", got[0].Source)
	}

	// Episodes are not tagged with the entity label.
	if got := store.SearchEntities(ctx, "schedule", "Other", 5); len(got) != 0 {
		t.Errorf("label scoping leaked %d records", len(got))
	}
}

func TestLocalStore_ReplaceByName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := types.EpisodeRecord{Name: "same name", Content: "old content", Source: types.SourceEpisode}
	second := types.EpisodeRecord{Name: "same name", Content: "new content", Source: types.SourceEpisode,
		CreatedAt: time.Now().UTC().Add(time.Minute)}

	if err := store.AddEpisode(ctx, first, "g"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddEpisode(ctx, second, "g"); err != nil {
		t.Fatal(err)
	}

	got := store.SearchEpisodes(ctx, "content", "g", 5)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 after replace", len(got))
	}
	if got[0].Content != "new content" {
		t.Errorf("content = %q, want the replacement", got[0].Content)
	}
}

func TestLocalStore_NeverErrorsOnSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Empty query, closed context, silly limits: all must degrade to empty.
	if got := store.SearchEpisodes(ctx, "   ", "g", 5); got != nil {
		t.Errorf("empty query returned %d records", len(got))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if got := store.SearchEpisodes(cancelled, "anything", "g", 5); len(got) != 0 {
		t.Errorf("cancelled context returned %d records", len(got))
	}

	store.Close(ctx)
	if got := store.SearchEpisodes(ctx, "anything", "g", 5); got != nil {
		t.Errorf("closed store returned %d records", len(got))
	}
}

// =============================================================================
// NOOP STORE TESTS
// =============================================================================

func TestNoopStore(t *testing.T) {
	var store Store = NoopStore{}
	ctx := context.Background()

	if store.Available() {
		t.Error("noop store reports available")
	}
	if got := store.SearchEpisodes(ctx, "q", "g", 5); got != nil {
		t.Errorf("noop search returned %v", got)
	}
	if got := store.SearchEntities(ctx, "q", "l", 5); got != nil {
		t.Errorf("noop entity search returned %v", got)
	}
	if err := store.AddEpisode(ctx, types.EpisodeRecord{Name: "x"}, "g"); err == nil {
		t.Error("noop AddEpisode should refuse writes")
	}
	if err := store.Close(ctx); err != nil {
		t.Errorf("noop Close: %v", err)
	}
}

func TestOpen_DisabledAndUnknownBackend(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Enabled = false
	if _, ok := Open(ctx, cfg, nil).(NoopStore); !ok {
		t.Error("disabled config should yield NoopStore")
	}

	cfg = testConfig()
	cfg.Backend = "weird"
	if _, ok := Open(ctx, cfg, nil).(NoopStore); !ok {
		t.Error("unknown backend should yield NoopStore")
	}

	cfg = testConfig()
	cfg.Backend = "none"
	if _, ok := Open(ctx, cfg, nil).(NoopStore); !ok {
		t.Error("backend none should yield NoopStore")
	}
}

func TestOpen_Sqlite(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = "sqlite"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "episodes.db")

	store := Open(context.Background(), cfg, nil)
	defer store.Close(context.Background())

	if !store.Available() {
		t.Error("sqlite store should be available")
	}
}
