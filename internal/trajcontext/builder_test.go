package trajcontext

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"webagent/internal/config"
	"webagent/internal/knowledge"
	"webagent/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockStore is a scripted EpisodeSearcher that records the queries it gets.
type mockStore struct {
	episodes  []types.EpisodeRecord
	entities  []types.EpisodeRecord
	available bool

	episodeQuery string
	entityQuery  string
}

func (m *mockStore) SearchEpisodes(_ context.Context, query, _ string, _ int) []types.EpisodeRecord {
	m.episodeQuery = query
	return m.episodes
}

func (m *mockStore) SearchEntities(_ context.Context, query, _ string, _ int) []types.EpisodeRecord {
	m.entityQuery = query
	return m.entities
}

func (m *mockStore) Available() bool { return m.available }

func testKnowledgeConfig() config.KnowledgeConfig {
	cfg := config.DefaultConfig().Knowledge
	cfg.Enabled = true
	return cfg
}

func TestBuilder_EndToEnd(t *testing.T) {
	store := &mockStore{
		available: true,
		episodes: []types.EpisodeRecord{
			{Name: "Create event in Google Calendar", Content: "Step 1: click Create", Source: types.SourceEpisode},
			{Name: "Invite guest in Google Calendar", Content: "Step 1: open event", Source: types.SourceEpisode},
		},
		entities: []types.EpisodeRecord{
			{Name: "Schedule weekly sync", Content: "Step 1: pick slot", Source: types.SourceEntity},
		},
	}

	b := NewBuilder(store, NewExtractor(nil), testKnowledgeConfig())
	block := b.Build(context.Background(),
		"Schedule a meeting with John tomorrow at 2pm", "https://calendar.google.com")

	for _, want := range []string{
		"Google Calendar",
		"Schedule Event",
		"Found 3 relevant past trajectories",
		"Create event in Google Calendar",
		"Schedule weekly sync",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}

	// The episode query embeds the platform label alongside the instruction.
	if store.episodeQuery != "Schedule a meeting with John tomorrow at 2pm in Google Calendar" {
		t.Errorf("unexpected episode query: %q", store.episodeQuery)
	}
	if store.entityQuery != "Schedule Event" {
		t.Errorf("unexpected entity query: %q", store.entityQuery)
	}
}

func TestBuilder_EmptyStoreResults(t *testing.T) {
	store := &mockStore{available: true}
	b := NewBuilder(store, NewExtractor(nil), testKnowledgeConfig())

	block := b.Build(context.Background(), "anything", "")
	if block != EmptyContextMessage {
		t.Errorf("got %q, want the canonical empty message", block)
	}
}

func TestBuilder_DisabledYieldsEmptyBlock(t *testing.T) {
	cfg := testKnowledgeConfig()
	cfg.Enabled = false

	b := NewBuilder(&mockStore{available: true}, NewExtractor(nil), cfg)
	if b.Enabled() {
		t.Error("builder reports enabled with feature off")
	}
	if block := b.Build(context.Background(), "anything", ""); block != "" {
		t.Errorf("disabled builder produced %q", block)
	}
}

func TestBuilder_UnavailableStore(t *testing.T) {
	b := NewBuilder(knowledge.NoopStore{}, NewExtractor(nil), testKnowledgeConfig())
	if b.Enabled() {
		t.Error("builder reports enabled with unreachable store")
	}
	if block := b.Build(context.Background(), "anything", ""); block != "" {
		t.Errorf("unreachable store produced %q", block)
	}
}

func TestBuilder_InjectFlow(t *testing.T) {
	store := &mockStore{
		available: true,
		episodes:  []types.EpisodeRecord{{Name: "past run", Content: "steps", Source: types.SourceEpisode}},
	}
	b := NewBuilder(store, NewExtractor(nil), testKnowledgeConfig())

	payload := types.PromptPayload{TaskDescription: "Delete the standup event"}
	out := b.BuildAndInject(context.Background(), payload, "Delete the standup event", "https://calendar.google.com")

	if !strings.HasSuffix(out.TaskDescription, "Delete the standup event") {
		t.Errorf("original task not preserved at the end: %q", out.TaskDescription)
	}
	if !strings.Contains(out.TaskDescription, "past run") {
		t.Errorf("retrieved record not in prompt: %q", out.TaskDescription)
	}
}

func TestBuilder_CapAtMaxRecords(t *testing.T) {
	store := &mockStore{available: true}
	for i := 0; i < 10; i++ {
		store.episodes = append(store.episodes, types.EpisodeRecord{
			Name: strings.Repeat("e", i+1), Source: types.SourceEpisode,
		})
		store.entities = append(store.entities, types.EpisodeRecord{
			Name: strings.Repeat("n", i+1), Source: types.SourceEntity,
		})
	}

	b := NewBuilder(store, NewExtractor(nil), testKnowledgeConfig())
	block := b.Build(context.Background(), "anything", "")
	if !strings.Contains(block, "Found 5 relevant past trajectories") {
		t.Errorf("cap not applied:\n%s", block)
	}
}
