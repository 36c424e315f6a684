package trajcontext

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"webagent/internal/config"
	"webagent/internal/knowledge"
	"webagent/internal/logging"
	"webagent/internal/types"
)

// Builder runs the full retrieval flow for one instruction: extract labels,
// query the episode store, merge, format. Builders are stateless per call
// and safe for concurrent use across instructions; the store performs only
// reads during this flow.
type Builder struct {
	store     knowledge.EpisodeSearcher
	extractor *Extractor
	cfg       config.KnowledgeConfig
}

// NewBuilder creates a context builder. The store decides availability; a
// knowledge.NoopStore yields empty context with no special-casing here.
func NewBuilder(store knowledge.EpisodeSearcher, extractor *Extractor, cfg config.KnowledgeConfig) *Builder {
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	return &Builder{store: store, extractor: extractor, cfg: cfg}
}

// Enabled reports whether context retrieval will do anything at all.
func (b *Builder) Enabled() bool {
	return b != nil && b.cfg.Enabled && b.store != nil && b.store.Available()
}

// Build produces the context block for an instruction. It returns "" when
// the feature is disabled or the store is unreachable, and the canonical
// empty-context message when the store answers with nothing. It never
// returns an error; every failure mode degrades to less context.
func (b *Builder) Build(ctx context.Context, instruction, url string) string {
	if !b.Enabled() {
		return ""
	}

	timer := logging.StartTimer(logging.CategoryContext, "Build trajectory context")
	defer timer.Stop()

	platform, taskType := b.extractor.Extract(ctx, instruction, url)

	// The two store queries are independent reads; issue them concurrently.
	// Each gets its own timeout so a slow store degrades to empty results.
	var episodes, entities []types.EpisodeRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(gctx, b.cfg.QueryTimeoutDuration())
		defer cancel()
		query := fmt.Sprintf("%s in %s", instruction, platform)
		episodes = b.store.SearchEpisodes(qctx, query, b.cfg.GroupID, b.cfg.MaxRecords)
		return nil
	})
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(gctx, b.cfg.QueryTimeoutDuration())
		defer cancel()
		entities = b.store.SearchEntities(qctx, taskType, b.cfg.EntityLabel, b.cfg.MaxRecords)
		return nil
	})
	_ = g.Wait() // search calls absorb their own failures

	merged := MergeRecords(episodes, entities, b.cfg.MaxRecords)
	block := FormatContext(instruction, platform, taskType, merged, b.cfg.MaxContextLength)

	logging.Context("Trajectory context: %d episodes + %d entities -> %d records (%d bytes)",
		len(episodes), len(entities), len(merged), len(block))
	logging.ContextDebug("Context preview: %s", preview(block, 200))
	return block
}

// BuildAndInject is the one-call form used by the pipeline.
func (b *Builder) BuildAndInject(ctx context.Context, payload types.PromptPayload, instruction, url string) types.PromptPayload {
	return Inject(payload, b.Build(ctx, instruction, url))
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
