// Package knowledge provides read access to the episodic memory of past web
// trajectories. The store lives behind the EpisodeSearcher interface so the
// retrieval flow is oblivious to the backend (neo4j, local sqlite, or an
// in-memory mock in tests).
//
// Failure policy: search calls never return errors. Connectivity problems,
// query failures and timeouts are logged at this boundary and yield empty
// results - trajectory context is strictly best-effort.
package knowledge

import (
	"context"
	"fmt"

	"webagent/internal/config"
	"webagent/internal/logging"
	"webagent/internal/types"
)

// EpisodeSearcher is the read surface of the episode store.
type EpisodeSearcher interface {
	// SearchEpisodes performs semantic/textual search over stored episodes
	// scoped to a group, returning at most limit records in the store's own
	// relevance order. No local re-ranking is performed.
	SearchEpisodes(ctx context.Context, query, groupID string, limit int) []types.EpisodeRecord

	// SearchEntities looks up nodes tagged with a specific entity label
	// (e.g. "Trajectory"), same ordering contract as SearchEpisodes.
	SearchEntities(ctx context.Context, query, entityLabel string, limit int) []types.EpisodeRecord

	// Available reports whether the backing store is reachable.
	Available() bool
}

// EpisodeWriter is implemented by backends that accept new episodes.
type EpisodeWriter interface {
	AddEpisode(ctx context.Context, ep types.EpisodeRecord, groupID string) error
}

// Embedder produces a vector embedding for a text. The local store uses it
// for semantic search when built with the sqlite_vec tag; a nil Embedder
// degrades to keyword search.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Store combines the read and write surfaces.
type Store interface {
	EpisodeSearcher
	EpisodeWriter
	Close(ctx context.Context) error
}

// =============================================================================
// NOOP STORE
// =============================================================================

// NoopStore satisfies Store with empty results. It stands in when the
// trajectory-context feature is disabled or the real store could not be
// reached at startup, so callers never need a nil check.
type NoopStore struct{}

func (NoopStore) SearchEpisodes(context.Context, string, string, int) []types.EpisodeRecord {
	return nil
}

func (NoopStore) SearchEntities(context.Context, string, string, int) []types.EpisodeRecord {
	return nil
}

func (NoopStore) AddEpisode(context.Context, types.EpisodeRecord, string) error {
	return fmt.Errorf("episode store unavailable")
}

func (NoopStore) Available() bool             { return false }
func (NoopStore) Close(context.Context) error { return nil }

// =============================================================================
// FACTORY
// =============================================================================

// Open constructs the configured episode store. Construction failure is not
// an error for the caller: the feature degrades to a NoopStore and the reason
// is logged once. Reconnection is out of scope for the process lifetime.
// embedder may be nil; only the sqlite backend uses it.
func Open(ctx context.Context, cfg config.KnowledgeConfig, embedder Embedder) Store {
	if !cfg.Enabled {
		logging.Knowledge("Trajectory context disabled by config")
		return NoopStore{}
	}

	switch cfg.Backend {
	case "neo4j":
		store, err := NewGraphStore(ctx, cfg)
		if err != nil {
			logging.KnowledgeWarn("Episode store unavailable, continuing without context: %v", err)
			return NoopStore{}
		}
		return store
	case "sqlite":
		store, err := NewLocalStore(cfg.DatabasePath, embedder)
		if err != nil {
			logging.KnowledgeWarn("Local episode store unavailable, continuing without context: %v", err)
			return NoopStore{}
		}
		return store
	case "none", "":
		return NoopStore{}
	default:
		logging.KnowledgeWarn("Unknown knowledge backend %q, continuing without context", cfg.Backend)
		return NoopStore{}
	}
}
