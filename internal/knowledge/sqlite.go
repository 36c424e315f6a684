package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"webagent/internal/logging"
	"webagent/internal/types"
)

// LocalStore is a sqlite-backed episode store for setups without a graph
// database. When built with the sqlite_vec tag and given an Embedder, search
// ranks episodes by cosine distance over stored embeddings (see vec.go);
// otherwise it falls back to keyword matching over episode content.
type LocalStore struct {
	db       *sql.DB
	embedder Embedder
	mu       sync.RWMutex
}

const localSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	group_id TEXT NOT NULL DEFAULT '',
	entity_label TEXT NOT NULL DEFAULT '',
	embedding BLOB,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_episodes_group ON episodes(group_id);
CREATE INDEX IF NOT EXISTS idx_episodes_label ON episodes(entity_label);
`

// NewLocalStore opens (or creates) the sqlite database at path. embedder may
// be nil, which disables the semantic search path.
func NewLocalStore(path string, embedder Embedder) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	logging.Knowledge("Local episode store opened at %s (vector search: %v)",
		path, vecSearchEnabled && embedder != nil)
	return &LocalStore{db: db, embedder: embedder}, nil
}

// Available reports whether the database handle is open.
func (s *LocalStore) Available() bool {
	return s != nil && s.db != nil
}

// Close closes the database.
func (s *LocalStore) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SearchEpisodes searches episode content scoped by group, semantic when the
// vector path is active, keyword otherwise.
func (s *LocalStore) SearchEpisodes(ctx context.Context, query, groupID string, limit int) []types.EpisodeRecord {
	return s.search(ctx, query, "group_id = ?", groupID, limit, types.SourceEpisode)
}

// SearchEntities searches episodes restricted to a stored entity label.
func (s *LocalStore) SearchEntities(ctx context.Context, query, entityLabel string, limit int) []types.EpisodeRecord {
	return s.search(ctx, query, "entity_label = ?", entityLabel, limit, types.SourceEntity)
}

func (s *LocalStore) search(ctx context.Context, query, scopeCond, scopeVal string, limit int, source types.RecordSource) []types.EpisodeRecord {
	if !s.Available() {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryKnowledge, "LocalStore search")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}

	if vecSearchEnabled && s.embedder != nil {
		if records := s.vectorSearch(ctx, query, scopeCond, scopeVal, limit, source); records != nil {
			return records
		}
		// Embedding failure or no embedded rows; keyword search still works.
	}
	return s.keywordSearch(ctx, query, scopeCond, scopeVal, limit, source)
}

// vectorSearch ranks episodes by cosine distance between the query embedding
// and stored episode embeddings via sqlite-vec's vec_distance_cosine.
func (s *LocalStore) vectorSearch(ctx context.Context, query, scopeCond, scopeVal string, limit int, source types.RecordSource) []types.EpisodeRecord {
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		logging.KnowledgeWarn("Query embedding failed, falling back to keyword search: %v", err)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := fmt.Sprintf(`
		SELECT name, content, group_id, created_at,
			vec_distance_cosine(embedding, ?) AS distance
		FROM episodes
		WHERE %s AND embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?`, scopeCond)

	rows, err := s.db.QueryContext(ctx, sqlQuery, encodeFloat32SliceToBlob(embedding), scopeVal, limit)
	if err != nil {
		logging.KnowledgeWarn("Local vector search failed: %v", err)
		return nil
	}
	defer rows.Close()

	var records []types.EpisodeRecord
	for rows.Next() {
		rec := types.EpisodeRecord{Source: source}
		var created time.Time
		var distance float64
		if err := rows.Scan(&rec.Name, &rec.Content, &rec.GroupID, &created, &distance); err != nil {
			continue
		}
		rec.CreatedAt = created
		records = append(records, rec)
	}
	logging.KnowledgeDebug("Local vector search %q returned %d records", query, len(records))
	return records
}

// keywordSearch is the fallback: one LIKE condition per keyword, OR-joined,
// with recency standing in for relevance ranking.
func (s *LocalStore) keywordSearch(ctx context.Context, query, scopeCond, scopeVal string, limit int, source types.RecordSource) []types.EpisodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil
	}

	var conditions []string
	args := []interface{}{scopeVal}
	for _, kw := range keywords {
		conditions = append(conditions, "LOWER(content) LIKE ? OR LOWER(name) LIKE ?")
		args = append(args, "%"+kw+"%", "%"+kw+"%")
	}
	args = append(args, limit)

	sqlQuery := fmt.Sprintf(
		"SELECT name, content, group_id, created_at FROM episodes WHERE %s AND (%s) ORDER BY created_at DESC LIMIT ?",
		scopeCond, strings.Join(conditions, " OR "),
	)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		logging.KnowledgeWarn("Local episode search failed: %v", err)
		return nil
	}
	defer rows.Close()

	var records []types.EpisodeRecord
	for rows.Next() {
		rec := types.EpisodeRecord{Source: source}
		var created time.Time
		if err := rows.Scan(&rec.Name, &rec.Content, &rec.GroupID, &created); err != nil {
			continue
		}
		rec.CreatedAt = created
		records = append(records, rec)
	}
	return records
}

// AddEpisode inserts or replaces an episode keyed by name. When the vector
// path is active the episode content is embedded on write; an embedding
// failure stores the episode without one rather than losing it.
func (s *LocalStore) AddEpisode(ctx context.Context, ep types.EpisodeRecord, groupID string) error {
	if !s.Available() {
		return fmt.Errorf("sqlite: store unavailable")
	}

	var embedding []byte
	if vecSearchEnabled && s.embedder != nil {
		vec, err := s.embedder.EmbedText(ctx, ep.Content)
		if err != nil {
			logging.KnowledgeWarn("Episode embedding failed, storing %q without one: %v", ep.Name, err)
		} else {
			embedding = encodeFloat32SliceToBlob(vec)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := ep.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	label := ""
	if ep.Source == types.SourceEntity {
		label = "Trajectory"
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO episodes (name, content, group_id, entity_label, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ep.Name, ep.Content, groupID, label, embedding, created,
	)
	if err != nil {
		return fmt.Errorf("sqlite: add episode %q: %w", ep.Name, err)
	}
	return nil
}

// encodeFloat32SliceToBlob packs an embedding into the little-endian blob
// layout sqlite-vec expects.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
