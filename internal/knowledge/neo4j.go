package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"webagent/internal/config"
	"webagent/internal/logging"
	"webagent/internal/types"
)

// Fulltext indexes queried by the graph store. EnsureIndexes creates them.
const (
	episodeIndex = "episode_content"
	entityIndex  = "entity_names"
)

// GraphStore is the neo4j-backed episode store. Connectivity is verified at
// construction; afterwards the driver is used read-only across calls and is
// safe for concurrent use.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraphStore connects to neo4j, verifies connectivity and creates the
// fulltext indexes the search queries depend on. Any failure here means the
// store is unavailable for the process lifetime: a store without its indexes
// would answer every query with an error, which the boundary would silently
// turn into permanently empty context.
func NewGraphStore(ctx context.Context, cfg config.KnowledgeConfig) (*GraphStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: no URI configured")
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.QueryTimeoutDuration()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeoutDuration())
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	store := &GraphStore{driver: driver, database: cfg.Database}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	logging.Knowledge("Connected to episode store at %s", cfg.URI)
	return store, nil
}

// Available reports whether the driver is usable.
func (s *GraphStore) Available() bool {
	return s != nil && s.driver != nil
}

// Close releases the driver.
func (s *GraphStore) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	return err
}

// indexStatements returns the DDL for every fulltext index the search
// queries rely on. Idempotent via IF NOT EXISTS.
func indexStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS
			FOR (e:Episode) ON EACH [e.name, e.content]`, episodeIndex),
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS
			FOR (n:Entity) ON EACH [n.name, n.summary]`, entityIndex),
	}
}

// EnsureIndexes creates the fulltext indexes used by the search queries.
// Called from NewGraphStore so a connected store always has queryable
// indexes; safe to call repeatedly.
func (s *GraphStore) EnsureIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, stmt := range indexStatements() {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: create index: %w", err)
		}
	}
	return nil
}

// SearchEpisodes runs a fulltext query over episode nodes scoped by group.
// Results come back in the index's score order.
func (s *GraphStore) SearchEpisodes(ctx context.Context, query, groupID string, limit int) []types.EpisodeRecord {
	if !s.Available() || query == "" {
		return nil
	}
	cypher := fmt.Sprintf(`
		CALL db.index.fulltext.queryNodes('%s', $query) YIELD node, score
		WHERE node.group_id = $group_id
		RETURN node
		LIMIT $limit`, episodeIndex)

	records := s.readRecords(ctx, cypher, map[string]interface{}{
		"query":    query,
		"group_id": groupID,
		"limit":    int64(limit),
	}, types.SourceEpisode)

	logging.KnowledgeDebug("Episode search %q (group=%s) returned %d records", query, groupID, len(records))
	return records
}

// SearchEntities runs a fulltext query restricted to nodes carrying the
// given label.
func (s *GraphStore) SearchEntities(ctx context.Context, query, entityLabel string, limit int) []types.EpisodeRecord {
	if !s.Available() || query == "" {
		return nil
	}
	cypher := fmt.Sprintf(`
		CALL db.index.fulltext.queryNodes('%s', $query) YIELD node, score
		WHERE $label IN labels(node)
		RETURN node
		LIMIT $limit`, entityIndex)

	records := s.readRecords(ctx, cypher, map[string]interface{}{
		"query": query,
		"label": entityLabel,
		"limit": int64(limit),
	}, types.SourceEntity)

	logging.KnowledgeDebug("Entity search %q (label=%s) returned %d records", query, entityLabel, len(records))
	return records
}

// readRecords executes a read query and maps result nodes to EpisodeRecords.
// All failures are absorbed here.
func (s *GraphStore) readRecords(ctx context.Context, cypher string, params map[string]interface{}, source types.RecordSource) []types.EpisodeRecord {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		var records []types.EpisodeRecord
		for res.Next(ctx) {
			raw, ok := res.Record().Get("node")
			if !ok {
				continue
			}
			node, ok := raw.(neo4j.Node)
			if !ok {
				continue
			}
			records = append(records, nodeToRecord(node, source))
		}
		return records, res.Err()
	})
	if err != nil {
		logging.KnowledgeWarn("Episode store query failed: %v", err)
		return nil
	}
	return result.([]types.EpisodeRecord)
}

func nodeToRecord(node neo4j.Node, source types.RecordSource) types.EpisodeRecord {
	rec := types.EpisodeRecord{Source: source}
	if v, ok := node.Props["name"].(string); ok {
		rec.Name = v
	}
	if v, ok := node.Props["content"].(string); ok {
		rec.Content = v
	} else if v, ok := node.Props["summary"].(string); ok {
		rec.Content = v
	}
	if v, ok := node.Props["group_id"].(string); ok {
		rec.GroupID = v
	}
	switch v := node.Props["created_at"].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			rec.CreatedAt = ts
		}
	case time.Time:
		rec.CreatedAt = v
	}
	return rec
}

// AddEpisode writes an episode node into the graph, keyed by name.
func (s *GraphStore) AddEpisode(ctx context.Context, ep types.EpisodeRecord, groupID string) error {
	if !s.Available() {
		return fmt.Errorf("neo4j: store unavailable")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	created := ep.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		cypher := `
			MERGE (e:Episode {name: $name})
			SET e.content = $content,
				e.group_id = $group_id,
				e.created_at = $created_at`
		return tx.Run(ctx, cypher, map[string]interface{}{
			"name":       ep.Name,
			"content":    ep.Content,
			"group_id":   groupID,
			"created_at": created.Format(time.RFC3339),
		})
	})
	if err != nil {
		return fmt.Errorf("neo4j: add episode %q: %w", ep.Name, err)
	}
	return nil
}
