package knowledge

import (
	"context"
	"strings"
	"testing"
)

func TestNewGraphStore_RequiresURI(t *testing.T) {
	cfg := testConfig()
	cfg.URI = ""

	if _, err := NewGraphStore(context.Background(), cfg); err == nil {
		t.Error("expected error without a URI")
	}
}

// Every index the search queries read must be created by the bootstrap DDL,
// or a fresh database would error on each query and the boundary would turn
// that into permanently empty context.
func TestIndexStatements_CoverSearchIndexes(t *testing.T) {
	stmts := strings.Join(indexStatements(), "\n")

	for _, idx := range []string{episodeIndex, entityIndex} {
		if !strings.Contains(stmts, "INDEX "+idx+" ") {
			t.Errorf("no CREATE statement for index %q queried by search", idx)
		}
	}
}
