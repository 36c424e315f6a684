package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"webagent/internal/types"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Knowledge.GroupID != "trajectory_context" {
		t.Errorf("expected GroupID=trajectory_context, got %s", cfg.Knowledge.GroupID)
	}
	if cfg.Knowledge.EntityLabel != "Trajectory" {
		t.Errorf("expected EntityLabel=Trajectory, got %s", cfg.Knowledge.EntityLabel)
	}
	if cfg.Knowledge.MaxRecords != 5 {
		t.Errorf("expected MaxRecords=5, got %d", cfg.Knowledge.MaxRecords)
	}
	if cfg.Knowledge.MaxContextLength != 3000 {
		t.Errorf("expected MaxContextLength=3000, got %d", cfg.Knowledge.MaxContextLength)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("NEO4J_URI", "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Knowledge.MaxRecords != 5 {
		t.Errorf("defaults not applied: MaxRecords=%d", cfg.Knowledge.MaxRecords)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".webagent")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte("knowledge:\n  enabled: true\n  backend: sqlite\n  max_records: 3\n")
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), yaml, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NEO4J_URI", "bolt://envhost:7687")
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Knowledge.Backend != "sqlite" || cfg.Knowledge.MaxRecords != 3 {
		t.Errorf("file values not applied: %+v", cfg.Knowledge)
	}
	if cfg.Knowledge.URI != "bolt://envhost:7687" {
		t.Errorf("env override not applied: %s", cfg.Knowledge.URI)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("GEMINI_API_KEY not applied: %s", cfg.LLM.APIKey)
	}
}

func TestQueryTimeoutDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{"", 10 * time.Second},
		{"garbage", 10 * time.Second},
		{"-3s", 10 * time.Second},
	}
	for _, tt := range tests {
		k := KnowledgeConfig{QueryTimeout: tt.raw}
		if got := k.QueryTimeoutDuration(); got != tt.want {
			t.Errorf("QueryTimeoutDuration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

// =============================================================================
// ACCOUNT DISTRIBUTION TESTS
// =============================================================================

func TestDistributeAccounts(t *testing.T) {
	accounts := []types.Account{
		{Email: "a@x"}, {Email: "b@x"}, {Email: "c@x"},
	}

	tests := []struct {
		name     string
		total    int
		numToUse int
		want     [][2]int // start, end per account
	}{
		{"even split", 9, 3, [][2]int{{0, 3}, {3, 6}, {6, 9}}},
		{"remainder goes to first accounts", 10, 3, [][2]int{{0, 4}, {4, 7}, {7, 10}}},
		{"two remainders", 11, 3, [][2]int{{0, 4}, {4, 8}, {8, 11}}},
		{"fewer accounts than configured", 4, 2, [][2]int{{0, 2}, {2, 4}}},
		{"numToUse clamped", 6, 99, [][2]int{{0, 2}, {2, 4}, {4, 6}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistributeAccounts(accounts, tt.total, tt.numToUse)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d accounts, want %d", len(got), len(tt.want))
			}
			for i, rng := range tt.want {
				if got[i].StartIdx != rng[0] || got[i].EndIdx != rng[1] {
					t.Errorf("account %d: got [%d,%d), want [%d,%d)",
						i, got[i].StartIdx, got[i].EndIdx, rng[0], rng[1])
				}
			}
			// Ranges must tile the total exactly.
			if last := got[len(got)-1]; last.EndIdx != tt.total {
				t.Errorf("ranges end at %d, want %d", last.EndIdx, tt.total)
			}
		})
	}
}

func TestDistributeAccounts_Degenerate(t *testing.T) {
	if got := DistributeAccounts(nil, 10, 2); got != nil {
		t.Errorf("no accounts should yield nil, got %+v", got)
	}
	if got := DistributeAccounts([]types.Account{{Email: "a@x"}}, 0, 1); got != nil {
		t.Errorf("zero total should yield nil, got %+v", got)
	}
}
