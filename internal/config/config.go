// Package config loads webagent configuration from .webagent/config.yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"webagent/internal/types"
)

// Config holds all webagent configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Knowledge store (trajectory context) configuration
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Browser configuration
	Browser BrowserConfig `yaml:"browser"`

	// Pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the instruction/task-type LLM calls.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	EmbedModel  string  `yaml:"embed_model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// KnowledgeConfig configures the episode store and context retrieval.
type KnowledgeConfig struct {
	// Backend selects the store implementation: "neo4j", "sqlite" or "none".
	Backend string `yaml:"backend"`

	// Enabled gates the whole trajectory-context feature. When false (or the
	// store cannot be reached at startup) the pipeline runs without context.
	Enabled bool `yaml:"enabled"`

	// Neo4j connection
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// SQLite fallback store
	DatabasePath string `yaml:"database_path"`

	// Retrieval scoping and limits
	GroupID          string `yaml:"group_id"`
	EntityLabel      string `yaml:"entity_label"`
	MaxRecords       int    `yaml:"max_records"`
	MaxContextLength int    `yaml:"max_context_length"`
	QueryTimeout     string `yaml:"query_timeout"`
}

// BrowserConfig configures browser sessions.
type BrowserConfig struct {
	Headless            bool   `yaml:"headless"`
	Bin                 string `yaml:"bin"`
	SessionsDir         string `yaml:"sessions_dir"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
}

// PipelineConfig configures the end-to-end pipeline.
type PipelineConfig struct {
	URL                    string          `yaml:"url"`
	ResultsDir             string          `yaml:"results_dir"`
	PersonaPath            string          `yaml:"persona_path"`
	TotalPersonas          int             `yaml:"total_personas"`
	InstructionsPerPersona int             `yaml:"instructions_per_persona"`
	Phase                  int             `yaml:"phase"`
	MaxSteps               int             `yaml:"max_steps"`
	MaxRetries             int             `yaml:"max_retries"`
	GenerateInstructions   bool            `yaml:"generate_instructions"`
	GenerateTrajectories   bool            `yaml:"generate_trajectories"`
	Accounts               []types.Account `yaml:"accounts"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gemini-2.0-flash",
			EmbedModel:  "gemini-embedding-001",
			Temperature: 0.7,
			Timeout:     "60s",
		},
		Knowledge: KnowledgeConfig{
			Backend:          "neo4j",
			Enabled:          true,
			Username:         "neo4j",
			DatabasePath:     filepath.Join(".webagent", "episodes.db"),
			GroupID:          "trajectory_context",
			EntityLabel:      "Trajectory",
			MaxRecords:       5,
			MaxContextLength: 3000,
			QueryTimeout:     "10s",
		},
		Browser: BrowserConfig{
			Headless:            false,
			SessionsDir:         filepath.Join("data", "browser_sessions"),
			NavigationTimeoutMs: 30000,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
		},
		Pipeline: PipelineConfig{
			ResultsDir:             filepath.Join("data", "results"),
			PersonaPath:            "persona.jsonl",
			TotalPersonas:          10,
			InstructionsPerPersona: 10,
			Phase:                  1,
			MaxSteps:               40,
			MaxRetries:             2,
			GenerateInstructions:   true,
			GenerateTrajectories:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file from workspace/.webagent/config.yaml, falling
// back to defaults when absent, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".webagent", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config back to workspace/.webagent/config.yaml.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".webagent")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		c.Knowledge.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		c.Knowledge.Username = user
	}
	if pw := os.Getenv("NEO4J_PASSWORD"); pw != "" {
		c.Knowledge.Password = pw
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		c.Knowledge.Database = db
	}
	if dir := os.Getenv("WEBAGENT_RESULTS_DIR"); dir != "" {
		c.Pipeline.ResultsDir = dir
	}
	if path := os.Getenv("WEBAGENT_DB"); path != "" {
		c.Knowledge.DatabasePath = path
	}
}

// QueryTimeout parses the knowledge query timeout, defaulting to 10s.
func (k KnowledgeConfig) QueryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(k.QueryTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// LLMTimeout parses the LLM call timeout, defaulting to 60s.
func (l LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// NavigationTimeout returns the browser navigation timeout.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}
