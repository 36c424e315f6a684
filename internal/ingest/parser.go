// Package ingest turns recorded trajectory folders into knowledge-store
// episodes. Each folder holds a trajectory.json (numbered step map) and a
// metadata.json; the two are flattened into one structured episode text.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"webagent/internal/knowledge"
	"webagent/internal/logging"
	"webagent/internal/trajcontext"
	"webagent/internal/types"
)

// stepEntry mirrors one value of the trajectory.json step map.
type stepEntry struct {
	Action struct {
		ActionDescription string `json:"action_description"`
		PlaywrightCode    string `json:"playwright_code"`
	} `json:"action"`
	OtherObs struct {
		URL string `json:"url"`
	} `json:"other_obs"`
}

// metadata mirrors metadata.json.
type metadata struct {
	Goal       string  `json:"goal"`
	StartURL   string  `json:"start_url"`
	Success    bool    `json:"success"`
	TotalSteps int     `json:"total_steps"`
	RuntimeSec float64 `json:"runtime_sec"`
	GPTOutput  string  `json:"gpt_output"`
}

// Parser reads trajectory folders under a results directory.
type Parser struct {
	resultsDir string
}

// NewParser creates a parser rooted at resultsDir.
func NewParser(resultsDir string) *Parser {
	return &Parser{resultsDir: resultsDir}
}

// Discover lists trajectory folders: directories containing both
// trajectory.json and metadata.json. Hidden directories are skipped.
func (p *Parser) Discover() ([]string, error) {
	entries, err := os.ReadDir(p.resultsDir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read results dir %s: %w", p.resultsDir, err)
	}

	var folders []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(p.resultsDir, e.Name())
		if fileExists(filepath.Join(dir, "trajectory.json")) && fileExists(filepath.Join(dir, "metadata.json")) {
			folders = append(folders, dir)
		}
	}
	sort.Strings(folders)
	logging.Ingest("Discovered %d trajectory folders in %s", len(folders), p.resultsDir)
	return folders, nil
}

// EpisodeText builds the structured episode body for one trajectory folder.
func (p *Parser) EpisodeText(folder string) (name, text string, err error) {
	meta, err := readMetadata(filepath.Join(folder, "metadata.json"))
	if err != nil {
		return "", "", err
	}
	steps, code, firstURL, err := readSteps(filepath.Join(folder, "trajectory.json"))
	if err != nil {
		return "", "", err
	}

	goal := meta.Goal
	if goal == "" {
		goal = "Unknown Goal"
	}
	startURL := meta.StartURL
	if startURL == "" {
		startURL = firstURL
	}
	platform := trajcontext.PlatformFromURL(startURL)

	totalSteps := meta.TotalSteps
	if totalSteps == 0 {
		totalSteps = len(steps)
	}

	status := "Failed or incomplete"
	if meta.Success {
		status = "Completed successfully"
	}
	output := meta.GPTOutput
	if output == "" {
		output = "No output recorded"
	}

	var b strings.Builder
	b.WriteString("Web Trajectory Analysis Data:\n\n")
	fmt.Fprintf(&b, "GOAL: %s in %s\n\n", goal, platform)
	fmt.Fprintf(&b, "PLATFORM_URL: %s\n\n", startURL)

	b.WriteString("DETAILED_STEPS:\n")
	if len(steps) == 0 {
		b.WriteString("No detailed steps available\n")
	} else {
		for _, s := range steps {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCODE_EXECUTED:\n")
	if len(code) == 0 {
		b.WriteString("No code executed\n")
	} else {
		for _, c := range code {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\nEXECUTION_RESULTS:\n")
	fmt.Fprintf(&b, "- Success Status: %s\n", status)
	fmt.Fprintf(&b, "- Total Steps: %d\n", totalSteps)
	fmt.Fprintf(&b, "- Runtime: %.1f seconds\n", meta.RuntimeSec)
	fmt.Fprintf(&b, "- Final Output: %s\n", output)
	fmt.Fprintf(&b, "\nTRAJECTORY_ID: %s", filepath.Base(folder))

	return fmt.Sprintf("%s in %s", goal, platform), b.String(), nil
}

// IngestFolder parses one folder and writes it as an episode.
func (p *Parser) IngestFolder(ctx context.Context, store knowledge.EpisodeWriter, folder, groupID string) error {
	name, text, err := p.EpisodeText(folder)
	if err != nil {
		return err
	}
	rec := types.EpisodeRecord{
		Name:      name,
		Content:   text,
		Source:    types.SourceEpisode,
		GroupID:   groupID,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.AddEpisode(ctx, rec, groupID); err != nil {
		return fmt.Errorf("ingest: add episode for %s: %w", filepath.Base(folder), err)
	}
	logging.Ingest("Ingested %s as episode %q", filepath.Base(folder), name)
	return nil
}

// IngestAll processes every discovered folder, continuing past per-folder
// failures. limit <= 0 processes everything. Returns the success count.
func (p *Parser) IngestAll(ctx context.Context, store knowledge.EpisodeWriter, groupID string, limit int) (int, error) {
	folders, err := p.Discover()
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(folders) > limit {
		folders = folders[:limit]
	}

	ok := 0
	for _, folder := range folders {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if err := p.IngestFolder(ctx, store, folder, groupID); err != nil {
			logging.IngestError("Skipping %s: %v", filepath.Base(folder), err)
			continue
		}
		ok++
	}
	logging.Ingest("Ingestion done: %d/%d folders", ok, len(folders))
	return ok, nil
}

func readMetadata(path string) (metadata, error) {
	var meta metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("ingest: read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("ingest: parse metadata: %w", err)
	}
	return meta, nil
}

// readSteps parses the trajectory.json step map, sorted by numeric key.
func readSteps(path string) (steps, code []string, firstURL string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("ingest: read trajectory: %w", err)
	}

	var raw map[string]stepEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, "", fmt.Errorf("ingest: parse trajectory: %w", err)
	}

	keys := make([]int, 0, len(raw))
	for k := range raw {
		n, convErr := strconv.Atoi(k)
		if convErr != nil {
			continue
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	for _, n := range keys {
		entry := raw[strconv.Itoa(n)]
		if desc := entry.Action.ActionDescription; desc != "" {
			steps = append(steps, fmt.Sprintf("Step %d: %s", n, desc))
		}
		if pc := entry.Action.PlaywrightCode; pc != "" {
			code = append(code, pc)
		}
		if firstURL == "" && entry.OtherObs.URL != "" {
			firstURL = entry.OtherObs.URL
		}
	}
	return steps, code, firstURL, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
