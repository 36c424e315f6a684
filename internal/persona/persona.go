// Package persona loads persona descriptions from PersonaHub-style JSONL
// files, one JSON object per line.
package persona

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"webagent/internal/logging"
	"webagent/internal/types"
)

// Load reads up to limit personas from a JSONL file. Blank and malformed
// lines are skipped with a warning so one bad line cannot sink a large
// persona file. limit <= 0 loads everything.
func Load(path string, limit int) ([]types.Persona, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %s: %w", path, err)
	}
	defer f.Close()

	var personas []types.Persona
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var p types.Persona
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			logging.PipelineWarn("Skipping malformed persona line %d in %s: %v", lineNo, path, err)
			continue
		}
		if strings.TrimSpace(p.Persona) == "" {
			continue
		}
		personas = append(personas, p)

		if limit > 0 && len(personas) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}

	logging.Pipeline("Loaded %d personas from %s", len(personas), path)
	return personas, nil
}
