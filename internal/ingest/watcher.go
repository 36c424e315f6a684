package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"webagent/internal/knowledge"
	"webagent/internal/logging"
)

// settleDelay gives the recorder time to finish writing a trajectory folder
// before we try to parse it.
const settleDelay = 2 * time.Second

// Watcher ingests new trajectory folders as they appear in the results
// directory.
type Watcher struct {
	parser  *Parser
	store   knowledge.EpisodeWriter
	groupID string

	mu   sync.Mutex
	seen map[string]bool
}

// NewWatcher creates a watcher over the parser's results directory.
func NewWatcher(parser *Parser, store knowledge.EpisodeWriter, groupID string) *Watcher {
	return &Watcher{
		parser:  parser,
		store:   store,
		groupID: groupID,
		seen:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled, ingesting each completed trajectory
// folder once. Folders already present at startup are ingested first.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.parser.resultsDir); err != nil {
		return err
	}
	logging.Ingest("Watching %s for new trajectories", w.parser.resultsDir)

	// Catch up on folders that landed before the watch started.
	if folders, err := w.parser.Discover(); err == nil {
		for _, folder := range folders {
			w.tryIngest(ctx, folder)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			folder := w.folderFor(event.Name)
			if folder == "" {
				continue
			}
			// The recorder writes metadata.json last; wait for the folder
			// to settle before parsing.
			go func() {
				select {
				case <-ctx.Done():
				case <-time.After(settleDelay):
					w.tryIngest(ctx, folder)
				}
			}()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.IngestError("Watcher error: %v", err)
		}
	}
}

// folderFor maps an event path to its trajectory folder, or "" when the
// event is unrelated.
func (w *Watcher) folderFor(path string) string {
	rel, err := filepath.Rel(w.parser.resultsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 0 || strings.HasPrefix(parts[0], ".") {
		return ""
	}
	return filepath.Join(w.parser.resultsDir, parts[0])
}

func (w *Watcher) tryIngest(ctx context.Context, folder string) {
	if !fileExists(filepath.Join(folder, "trajectory.json")) ||
		!fileExists(filepath.Join(folder, "metadata.json")) {
		return
	}

	w.mu.Lock()
	if w.seen[folder] {
		w.mu.Unlock()
		return
	}
	w.seen[folder] = true
	w.mu.Unlock()

	if err := w.parser.IngestFolder(ctx, w.store, folder, w.groupID); err != nil {
		logging.IngestError("Auto-ingest of %s failed: %v", filepath.Base(folder), err)
		// Allow a retry on the next event for this folder.
		w.mu.Lock()
		delete(w.seen, folder)
		w.mu.Unlock()
	}
}
