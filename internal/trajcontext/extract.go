// Package trajcontext builds the trajectory-context block injected into
// trajectory-generation prompts: it derives platform and task-type labels
// from an instruction, retrieves similar past episodes from the knowledge
// store, and formats them into a bounded text block. The whole flow is
// best-effort; nothing in this package returns an error to its caller.
package trajcontext

import (
	"context"
	"strings"

	"webagent/internal/logging"
)

// Fallback labels used when extraction is inconclusive. Extraction never
// fails; it degrades to these.
const (
	UnknownPlatform = "Unknown Platform"
	GeneralTask     = "General Task"
)

// TaskTyper derives a short task-type label from an instruction, typically
// via an LLM call. Optional; heuristics cover its absence.
type TaskTyper interface {
	DeriveTaskType(ctx context.Context, instruction string) (string, error)
}

// Extractor derives (platform, task type) labels from an instruction and an
// optional URL.
type Extractor struct {
	taskTyper TaskTyper
}

// NewExtractor creates an extractor. taskTyper may be nil.
func NewExtractor(taskTyper TaskTyper) *Extractor {
	return &Extractor{taskTyper: taskTyper}
}

// Extract returns two non-empty labels for any input. The platform comes
// from URL heuristics, the task type from keyword matching refined by the
// TaskTyper when one is configured and succeeds.
func (e *Extractor) Extract(ctx context.Context, instruction, url string) (platform, taskType string) {
	platform = PlatformFromURL(url)
	taskType = taskTypeFromKeywords(instruction)

	if e != nil && e.taskTyper != nil {
		derived, err := e.taskTyper.DeriveTaskType(ctx, instruction)
		if err != nil {
			logging.ContextDebug("Task type derivation failed, using %q: %v", taskType, err)
		} else if derived = strings.TrimSpace(derived); derived != "" {
			taskType = clipWords(derived, 4)
		}
	}

	logging.ContextDebug("Extracted platform=%q task_type=%q", platform, taskType)
	return platform, taskType
}

// knownPlatforms maps domains to human-readable platform labels.
var knownPlatforms = map[string]string{
	"calendar.google.com": "Google Calendar",
	"flights.google.com":  "Google Flights",
	"maps.google.com":     "Google Maps",
	"mail.google.com":     "Gmail",
	"docs.google.com":     "Google Docs",
	"drive.google.com":    "Google Drive",
	"keep.google.com":     "Google Keep",
}

// PlatformFromURL extracts a platform label from a URL. Google service paths
// (google.com/flights) are normalized to their subdomain form before lookup.
// Unknown domains are returned as-is; garbage yields UnknownPlatform.
func PlatformFromURL(url string) string {
	if strings.TrimSpace(url) == "" {
		return UnknownPlatform
	}

	clean := strings.TrimSpace(url)
	clean = strings.TrimPrefix(clean, "https://")
	clean = strings.TrimPrefix(clean, "http://")
	clean = strings.TrimPrefix(clean, "www.")

	parts := strings.Split(clean, "/")
	domain := strings.ToLower(parts[0])
	if domain == "" || !strings.Contains(domain, ".") {
		return UnknownPlatform
	}

	// google.com/<service>/... is the same platform as <service>.google.com.
	if domain == "google.com" && len(parts) > 1 {
		if svc := strings.ToLower(strings.TrimSpace(parts[1])); svc != "" {
			domain = svc + ".google.com"
		}
	}

	if label, ok := knownPlatforms[domain]; ok {
		return label
	}
	return domain
}

// taskVerbs maps instruction keywords to task-type labels, checked in order
// so the more specific categories win.
var taskVerbs = []struct {
	keywords []string
	label    string
}{
	{[]string{"reschedule", "modify", "change", "update", "edit", "rename", "move"}, "Modify Item"},
	{[]string{"delete", "remove", "cancel", "clear"}, "Delete Item"},
	{[]string{"schedule", "book", "meeting", "appointment", "event", "reminder"}, "Schedule Event"},
	{[]string{"share", "invite", "send"}, "Share Item"},
	{[]string{"search", "find", "look for", "locate", "browse"}, "Search"},
}

func taskTypeFromKeywords(instruction string) string {
	text := strings.ToLower(instruction)
	for _, verb := range taskVerbs {
		for _, kw := range verb.keywords {
			if strings.Contains(text, kw) {
				return verb.label
			}
		}
	}
	return GeneralTask
}

// clipWords limits a label to n words, matching the behavior of the LLM
// task-type prompt contract.
func clipWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
