// Package types defines the shared data model for the web agent pipeline:
// instructions, personas, episodic memory records and prompt payloads.
package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// INSTRUCTIONS
// =============================================================================

// Instruction is a free-text task description produced by the instruction
// generator. Immutable once created.
type Instruction struct {
	Text    string `json:"text"`
	URL     string `json:"url,omitempty"`
	Persona string `json:"persona,omitempty"`
	Phase   int    `json:"phase,omitempty"`
}

// Persona is one entry from a PersonaHub-style JSONL file.
type Persona struct {
	Persona string `json:"persona"`
}

// =============================================================================
// EPISODIC MEMORY
// =============================================================================

// RecordSource distinguishes where a retrieved record came from.
type RecordSource string

const (
	SourceEpisode RecordSource = "episode"
	SourceEntity  RecordSource = "entity"
)

// EpisodeRecord is a read-only copy of a past trajectory held in the
// knowledge store. The local system never mutates these; they live for the
// duration of one retrieval.
type EpisodeRecord struct {
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	Source    RecordSource `json:"source"`
	GroupID   string       `json:"group_id,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Excerpt returns the first max bytes of the record content, with a
// truncation marker when cut. The cut never splits a UTF-8 rune.
func (r EpisodeRecord) Excerpt(max int) string {
	content := strings.TrimSpace(r.Content)
	if max <= 0 || len(content) <= max {
		return content
	}
	for max > 0 && !utf8.RuneStart(content[max]) {
		max--
	}
	return content[:max] + "..."
}

// =============================================================================
// TRAJECTORIES
// =============================================================================

// TrajectoryStep is one recorded action in a trajectory.
type TrajectoryStep struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
	Thought     string `json:"thought,omitempty"`
}

// TrajectoryError records a failed browser action and, when one was found,
// the code that eventually worked.
type TrajectoryError struct {
	StepIndex      int    `json:"step_index"`
	Description    string `json:"description,omitempty"`
	ErrorMessage   string `json:"error_message"`
	SuccessfulCode string `json:"successful_playwright_code,omitempty"`
}

// TrajectoryRecord is a fully recorded execution of one instruction, as read
// back from a results folder.
type TrajectoryRecord struct {
	Goal     string            `json:"goal"`
	StartURL string            `json:"start_url,omitempty"`
	Steps    []TrajectoryStep  `json:"steps"`
	Errors   []TrajectoryError `json:"errors,omitempty"`
	Recorded time.Time         `json:"recorded,omitempty"`
}

// =============================================================================
// PROMPT PAYLOAD
// =============================================================================

// PromptPayload is the structured prompt handed to the trajectory-generation
// LLM call. The context injector only touches TaskDescription; the schema
// otherwise belongs to the generation loop.
type PromptPayload struct {
	SystemMessage   string `json:"system_message,omitempty"`
	TaskDescription string `json:"task_description"`
	AXTree          string `json:"axtree,omitempty"`
	ScreenshotPath  string `json:"screenshot_path,omitempty"`
}

// Account is one browser identity used to execute a slice of instructions.
type Account struct {
	Email       string `yaml:"email" json:"email"`
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
	StartIdx    int    `yaml:"start_idx" json:"start_idx"`
	EndIdx      int    `yaml:"end_idx" json:"end_idx"`
}
