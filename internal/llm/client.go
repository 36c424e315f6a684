// Package llm wraps the Gemini API calls used by the pipeline: persona-based
// instruction generation, instruction augmentation, and task-type derivation
// for the trajectory-context extractor.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"webagent/internal/config"
	"webagent/internal/logging"
)

// Client is a thin wrapper over the genai SDK.
type Client struct {
	client      *genai.Client
	model       string
	embedModel  string
	temperature float32
}

// NewClient creates a Gemini client from config.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}

	return &Client{
		client:      client,
		model:       model,
		embedModel:  embedModel,
		temperature: float32(cfg.Temperature),
	}, nil
}

// generate runs one text generation call, optionally attaching a screenshot.
func (c *Client) generate(ctx context.Context, prompt, screenshotPath string, maxTokens int32) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}

	if screenshotPath != "" {
		if img, err := os.ReadFile(screenshotPath); err == nil {
			parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
		} else {
			logging.APIDebug("Screenshot %s unreadable, sending text only: %v", screenshotPath, err)
		}
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = maxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}

	if usage := resp.UsageMetadata; usage != nil {
		logging.APIDebug("Token usage: input=%d output=%d total=%d",
			usage.PromptTokenCount, usage.CandidatesTokenCount, usage.TotalTokenCount)
	}

	return strings.TrimSpace(resp.Text()), nil
}

// =============================================================================
// INSTRUCTION GENERATION
// =============================================================================

// GenerateInstructions asks the model for n distinct instructions a persona
// might give on the current page. Phase 1 targets a fresh page; phase 2
// targets pages already modified by earlier instructions and receives the
// accessibility tree.
func (c *Client) GenerateInstructions(ctx context.Context, persona string, phase, n int, screenshotPath, axtree string) ([]string, error) {
	var prompt string
	if phase == 1 {
		prompt = fmt.Sprintf(
			"Imagine you are a %s using this website. "+
				"Based on your persona and the image of the current state of the page, generate a list of %d distinct instructions that you might give to an assistant for tasks in this website. "+
				"These instructions must be feasible given the current page state and must not involve modifying or deleting content that is not currently present. "+
				"Vary the complexity of the instructions, and add variety through filters, constraints, or sorting options. "+
				"Return just the list of instructions, one per line, no other text, no quotations, in english.",
			persona, n)
	} else {
		prompt = fmt.Sprintf(
			"Imagine you are a %s using this website. "+
				"Previously, you have asked an assistant to perform some tasks on this website, so the page has existing elements and content. "+
				"Based on your persona and the image of the current state of the page, generate a list of %d distinct instructions that you might give to an assistant for tasks in this website. "+
				"These instructions must be feasible given the current page state, should involve modifying or deleting elements that are currently present, and must use realistic natural human phrasing. "+
				"These instructions will be executed in order, so do not delete an element and then modify the same element right after, and try not to touch the same element more than once. "+
				"When targeting a specific element to modify or delete, use its specific name and date rather than a vague reference. "+
				"Here is the accessibility tree of the current page state:\n\n%s\n\n"+
				"Return just the list of instructions, one per line, no other text, no quotations, in english.",
			persona, n, axtree)
	}

	result, err := c.generate(ctx, prompt, screenshotPath, 0)
	if err != nil {
		return nil, err
	}

	instructions := parseInstructionList(result)
	if len(instructions) > n {
		instructions = instructions[:n]
	}
	logging.API("Generated %d instructions for persona (phase %d)", len(instructions), phase)
	return instructions, nil
}

// AugmentInstructions rewrites instructions into more natural phrasing.
func (c *Client) AugmentInstructions(ctx context.Context, instructions []string, screenshotPath string) ([]string, error) {
	var list strings.Builder
	for i, instr := range instructions {
		fmt.Fprintf(&list, "%d. %s\n", i+1, instr)
	}

	prompt := fmt.Sprintf(
		"Below is a list of user instructions. Rewrite each one with natural human phrasing while keeping its meaning.\n"+
			"Instructions:\n%s\n"+
			"Make sure your output is a list of instructions, one per line, no other text, no quotations, in english.",
		list.String())

	result, err := c.generate(ctx, prompt, screenshotPath, 0)
	if err != nil {
		return nil, err
	}

	augmented := parseInstructionList(result)
	if len(augmented) != len(instructions) {
		logging.APIDebug("Augmentation returned %d lines for %d instructions", len(augmented), len(instructions))
	}
	return augmented, nil
}

// =============================================================================
// TASK TYPE DERIVATION
// =============================================================================

// DeriveTaskType asks the model for a concise 2-4 word task type for a query.
// Satisfies trajcontext.TaskTyper.
func (c *Client) DeriveTaskType(ctx context.Context, instruction string) (string, error) {
	prompt := fmt.Sprintf(`Analyze this web task query and derive a concise task type.

Query: %q

Examples:
- "Add a recurring event every Monday in June for a weekly check-in at 10 AM" -> "Add Recurring Event"
- "Delete the task 'Review latest research papers' in June" -> "Delete Task"
- "Share the calendar with a colleague named Alex" -> "Share Calendar"
- "Schedule a team meeting for next week" -> "Schedule Meeting"

Return only the task type as a JSON string, nothing else. Keep it concise (around 2-4 words).
Format: {"task_type": "your task type here"}`, instruction)

	result, err := c.generate(ctx, prompt, "", 50)
	if err != nil {
		return "", err
	}

	taskType := parseTaskType(result)
	if taskType == "" {
		return "", fmt.Errorf("llm: empty task type response")
	}
	logging.APIDebug("Derived task type %q from %q", taskType, instruction)
	return taskType, nil
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

// EmbedText generates an embedding for a text. Satisfies knowledge.Embedder
// so the local episode store can rank search results semantically.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("llm: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// parseTaskType extracts the task type from the model's response, tolerating
// bare strings and code fences around the JSON.
func parseTaskType(result string) string {
	content := strings.TrimSpace(result)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed struct {
		TaskType string `json:"task_type"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.TaskType != "" {
		content = parsed.TaskType
	}

	content = strings.Trim(content, `"'`)
	words := strings.Fields(content)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " ")
}

// parseInstructionList splits model output into instruction lines, stripping
// bullets and numbering.
func parseInstructionList(result string) []string {
	var instructions []string
	for _, line := range strings.Split(result, "\n") {
		line = strings.Trim(strings.TrimSpace(line), " -*")
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ". ")
		if line != "" {
			instructions = append(instructions, line)
		}
	}
	return instructions
}

// Close releases the underlying client.
func (c *Client) Close() error {
	// The genai client holds no persistent connection that needs closing.
	return nil
}
