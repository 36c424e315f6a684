// Package pipeline wires the end-to-end flow: persona-driven instruction
// generation, account distribution, and trajectory-context injection into
// the prompt handed to the trajectory executor.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webagent/internal/browser"
	"webagent/internal/config"
	"webagent/internal/knowledge"
	"webagent/internal/llm"
	"webagent/internal/logging"
	"webagent/internal/persona"
	"webagent/internal/trajcontext"
	"webagent/internal/types"
)

// Executor runs one instruction against a browser session. The step loop
// itself (LLM action selection, retries) lives behind this interface; the
// pipeline owns everything up to and including the enriched prompt.
type Executor interface {
	Execute(ctx context.Context, session *browser.Session, payload types.PromptPayload, instruction types.Instruction) error
}

// Pipeline orchestrates instruction generation and trajectory execution.
type Pipeline struct {
	cfg      *config.Config
	llm      *llm.Client
	store    knowledge.Store
	builder  *trajcontext.Builder
	browsers *browser.Manager
	executor Executor
}

// New assembles a pipeline. llmClient may be nil when only ingestion or
// context building is exercised; executor may be nil, in which case enriched
// prompts are written to the results directory instead of being executed.
func New(cfg *config.Config, llmClient *llm.Client, store knowledge.Store, browsers *browser.Manager, executor Executor) *Pipeline {
	var taskTyper trajcontext.TaskTyper
	if llmClient != nil {
		taskTyper = llmClient
	}
	builder := trajcontext.NewBuilder(store, trajcontext.NewExtractor(taskTyper), cfg.Knowledge)

	if executor == nil {
		executor = &promptWriter{dir: cfg.Pipeline.ResultsDir}
	}

	return &Pipeline{
		cfg:      cfg,
		llm:      llmClient,
		store:    store,
		builder:  builder,
		browsers: browsers,
		executor: executor,
	}
}

// Builder exposes the context builder for direct use (the `context` command).
func (p *Pipeline) Builder() *trajcontext.Builder { return p.builder }

// Run executes the enabled pipeline steps in order.
func (p *Pipeline) Run(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "Pipeline run")
	defer timer.Stop()

	var instructions []types.Instruction

	if p.cfg.Pipeline.GenerateInstructions {
		var err error
		instructions, err = p.GenerateInstructions(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: generate instructions: %w", err)
		}
	} else {
		var err error
		instructions, err = p.loadInstructions()
		if err != nil {
			return fmt.Errorf("pipeline: load instructions: %w", err)
		}
	}

	if !p.cfg.Pipeline.GenerateTrajectories {
		logging.Pipeline("Trajectory generation disabled, stopping after %d instructions", len(instructions))
		return nil
	}
	return p.RunTrajectories(ctx, instructions)
}

// =============================================================================
// INSTRUCTION GENERATION
// =============================================================================

// GenerateInstructions produces instructions for each persona against the
// configured URL and persists them to the results directory.
func (p *Pipeline) GenerateInstructions(ctx context.Context) ([]types.Instruction, error) {
	if p.llm == nil {
		return nil, fmt.Errorf("pipeline: instruction generation needs an LLM client")
	}

	personas, err := persona.Load(p.cfg.Pipeline.PersonaPath, p.cfg.Pipeline.TotalPersonas)
	if err != nil {
		return nil, err
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("pipeline: no personas in %s", p.cfg.Pipeline.PersonaPath)
	}

	session, err := p.browsers.Open(ctx, types.Account{}, p.cfg.Pipeline.URL)
	if err != nil {
		return nil, err
	}
	defer p.browsers.CloseSession(session.ID)

	screenshot := filepath.Join(p.cfg.Pipeline.ResultsDir, "page_state.png")
	if err := p.browsers.Screenshot(ctx, session.ID, screenshot); err != nil {
		logging.PipelineWarn("Screenshot failed, generating from text only: %v", err)
		screenshot = ""
	}

	var axtree string
	if p.cfg.Pipeline.Phase == 2 {
		axtree, err = p.browsers.AXTree(ctx, session.ID)
		if err != nil {
			logging.PipelineWarn("AX tree capture failed: %v", err)
		}
	}

	var all []types.Instruction
	for i, ps := range personas {
		lctx, cancel := context.WithTimeout(ctx, p.cfg.LLM.TimeoutDuration())
		texts, err := p.llm.GenerateInstructions(lctx, ps.Persona, p.cfg.Pipeline.Phase,
			p.cfg.Pipeline.InstructionsPerPersona, screenshot, axtree)
		cancel()
		if err != nil {
			logging.PipelineWarn("Persona %d/%d generation failed: %v", i+1, len(personas), err)
			continue
		}

		lctx, cancel = context.WithTimeout(ctx, p.cfg.LLM.TimeoutDuration())
		augmented, err := p.llm.AugmentInstructions(lctx, texts, screenshot)
		cancel()
		if err == nil && len(augmented) == len(texts) {
			texts = augmented
		} else if err != nil {
			logging.PipelineWarn("Augmentation failed, keeping raw instructions: %v", err)
		}

		for _, text := range texts {
			all = append(all, types.Instruction{
				Text:    text,
				URL:     p.cfg.Pipeline.URL,
				Persona: ps.Persona,
				Phase:   p.cfg.Pipeline.Phase,
			})
		}
	}

	if err := p.saveInstructions(all); err != nil {
		return nil, err
	}
	logging.Pipeline("Generated %d instructions from %d personas", len(all), len(personas))
	return all, nil
}

// =============================================================================
// TRAJECTORY EXECUTION
// =============================================================================

// RunTrajectories splits instructions across accounts and executes each one
// with trajectory context injected into its prompt. Per-instruction failures
// are logged and skipped.
func (p *Pipeline) RunTrajectories(ctx context.Context, instructions []types.Instruction) error {
	if len(instructions) == 0 {
		return fmt.Errorf("pipeline: no instructions to run")
	}

	accounts := p.cfg.Pipeline.Accounts
	if len(accounts) == 0 {
		// Single anonymous account covering the whole range.
		accounts = []types.Account{{}}
	}
	assigned := config.DistributeAccounts(accounts, len(instructions), len(accounts))

	for _, acct := range assigned {
		for idx := acct.StartIdx; idx < acct.EndIdx && idx < len(instructions); idx++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.runOne(ctx, acct, idx, instructions[idx]); err != nil {
				logging.PipelineWarn("Instruction %d failed: %v", idx, err)
			}
		}
	}
	return nil
}

func (p *Pipeline) runOne(ctx context.Context, acct types.Account, idx int, instr types.Instruction) error {
	url := instr.URL
	if url == "" {
		url = p.cfg.Pipeline.URL
	}

	session, err := p.browsers.Open(ctx, acct, url)
	if err != nil {
		return err
	}
	defer p.browsers.CloseSession(session.ID)

	screenshot := filepath.Join(p.cfg.Pipeline.ResultsDir, fmt.Sprintf("instruction_%03d.png", idx))
	if err := p.browsers.Screenshot(ctx, session.ID, screenshot); err != nil {
		logging.PipelineWarn("Screenshot for instruction %d failed: %v", idx, err)
		screenshot = ""
	}
	axtree, err := p.browsers.AXTree(ctx, session.ID)
	if err != nil {
		logging.PipelineWarn("AX tree for instruction %d failed: %v", idx, err)
	}

	payload := types.PromptPayload{
		TaskDescription: instr.Text,
		AXTree:          axtree,
		ScreenshotPath:  screenshot,
	}
	payload = p.builder.BuildAndInject(ctx, payload, instr.Text, url)

	logging.Pipeline("Executing instruction %d for %s: %s", idx, acct.Email, instr.Text)
	return p.executor.Execute(ctx, session, payload, instr)
}

// =============================================================================
// INSTRUCTION PERSISTENCE
// =============================================================================

func (p *Pipeline) instructionsPath() string {
	return filepath.Join(p.cfg.Pipeline.ResultsDir, "instructions.json")
}

func (p *Pipeline) saveInstructions(instructions []types.Instruction) error {
	if err := os.MkdirAll(p.cfg.Pipeline.ResultsDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(instructions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.instructionsPath(), data, 0644)
}

func (p *Pipeline) loadInstructions() ([]types.Instruction, error) {
	data, err := os.ReadFile(p.instructionsPath())
	if err != nil {
		return nil, err
	}
	var instructions []types.Instruction
	if err := json.Unmarshal(data, &instructions); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.instructionsPath(), err)
	}
	return instructions, nil
}

// promptWriter is the default executor: it records the enriched prompt so a
// downstream agent can pick it up.
type promptWriter struct {
	dir string
}

func (w *promptWriter) Execute(_ context.Context, session *browser.Session, payload types.PromptPayload, instr types.Instruction) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	out := struct {
		Instruction types.Instruction   `json:"instruction"`
		Payload     types.PromptPayload `json:"payload"`
		SessionID   string              `json:"session_id"`
		Recorded    time.Time           `json:"recorded"`
	}{instr, payload, session.ID, time.Now().UTC()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("prompt_%s.json", session.ID))
	return os.WriteFile(path, data, 0644)
}
