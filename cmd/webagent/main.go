package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"webagent/internal/browser"
	"webagent/internal/config"
	"webagent/internal/ingest"
	"webagent/internal/knowledge"
	"webagent/internal/llm"
	"webagent/internal/logging"
	"webagent/internal/pipeline"
	"webagent/internal/trajcontext"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "webagent",
	Short: "Web agent pipeline with trajectory-context memory",
	Long: `webagent generates web-task instructions with an LLM, executes them as
browser trajectories, and enriches trajectory prompts with episodic memory
of past trajectories retrieved from a knowledge-graph store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// contextCmd prints the trajectory-context block for one instruction.
var contextCmd = &cobra.Command{
	Use:   "context [instruction]",
	Short: "Build and print the trajectory-context block for an instruction",
	Long: `Runs the retrieval flow for a single instruction: extract platform and
task-type labels, query the episode store, and print the formatted context
block that would be injected into the trajectory prompt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContext,
}

// instructionsCmd generates instructions only.
var instructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Generate persona-based instructions for the configured URL",
	RunE:  runInstructions,
}

// ingestCmd loads recorded trajectories into the episode store.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest recorded trajectory folders into the episode store",
	Long: `Parses trajectory folders under the results directory and writes each as
an episode. With --watch, keeps running and ingests new folders as the
recorder produces them.`,
	RunE: runIngest,
}

// runCmd executes the full pipeline.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline (instructions, then trajectories)",
	RunE:  runPipeline,
}

var (
	contextURL  string
	ingestWatch bool
	ingestLimit int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	contextCmd.Flags().StringVar(&contextURL, "url", "", "Platform URL for the instruction")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "Keep watching for new trajectory folders")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "Maximum number of folders to ingest (0 = all)")

	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(instructionsCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext returns a context cancelled by SIGINT/SIGTERM and bounded
// by the --timeout flag.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, timeout)
	return tctx, func() { tcancel(); cancel() }
}

// openLLM builds the optional LLM client used for task-type refinement and
// episode embeddings. A missing API key is not an error; heuristics and
// keyword search cover its absence.
func openLLM(ctx context.Context) *llm.Client {
	if cfg.LLM.APIKey == "" {
		return nil
	}
	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		logger.Warn("LLM unavailable, using heuristic task types", zap.Error(err))
		return nil
	}
	return client
}

// openStore wires the episode store, handing it the embedder when one exists.
func openStore(ctx context.Context, client *llm.Client) knowledge.Store {
	var embedder knowledge.Embedder
	if client != nil {
		embedder = client
	}
	return knowledge.Open(ctx, cfg.Knowledge, embedder)
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	instruction := args[0]
	client := openLLM(ctx)
	store := openStore(ctx, client)
	defer store.Close(ctx)

	var taskTyper trajcontext.TaskTyper
	if client != nil {
		taskTyper = client
	}
	builder := trajcontext.NewBuilder(store, trajcontext.NewExtractor(taskTyper), cfg.Knowledge)
	if !builder.Enabled() {
		logger.Info("trajectory context disabled or store unreachable")
	}

	block := builder.Build(ctx, instruction, contextURL)
	if block == "" {
		block = trajcontext.EmptyContextMessage
	}
	fmt.Println(block)
	return nil
}

func runInstructions(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	browsers := browser.NewManager(cfg.Browser)
	defer browsers.Shutdown()

	store := openStore(ctx, client)
	defer store.Close(ctx)

	p := pipeline.New(cfg, client, store, browsers, nil)
	instructions, err := p.GenerateInstructions(ctx)
	if err != nil {
		return err
	}

	logger.Info("instructions generated",
		zap.Int("count", len(instructions)),
		zap.String("results_dir", cfg.Pipeline.ResultsDir))
	for _, instr := range instructions {
		fmt.Println(instr.Text)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store := openStore(ctx, openLLM(ctx))
	defer store.Close(ctx)
	if !store.Available() {
		return fmt.Errorf("episode store unavailable; check knowledge config")
	}

	parser := ingest.NewParser(cfg.Pipeline.ResultsDir)

	if ingestWatch {
		watcher := ingest.NewWatcher(parser, store, cfg.Knowledge.GroupID)
		logger.Info("watching for trajectories", zap.String("dir", cfg.Pipeline.ResultsDir))
		err := watcher.Run(ctx)
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil
		}
		return err
	}

	n, err := parser.IngestAll(ctx, store, cfg.Knowledge.GroupID, ingestLimit)
	if err != nil {
		return err
	}
	logger.Info("ingestion complete", zap.Int("episodes", n))
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client := openLLM(ctx)
	if client == nil && cfg.Pipeline.GenerateInstructions {
		return fmt.Errorf("instruction generation requires GEMINI_API_KEY")
	}

	store := openStore(ctx, client)
	defer store.Close(ctx)

	browsers := browser.NewManager(cfg.Browser)
	defer browsers.Shutdown()

	p := pipeline.New(cfg, client, store, browsers, nil)

	logger.Info("pipeline starting",
		zap.String("url", cfg.Pipeline.URL),
		zap.Int("accounts", len(cfg.Pipeline.Accounts)),
		zap.Bool("context_enabled", p.Builder().Enabled()))

	if err := p.Run(ctx); err != nil {
		return err
	}
	logger.Info("pipeline complete")
	return nil
}
