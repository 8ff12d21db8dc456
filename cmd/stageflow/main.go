package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/autochat"
	"github.com/vampirenirmal/stageflow/internal/config"
	"github.com/vampirenirmal/stageflow/internal/gate"
	"github.com/vampirenirmal/stageflow/internal/stage"
	"github.com/vampirenirmal/stageflow/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stageflow <command> [flags]

Commands:
  create   Create an account and print its ID
  status   Show stage progress for an account
  chat     Interactive conversation on one stage
  history  Print a stage's conversation transcript
  auto     Automated conversation with a simulated client
  reset    Discard a stage's progress and start it over

Run 'stageflow <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "auto":
		err = runAuto(ctx, os.Args[2:])
	case "reset":
		err = runReset(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	store    *store.Badger
	pipeline *stage.Pipeline
	client   *agent.Client
	logger   *slog.Logger
}

func newApp(verbose bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	storeCfg := store.DefaultBadgerConfig(cfg.Paths.DataDir)
	storeCfg.Logger = logger
	db, err := store.OpenBadger(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	client := agent.NewClient(cfg.AI.APIKey,
		agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
		agent.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
		agent.WithRetry(cfg.Limits.MaxRetries),
		agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
		agent.WithLogger(logger),
	)

	g := gate.New(client,
		gate.WithModel(cfg.Gate.Model),
		gate.WithPromptDir(cfg.Paths.PromptsDir),
		gate.WithFailOpen(cfg.Gate.IsFailOpen()),
		gate.WithLogger(logger),
	)

	pipeline := stage.New(db, client, g,
		stage.WithPromptDir(cfg.Paths.PromptsDir),
		stage.WithProgression(stage.Progression{MaxTurnsPerPhase: cfg.Limits.MaxTurnsPerPhase}),
		stage.WithLogger(logger),
	)

	return &app{cfg: cfg, store: db, pipeline: pipeline, client: client, logger: logger}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("closing store", "error", err)
	}
}

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "client company name (required)")
	website := fs.String("website", "", "client company website")
	consultant := fs.String("consultant", "", "consultant name shown in conversations")
	model := fs.String("model", "", "model override for this account")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	account, err := a.pipeline.CreateAccount(ctx, *name, *website, *consultant, *model)
	if err != nil {
		return err
	}
	fmt.Printf("Account created: %s\n", account.ID)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	stages, err := a.pipeline.Stages(ctx, accountID)
	if err != nil {
		return err
	}
	for _, s := range stages {
		profile, _ := agent.ForStage(s.Number)
		line := fmt.Sprintf("%d. %-28s %s", s.Number, profile.Title, s.Status)
		if s.State.Sub != nil && s.Status == stage.StatusInProgress {
			line += fmt.Sprintf(" (phase: %s)", s.State.Sub.Phase)
		}
		if s.OrchestratorScore != nil {
			line += fmt.Sprintf(" [score %.1f]", *s.OrchestratorScore)
		}
		fmt.Println(line)
	}
	return nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	number := fs.Int("stage", 1, "stage number (1-7)")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	init, err := a.pipeline.InitialMessage(ctx, accountID, *number)
	if err != nil {
		return err
	}
	printAgent(init.Message, init.Buttons)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}

		res, err := a.pipeline.Advance(ctx, accountID, *number, input)
		if err != nil {
			return err
		}
		printAgent(res.Message, res.Buttons)

		if res.Validation != nil {
			printValidation(os.Stdout, res.Validation)
		}
		if res.Stage.Status == stage.StatusCompleted {
			fmt.Printf("\nStage %d completed.\n", *number)
			return nil
		}
	}
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	number := fs.Int("stage", 1, "stage number (1-7)")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.pipeline.Stage(ctx, accountID, *number)
	if err != nil {
		return err
	}
	printTranscript(os.Stdout, st.State)
	return nil
}

func runAuto(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auto", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	number := fs.Int("stage", 1, "stage number (1-7)")
	company := fs.String("company", "", "simulated client company name")
	profile := fs.String("profile", "", "path to a text file describing the simulated client")
	delay := fs.Duration("delay", 0, "pause between simulated turns")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	persona := autochat.Persona{
		CompanyName: *company,
		Model:       a.cfg.AI.Model,
	}
	if *profile != "" {
		data, err := os.ReadFile(*profile)
		if err != nil {
			return fmt.Errorf("reading profile: %w", err)
		}
		persona.Description = string(data)
	}

	runner := autochat.New(a.pipeline, a.client, persona,
		autochat.WithMaxIterations(a.cfg.Limits.MaxAutoIterations),
		autochat.WithLoopWindow(a.cfg.Limits.LoopWindow),
		autochat.WithDelay(*delay),
		autochat.WithLogger(a.logger),
	)

	for ev := range runner.Run(ctx, accountID, *number) {
		switch ev.Type {
		case autochat.EventAgentMessage:
			printAgent(ev.Content, ev.Buttons)
		case autochat.EventUserMessage:
			fmt.Printf("\nclient> %s\n", ev.Content)
		case autochat.EventComplete:
			fmt.Printf("\nStage %d completed after %d turns.\n", *number, ev.Iteration)
		case autochat.EventError:
			return fmt.Errorf("automated run failed: %s", ev.Error)
		}
	}
	return ctx.Err()
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID (required)")
	number := fs.Int("stage", 1, "stage number (1-7)")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid -account: %w", err)
	}

	a, err := newApp(*verbose)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.pipeline.Reset(ctx, accountID, *number); err != nil {
		return err
	}
	fmt.Printf("Stage %d reset.\n", *number)
	return nil
}

// printTranscript writes the user-visible conversation: synthetic system
// turns (initial instructions, forced directives) are never shown.
func printTranscript(w io.Writer, state stage.ConversationState) {
	for _, turn := range state.Visible() {
		prefix := "you"
		if turn.Role == agent.RoleAssistant {
			prefix = "agent"
		}
		fmt.Fprintf(w, "%s> %s\n", prefix, turn.Content)
	}
}

func printValidation(w io.Writer, v *gate.Result) {
	fmt.Fprintf(w, "\n[validation] approved=%t score=%.1f\n", v.Approved, v.OverallScore)
	for _, issue := range v.Issues {
		fmt.Fprintf(w, "  - %s: %s\n", issue.Severity, issue.Message)
	}
	for _, s := range v.Suggestions {
		fmt.Fprintf(w, "  * %s\n", s.Message)
	}
}

func printAgent(message string, buttons []string) {
	fmt.Printf("\nagent> %s\n", message)
	if len(buttons) > 0 {
		fmt.Printf("       [%s]\n", strings.Join(buttons, " | "))
	}
}
