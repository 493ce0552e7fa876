package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/deck-orchestrator/internal/domain"
	"github.com/hochfrequenz/deck-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/deck-orchestrator/internal/render"
	"github.com/hochfrequenz/deck-orchestrator/internal/runstore"
	"github.com/hochfrequenz/deck-orchestrator/internal/structurer"
	"github.com/hochfrequenz/deck-orchestrator/tui"
)

var (
	processProvider   string
	processOutput     string
	processRetries    int
	processThreshold  float64
	processNoOptimize bool
	processForce      bool
	processTUI        bool
)

func init() {
	// process command
	processCmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Turn one document into a presentation",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	}
	processCmd.Flags().StringVar(&processProvider, "provider", "", "generative provider (openai, gemini, anthropic, offline)")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "output directory (default: general.output_dir/<name>)")
	processCmd.Flags().IntVar(&processRetries, "max-retries", -1, "generation retries after a failed evaluation")
	processCmd.Flags().Float64Var(&processThreshold, "threshold", -1, "quality threshold within [0,1]")
	processCmd.Flags().BoolVar(&processNoOptimize, "no-optimize", false, "skip the optimization step")
	processCmd.Flags().BoolVar(&processForce, "force", false, "process even if the document was processed before")
	processCmd.Flags().BoolVar(&processTUI, "tui", false, "show live progress")
	rootCmd.AddCommand(processCmd)

	// validate command
	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Structure a document locally and report validation findings",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	// providers command
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		RunE:  runProviders,
	}
	rootCmd.AddCommand(providersCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse stored runs and provider health",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deck-orch %s (%s)\n", version, commit)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOptions(a *app) domain.Options {
	opts := a.cfg.RunOptions()
	if processRetries >= 0 {
		opts.MaxRetries = processRetries
	}
	if processThreshold >= 0 {
		opts.QualityThreshold = processThreshold
	}
	if processNoOptimize {
		opts.EnableOptimization = false
	}
	return opts
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runProcess(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var events tui.ChannelSink
	var sinks []pipeline.EventSink
	if processTUI {
		events = make(tui.ChannelSink, 256)
		sinks = append(sinks, events)
	}

	a, err := newApp(processProvider, sinks...)
	if err != nil {
		return err
	}
	defer a.Close()

	if !processForce {
		if n, err := structurer.Normalize(path, raw); err == nil {
			prev, err := a.store.FindByDigest(n.Digest())
			if err == nil {
				fmt.Printf("%s was already processed as run %s (%s). Use --force to process it again.\n",
					path, prev.ID, humanize.Time(prev.StartedAt))
				return nil
			}
			if !errors.Is(err, runstore.ErrNotFound) {
				return err
			}
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts := runOptions(a)
	var out *pipeline.RunOutput
	if processTUI {
		out, err = processWithTUI(ctx, a, pipeline.TextInput(path, raw), opts, events)
		if err != nil {
			return err
		}
	} else {
		out = a.pipeline.Run(ctx, pipeline.TextInput(path, raw), opts)
	}

	dir := processOutput
	if dir == "" {
		dir = filepath.Join(a.cfg.General.OutputDir, stem(path))
	}
	if _, err := render.Write(dir, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := a.store.SaveRun(out); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	a.observer.RecordRun(out)

	fmt.Print(render.Summary(out))
	fmt.Printf("Output written to %s\n", dir)
	if !out.IsSuccessful() {
		return fmt.Errorf("run %s failed: %s", out.RunID, out.ErrorMessage)
	}
	return nil
}

// processWithTUI runs the pipeline in the background while the TUI shows
// its events. Quitting the TUI cancels the run.
func processWithTUI(ctx context.Context, a *app, in pipeline.Input, opts domain.Options, events tui.ChannelSink) (*pipeline.RunOutput, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan *pipeline.RunOutput, 1)
	go func() {
		out := a.pipeline.Run(ctx, in, opts)
		close(events)
		done <- out
	}()

	model := tui.NewModel(tui.ModelConfig{
		Events:    events,
		Providers: a.router.Statistics,
	})
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return nil, err
	}
	cancel()
	return <-done, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	doc, err := structurer.New(nil, structurer.OptionsFromConfig(cfg.Structuring)).
		Structure(cmd.Context(), "", args[0], raw)
	if err != nil {
		return err
	}
	res := structurer.Validate(doc.Sections)

	fmt.Printf("Document: %s (%s, %s)\n", doc.Info.Filename, doc.Info.FileType, humanize.Bytes(uint64(doc.Info.OriginalSize)))
	if doc.Info.Title != "" {
		fmt.Printf("Title:    %s\n", doc.Info.Title)
	}
	fmt.Printf("Language: %s | %s words | %d sections | ~%d slides | ~%s\n",
		doc.Analysis.Language, humanize.Comma(int64(doc.Analysis.WordCount)), len(doc.Sections),
		doc.Analysis.EstimatedSlides, formatSeconds(doc.Analysis.EstimatedSeconds))
	fmt.Printf("Quality:  %.2f\n\n", res.QualityScore)

	for i, s := range doc.Sections {
		fmt.Printf("  %2d. %s (%d words)\n", i+1, s.Title, s.WordCount)
	}
	for _, f := range res.Issues {
		fmt.Printf("  ISSUE   section %d: %s\n", f.Section+1, f.Message)
	}
	for _, f := range res.Warnings {
		fmt.Printf("  WARNING section %d: %s\n", f.Section+1, f.Message)
	}

	if !res.Valid {
		return fmt.Errorf("%s has %d structural issues", args[0], len(res.Issues))
	}
	return nil
}

func formatSeconds(sec int) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm%02ds", sec/60, sec%60)
}
