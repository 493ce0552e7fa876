package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/deck-orchestrator/internal/domain"
	"github.com/hochfrequenz/deck-orchestrator/internal/prompts"
	"github.com/hochfrequenz/deck-orchestrator/internal/provider"
	"github.com/hochfrequenz/deck-orchestrator/internal/runstore"
	"github.com/hochfrequenz/deck-orchestrator/tui"
)

var (
	listStatus string
	listLimit  int
	showJSON   bool
)

func init() {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE:  runRunsList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (completed, failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of runs")
	runsCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its step attempts and errors",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the full record as JSON")
	runsCmd.AddCommand(showCmd)

	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{Status: domain.RunStatus(listStatus), Limit: listLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOCUMENT\tSTATUS\tSLIDES\tQUALITY\tCOST\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t$%.4f\t%s\t%s\n",
			r.ID, r.Document, r.Status, r.Slides, r.Quality, r.Cost,
			humanize.Time(r.StartedAt), r.Duration.Round(1e6))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("Run:      %s\n", rec.ID)
	fmt.Printf("Document: %s\n", rec.Document)
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Provider: %s | retries %d | threshold %.2f | optimization %v\n",
		rec.Options.Provider, rec.Options.MaxRetries, rec.Options.QualityThreshold, rec.Options.EnableOptimization)
	fmt.Printf("Slides:   %d (%d failed) | quality %.2f\n", rec.Slides, rec.FailedSlides, rec.Quality)
	fmt.Printf("Cost:     $%.4f over %s calls\n", rec.Cost, humanize.Comma(int64(rec.APICalls)))
	fmt.Printf("Started:  %s (%s)\n", rec.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(rec.StartedAt))
	if rec.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", rec.ErrorMessage)
	}

	if len(rec.Attempts) > 0 {
		fmt.Println("\nSteps:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, a := range rec.Attempts {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", a.Step, a.Status, a.Duration.Round(1e6), a.Error)
		}
		w.Flush()
	}
	if len(rec.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range rec.Errors {
			fmt.Printf("  [%s] %s: %s\n", e.Kind, e.Step, e.Message)
		}
	}
	return nil
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	loader := prompts.DefaultLoader(cfg.Prompts.OverrideDir)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tPRICE/1K\tSTATUS")
	for _, name := range names {
		pc := cfg.Providers[name]
		status := "ready"
		if _, err := provider.New(name, cfg, loader); err != nil {
			status = err.Error()
		}
		marker := ""
		if name == cfg.Pipeline.AIProvider {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s%s\t%s\t$%.4f\t%s\n", name, marker, pc.Model, provider.Price(name, cfg), status)
	}
	return w.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	mc := tui.ModelConfig{
		LoadRuns: func() ([]*runstore.RunSummary, error) {
			return store.ListRuns(runstore.ListOptions{Limit: 50})
		},
	}
	if router, err := provider.NewRouterFromConfig(cfg, prompts.DefaultLoader(cfg.Prompts.OverrideDir)); err == nil {
		mc.Providers = router.Statistics
	}

	_, err = tea.NewProgram(tui.NewModel(mc), tea.WithAltScreen()).Run()
	return err
}
