package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/deck-orchestrator/internal/batch"
	"github.com/hochfrequenz/deck-orchestrator/internal/observer"
	"github.com/hochfrequenz/deck-orchestrator/web/api"
)

var (
	batchProvider  string
	batchOutput    string
	batchMax       int
	batchReprocess bool
	batchJobsFile  string
	batchDaemon    bool
	servePort      int
	serveWatch     bool
)

func init() {
	// batch command
	batchCmd := &cobra.Command{
		Use:   "batch [DIR]",
		Short: "Process every matching document of a directory",
		Long: `Process every document below DIR (default: batch.input_dir) that matches the
configured patterns and was not processed before. With --jobs, the jobs of a
TOML file are run instead; with --daemon they run on their cron schedules.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBatch,
	}
	batchCmd.Flags().StringVar(&batchProvider, "provider", "", "generative provider")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output directory (default: general.output_dir)")
	batchCmd.Flags().IntVar(&batchMax, "max", 0, "maximum documents per job")
	batchCmd.Flags().BoolVar(&batchReprocess, "reprocess", false, "process documents even if processed before")
	batchCmd.Flags().StringVar(&batchJobsFile, "jobs", "", "TOML file with [[batch]] jobs")
	batchCmd.Flags().BoolVar(&batchDaemon, "daemon", false, "run jobs on their cron schedule until interrupted")
	rootCmd.AddCommand(batchCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Process documents as they appear in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&batchProvider, "provider", "", "generative provider")
	watchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output directory (default: general.output_dir)")
	rootCmd.AddCommand(watchCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with live events",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&batchProvider, "provider", "", "generative provider")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default: web.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also process documents appearing in batch.input_dir")
	rootCmd.AddCommand(serveCmd)
}

func (a *app) runner() *batch.Runner {
	return &batch.Runner{
		Pipeline: a.pipeline,
		Store:    a.store,
		Options:  a.cfg.RunOptions(),
		OnResult: a.observer.RecordRun,
	}
}

// defaultJob is the job described by the config file and flags
func (a *app) defaultJob(args []string) batch.Job {
	job := batch.JobFromConfig(a.cfg)
	if len(args) > 0 {
		job.InputDir = args[0]
	}
	if batchOutput != "" {
		job.OutputDir = batchOutput
	}
	job.MaxDocuments = batchMax
	job.Reprocess = batchReprocess
	return job
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(batchProvider)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := []batch.Job{a.defaultJob(args)}
	if batchJobsFile != "" {
		sc, err := batch.LoadScheduleConfig(batchJobsFile)
		if err != nil {
			return err
		}
		if len(sc.Jobs) == 0 {
			return fmt.Errorf("%s defines no [[batch]] jobs", batchJobsFile)
		}
		jobs = sc.Jobs
	}

	ctx, cancel := signalContext()
	defer cancel()
	runner := a.runner()

	if batchDaemon {
		sched, err := batch.NewScheduler(jobs)
		if err != nil {
			return err
		}
		for _, name := range sched.ListJobs() {
			slog.Info("batch scheduled", "batch", name, "next", sched.NextRun(name))
		}
		sched.Start(ctx, func(ctx context.Context, job batch.Job) error {
			report, err := runner.Run(ctx, job)
			if err == nil {
				printReport(report)
			}
			return err
		})
		return nil
	}

	failed := 0
	for _, job := range jobs {
		report, err := runner.Run(ctx, job)
		if err != nil {
			return fmt.Errorf("batch %s: %w", job.Name, err)
		}
		printReport(report)
		failed += report.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d documents failed", failed)
	}
	return nil
}

func printReport(r *batch.Report) {
	fmt.Printf("Batch %s: %d completed, %d failed, %d skipped in %s\n",
		r.Job, r.Completed, r.Failed, r.Skipped, r.Duration.Round(1e6))
	for _, res := range r.Results {
		switch {
		case res.Skipped:
			fmt.Printf("  - %s (already processed)\n", res.Path)
		case res.Error != "":
			fmt.Printf("  ✗ %s: %s\n", res.Path, res.Error)
		default:
			fmt.Printf("  ✓ %s (%d files)\n", res.Path, len(res.Files))
		}
	}
}

// watchInput processes matching documents below job.InputDir as they are
// written, one change set at a time
func watchInput(ctx context.Context, runner *batch.Runner, job batch.Job) (*observer.InputWatcher, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	w, err := observer.NewInputWatcher(batch.Matcher(job.Patterns), func(dir string, files []string) {
		mu.Lock()
		defer mu.Unlock()
		report, err := runner.Process(ctx, job, files)
		if err != nil {
			slog.Error("processing changed documents failed", "dir", dir, "error", err)
			return
		}
		printReport(report)
	})
	if err != nil {
		return nil, err
	}
	if err := w.AddDir(job.InputDir); err != nil {
		w.Stop()
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(batchProvider)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	job := a.defaultJob(args)
	job.Name = "watch"
	w, err := watchInput(ctx, a.runner(), job)
	if err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("Watching %s for %v (Ctrl+C to stop)\n", job.InputDir, job.Patterns)
	<-ctx.Done()
	m := a.observer.GetMetrics()
	fmt.Printf("Processed %d documents (%d failed), %s slides, $%.4f\n",
		m.TotalCompleted+m.TotalFailed, m.TotalFailed, humanize.Comma(int64(m.TotalSlides)), m.TotalCost)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	hub := api.NewHub()
	a, err := newApp(batchProvider, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if serveWatch {
		job := a.defaultJob(nil)
		job.Name = "watch"
		w, err := watchInput(ctx, a.runner(), job)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	port := servePort
	if port == 0 {
		port = a.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Web.Host, port)

	server := api.NewServer(addr, api.Deps{
		Store:     a.store,
		Pipeline:  a.pipeline,
		Router:    a.router,
		Observer:  a.observer,
		Hub:       hub,
		Options:   a.cfg.RunOptions(),
		OutputDir: a.cfg.General.OutputDir,
	})

	fmt.Printf("Serving API at http://%s\n", addr)
	return server.Start(ctx)
}
