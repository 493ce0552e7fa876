package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// set by the release build
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "deck-orch",
		Short: "Deck Orchestrator - turn documents into narrated slide decks",
		Long: `Deck Orchestrator structures a document into sections, generates one slide
per section with a generative provider, evaluates and optimizes the slides,
writes narration and assembles the final presentation.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
