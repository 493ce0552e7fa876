package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/deck-orchestrator/internal/config"
	"github.com/hochfrequenz/deck-orchestrator/internal/notify"
	"github.com/hochfrequenz/deck-orchestrator/internal/observer"
	"github.com/hochfrequenz/deck-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/deck-orchestrator/internal/prompts"
	"github.com/hochfrequenz/deck-orchestrator/internal/provider"
	"github.com/hochfrequenz/deck-orchestrator/internal/runstore"
)

const stuckThreshold = 30 * time.Minute

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return runstore.New(cfg.General.DatabasePath)
}

// app bundles the collaborators every processing command needs
type app struct {
	cfg      *config.Config
	store    *runstore.Store
	router   *provider.Router
	pipeline *pipeline.Pipeline
	observer *observer.Observer
}

// newApp wires config, store, providers and pipeline. Extra sinks receive
// every pipeline event next to the observer and the notifiers.
func newApp(providerName string, sinks ...pipeline.EventSink) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if providerName != "" {
		cfg.Pipeline.AIProvider = providerName
	}

	loader := prompts.DefaultLoader(cfg.Prompts.OverrideDir)
	router, err := provider.NewRouterFromConfig(cfg, loader)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	obs := observer.New(stuckThreshold)
	all := pipeline.Sinks{obs, notify.RunSink{Notifier: notify.FromConfig(cfg.Notifications)}}
	all = append(all, sinks...)

	return &app{
		cfg:      cfg,
		store:    store,
		router:   router,
		pipeline: pipeline.New(router, pipeline.ConfigFrom(cfg), all),
		observer: obs,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
