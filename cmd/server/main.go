// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the roleroute server, an
// adaptive model-routing gateway. It assembles the benchmark collection,
// ranking, refresh scheduling, and dispatch pipeline, then serves the
// OpenAI-compatible API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/roleroute/internal/api"
	"github.com/traylinx/roleroute/internal/benchmark"
	"github.com/traylinx/roleroute/internal/buildinfo"
	"github.com/traylinx/roleroute/internal/config"
	"github.com/traylinx/roleroute/internal/dispatch"
	"github.com/traylinx/roleroute/internal/evaluation"
	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/logging"
	"github.com/traylinx/roleroute/internal/prompts"
	"github.com/traylinx/roleroute/internal/ranking"
	"github.com/traylinx/roleroute/internal/router"
	"github.com/traylinx/roleroute/internal/scheduler"
	"github.com/traylinx/roleroute/internal/scoring"
	"github.com/traylinx/roleroute/internal/steering"
	"github.com/traylinx/roleroute/internal/usage"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("roleroute Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir, cfg.LogsMaxSizeMB); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	logging.SetDebugLevel(cfg.Debug)

	log.Infof("roleroute Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	if err = run(cfg); err != nil {
		log.Errorf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := hooks.NewEventBus()
	defer bus.Shutdown()

	recorder := hooks.NewRecorder(hooks.DefaultRecorderCapacity)
	recorder.Attach(bus)

	store := ranking.NewStore(cfg.Snapshots.Dir, cfg.Snapshots.Generations)
	if cfg.Snapshots.Dir != "" {
		restored, err := store.Load()
		if err != nil {
			log.WithError(err).Warn("Failed to restore ranking snapshot; starting cold")
		} else if !restored {
			log.Info("No persisted ranking snapshot; bootstrap rankings serve until the first evaluation")
		}
	}

	var audit *evaluation.AuditTrail
	if cfg.AuditDBPath != "" {
		var err error
		audit, err = evaluation.OpenAuditTrail(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("failed to open evaluation audit trail: %w", err)
		}
		defer audit.Close()
	}

	var sink usage.Sink = usage.NopSink{}
	if cfg.UsageDBPath != "" {
		sqlSink, err := usage.OpenSQLiteSink(cfg.UsageDBPath)
		if err != nil {
			return fmt.Errorf("failed to open usage sink: %w", err)
		}
		defer sqlSink.Close()
		sink = sqlSink
	}

	sources := make([]benchmark.Source, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		sources = append(sources, benchmark.NewFeedSource(feed))
	}

	profiles := make(map[string]scoring.Profile, len(cfg.Roles.Profiles))
	for role, weights := range cfg.Roles.Profiles {
		profiles[role] = scoring.Profile(weights)
	}

	coordinator := evaluation.NewCoordinator(evaluation.Options{
		Collector:  benchmark.NewCollector(sources),
		Normalizer: benchmark.NewNormalizer(cfg.Tolerance),
		Store:      store,
		Audit:      audit,
		Bus:        bus,
		Profiles:   profiles,
		Neutral:    cfg.NeutralScore,
		FreeTier:   cfg.FreeTier,
	})

	sched := scheduler.New(coordinator, cfg.GetRefreshInterval())
	if audit != nil {
		if last, err := audit.Last(); err == nil && last != nil {
			sched.SetLastRun(last)
		}
	}
	sched.Start(ctx, cfg.Refresh.OnStart)
	defer sched.Stop()

	registry := prompts.NewRegistry(cfg.PromptsDir, cfg.Roles.Default, bus)
	if cfg.PromptsDir != "" {
		if err := registry.LoadAll(); err != nil {
			log.WithError(err).Warn("Prompt strategies unavailable; requests pass through unrewritten")
		} else if err := registry.StartWatcher(); err != nil {
			log.WithError(err).Warn("Prompt hot-reload disabled")
		} else {
			defer registry.StopWatcher()
		}
	}

	var inferencer *steering.Inferencer
	if len(cfg.Steering) > 0 {
		var err error
		inferencer, err = steering.NewInferencer(cfg.Steering)
		if err != nil {
			return fmt.Errorf("failed to build steering rules: %w", err)
		}
	}

	backend := dispatch.NewHTTPBackend(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.GetBackendTimeout())
	dispatcher := dispatch.New(backend, sink, bus)

	server := api.NewServer(api.Options{
		Config:     cfg,
		Router:     router.New(store, cfg.Roles.Default, cfg.Bootstrap, bus),
		Dispatcher: dispatcher,
		Prompts:    registry,
		Inferencer: inferencer,
		Scheduler:  sched,
		Store:      store,
		Usage:      sink,
		Events:     recorder,
	})

	return server.Run(ctx)
}
