package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Kunal-debug-png/GoComet/internal/artifactstore"
	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/config"
	"github.com/Kunal-debug-png/GoComet/internal/executor"
	"github.com/Kunal-debug-png/GoComet/internal/logging"
	"github.com/Kunal-debug-png/GoComet/internal/metrics"
	"github.com/Kunal-debug-png/GoComet/internal/runstore"
	"github.com/Kunal-debug-png/GoComet/internal/toolclient"
)

// app bundles the collaborators every subcommand beyond route/plan needs:
// a loaded Capability Index, a Run Store, an Artifact Store, a Tool
// Client, and an Executor wired to all three.
type app struct {
	cfg   config.Config
	idx   *capability.Index
	store runstore.Store
	arts  *artifactstore.Store
	tools *toolclient.Client
	exec  *executor.Executor
}

// newApp loads configuration and builds every collaborator an Executor
// needs. An empty DBPath selects the in-memory Run Store, so `orchestrator
// run` works against a fresh capability index with no prior setup.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Logging.Format)

	idx, err := capability.Load(cfg.Capability.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load capability index: %w", err)
	}

	var store runstore.Store
	if cfg.Storage.DBPath == "" {
		store = runstore.NewMemStore()
	} else {
		store, err = runstore.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: open run store: %w", err)
		}
	}

	arts, err := artifactstore.Open(cfg.Storage.ArtifactsRoot)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open artifact store: %w", err)
	}

	tools := toolclient.New(idx)
	tools.DiscoverManifests(context.Background())
	idx = tools.Index()
	m := metrics.New(prometheus.NewRegistry())

	exec := executor.New(store, arts, tools, idx,
		executor.WithWorkersPerRun(cfg.Executor.WorkersPerRun),
		executor.WithGlobalInFlight(cfg.Executor.GlobalInFlight),
		executor.WithRetryBackoff(msDuration(cfg.Executor.RetryBackoffMS)),
		executor.WithAgentTimeout(msDuration(cfg.Executor.AgentTimeoutMS)),
		executor.WithMetrics(m),
	)

	return &app{cfg: cfg, idx: idx, store: store, arts: arts, tools: tools, exec: exec}, nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("orchestrator: log level %q: %w", s, err)
	}
	return level, nil
}
