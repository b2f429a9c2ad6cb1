// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package main is the entry point for the Harvester service.
//
// Harvester ingests kill-log CSV files from remote game servers over
// SFTP, parses them into structured kill events, deduplicates them, and
// delivers them in batches to a downstream sink (NATS JetStream or a
// log-only dry run).
//
// # Application Architecture
//
// The service initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment variables (Koanf v2)
//  2. Checkpoint store: BadgerDB at checkpoint.path, or in-memory when unset
//  3. SFTP connection pool: bounded sessions per host:port:user
//  4. Event sink: NATS JetStream or log sink, wrapped in a circuit breaker
//  5. Ingestion engine: discovery, chunked reading, parsing, dedup, batching
//  6. Supervisor tree: one scheduler service per source plus the metrics server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HARVESTER_ prefix, __ separates nesting)
//   - Config file (harvester.yaml, or HARVESTER_CONFIG)
//   - Built-in defaults
//
// Sources cannot be expressed as flat environment variables, so at
// minimum a config file listing the sources is required.
//
// # Signal Handling
//
// The service handles graceful shutdown on SIGINT and SIGTERM:
//   - Scheduler services stop ticking and in-flight runs are cancelled
//   - Checkpoints already persisted are untouched, so no events are lost
//   - The pool, sink, and checkpoint store are closed in order
//
// # Example Usage
//
// Dry run against one server, no broker:
//
//	export HARVESTER_SINK__KIND=log
//	./harvester
//
// Production with NATS JetStream:
//
//	export HARVESTER_SINK__KIND=nats
//	export HARVESTER_SINK__NATS__URL=nats://broker:4222
//	export HARVESTER_CHECKPOINT__PATH=/var/lib/harvester/checkpoints
//	./harvester
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/tomtom215/harvester/internal/cache"
	"github.com/tomtom215/harvester/internal/checkpoint"
	"github.com/tomtom215/harvester/internal/config"
	"github.com/tomtom215/harvester/internal/engine"
	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/remote"
	"github.com/tomtom215/harvester/internal/resilience"
	"github.com/tomtom215/harvester/internal/sink"
	"github.com/tomtom215/harvester/internal/supervisor"
	"github.com/tomtom215/harvester/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("sources", len(cfg.Sources)).
		Str("sink", cfg.Sink.Kind).
		Str("checkpoint_path", cfg.Checkpoint.Path).
		Msg("Starting Harvester")

	store := openCheckpointStore(cfg)
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing checkpoint store")
		}
	}()

	dialer := remote.SSHDialer{Timeout: cfg.SFTP.DialTimeout}
	pool := remote.NewPool(dialer, cfg.SFTP.MaxSessionsPerKey)
	defer pool.CloseAll()

	snk := buildSink(cfg)
	defer func() {
		if err := snk.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing sink")
		}
	}()

	metaCache := cache.New(cfg.SFTP.MetadataTTL)
	defer metaCache.Close()

	eng := engine.New(pool, store, snk, engineOptions(cfg, metaCache))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	for _, src := range cfg.Sources {
		tree.AddIngestionService(services.NewSchedulerService(eng, src.Identity(), cfg.Engine.PollInterval))
	}
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, func() any { return eng.Statuses() })
		tree.AddObservabilityService(services.NewHTTPServerService("metrics-server", srv, 10*time.Second))
		logging.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Harvester stopped gracefully")
}

// openCheckpointStore opens the BadgerDB store, or an in-memory store when
// no path is configured. The in-memory store re-ingests everything on
// restart; JetStream's duplicate window absorbs the replay, but it is only
// intended for dry runs.
func openCheckpointStore(cfg *config.Config) checkpoint.Store {
	if cfg.Checkpoint.Path == "" {
		logging.Warn().Msg("No checkpoint path configured, progress will not survive restarts")
		return checkpoint.NewMemoryStore()
	}
	store, err := checkpoint.OpenBadger(cfg.Checkpoint.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Checkpoint.Path).Msg("Failed to open checkpoint store")
	}
	logging.Info().Str("path", cfg.Checkpoint.Path).Msg("Checkpoint store opened")
	return store
}

// buildSink constructs the configured sink and wraps it in a circuit
// breaker so a dead broker fails runs fast.
func buildSink(cfg *config.Config) sink.EventSink {
	var inner sink.EventSink
	switch cfg.Sink.Kind {
	case "log":
		logging.Info().Msg("Using log sink (dry run, events are not delivered)")
		inner = sink.NewLogSink()
	default:
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		natsSink, err := sink.NewNATSSink(connectCtx, sink.NATSConfig{
			URL:            cfg.Sink.NATS.URL,
			SubjectPrefix:  cfg.Sink.NATS.SubjectPrefix,
			MaxReconnects:  cfg.Sink.NATS.MaxReconnects,
			ReconnectWait:  cfg.Sink.NATS.ReconnectWait,
			PublishTimeout: cfg.Sink.NATS.PublishTimeout,
		})
		if err != nil {
			logging.Fatal().Err(err).Str("url", cfg.Sink.NATS.URL).Msg("Failed to connect to NATS")
		}
		logging.Info().Str("url", cfg.Sink.NATS.URL).Msg("Connected to NATS JetStream")
		inner = natsSink
	}
	return sink.NewBreakerSink(inner, sink.DefaultBreakerConfig("sink"))
}

// engineOptions translates the validated configuration into engine options.
func engineOptions(cfg *config.Config, metaCache *cache.Cache) engine.Options {
	concurrency := cfg.Engine.MaxConcurrentSources
	if concurrency == 0 {
		concurrency = min(len(cfg.Sources), 8)
	}
	opts := engine.Options{
		BatchSize:            cfg.Engine.BatchSize,
		DedupWindow:          cfg.Engine.DedupWindow,
		FlushRetries:         cfg.Engine.FlushRetries,
		MaxConcurrentSources: concurrency,
		Discovery: remote.DiscoveryOptions{
			// Validation already compiled this pattern once.
			NamePattern: regexp.MustCompile(cfg.Discovery.NamePattern),
			MaxDepth:    cfg.Discovery.MaxDepth,
			MinSize:     cfg.Discovery.MinFileSize,
			MaxAge:      cfg.Discovery.MaxFileAge,
		},
		Reader: remote.ReaderOptions{
			ChunkLines:       cfg.Reader.ChunkLines,
			FastCountTimeout: cfg.Reader.FastCountTimeout,
			CountBlockSize:   cfg.Reader.CountBlockSize,
			CountMaxBytes:    cfg.Reader.CountMaxBytes,
			Cache:            metaCache,
		},
	}
	if cfg.SFTP.OpsPerSecond > 0 {
		opts.Throttle = resilience.NewBucket(cfg.SFTP.OpsPerSecond, cfg.SFTP.OpsBurst)
	}
	return opts
}
