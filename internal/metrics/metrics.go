// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion pipeline:
// - SFTP connection pool health
// - File discovery and chunked reads
// - Parsing outcomes and dedup efficiency
// - Sink flushes and circuit breaker state
// - Per-run outcomes

var (
	// Connection pool metrics
	PoolSessionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftp_pool_sessions_open",
			Help: "Currently open SFTP sessions per pool key",
		},
		[]string{"pool_key"},
	)

	PoolAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sftp_pool_acquire_wait_seconds",
			Help:    "Time spent waiting to acquire a pooled SFTP session",
			Buckets: prometheus.DefBuckets,
		},
	)

	PoolDialErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftp_pool_dial_errors_total",
			Help: "Failed attempts to open a new SFTP session",
		},
		[]string{"pool_key"},
	)

	PoolStaleSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftp_pool_stale_sessions_total",
			Help: "Pooled sessions discarded after a failed liveness check",
		},
	)

	// Discovery metrics
	FilesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_files_total",
			Help: "Candidate log files found during discovery",
		},
		[]string{"source"},
	)

	DiscoveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_subdir_errors_total",
			Help: "Subdirectory traversal errors skipped during discovery",
		},
		[]string{"source"},
	)

	// Reader metrics
	ChunksRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reader_chunks_total",
			Help: "File chunks read from remote servers",
		},
		[]string{"source"},
	)

	LinesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reader_lines_total",
			Help: "Raw lines read from remote log files",
		},
		[]string{"source"},
	)

	LineCountFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reader_linecount_fallbacks_total",
			Help: "Line counts that fell back to streaming estimation",
		},
	)

	// Parser metrics
	EventsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_events_total",
			Help: "Lines parsed into kill events",
		},
		[]string{"source"},
	)

	ParseWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_warnings_total",
			Help: "Malformed or defaulted lines by reason",
		},
		[]string{"source", "reason"}, // "too_few_fields", "missing_identity", "bad_timestamp", "connection_line", "undecodable"
	)

	// Dedup metrics
	DedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_hits_total",
			Help: "Events dropped as in-window duplicates",
		},
		[]string{"source"},
	)

	// Sink metrics
	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_batches_total",
			Help: "Event batches accepted by the sink",
		},
		[]string{"source"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_events_total",
			Help: "Events durably accepted by the sink",
		},
		[]string{"source"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sink_flush_duration_seconds",
			Help:    "Duration of sink flush calls including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_errors_total",
			Help: "Sink flush attempts that returned an error",
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sink_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Engine metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_runs_total",
			Help: "Ingestion runs by outcome",
		},
		[]string{"source", "outcome"}, // "completed", "failed", "cancelled", "skipped"
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source"},
	)

	CheckpointAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_checkpoint_advances_total",
			Help: "Per-file checkpoint commits",
		},
		[]string{"source"},
	)
)
