// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package config loads and validates Harvester's layered configuration
// using Koanf v2: built-in defaults, then an optional YAML file, then
// environment variables (highest priority).
package config

import (
	"time"

	"github.com/tomtom215/harvester/internal/models"
)

// Config is the root configuration for the Harvester service.
type Config struct {
	Sources    []SourceConfig   `koanf:"sources"`
	SFTP       SFTPConfig       `koanf:"sftp"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Reader     ReaderConfig     `koanf:"reader"`
	Engine     EngineConfig     `koanf:"engine"`
	Sink       SinkConfig       `koanf:"sink"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// SourceConfig describes one remote game server to ingest from.
type SourceConfig struct {
	ID             string `koanf:"id"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	Username       string `koanf:"username"`
	Password       string `koanf:"password"`
	PrivateKeyPath string `koanf:"private_key_path"`
	BasePath       string `koanf:"base_path"`
}

// Identity converts the config block into the immutable identity the
// pipeline passes around.
func (s SourceConfig) Identity() models.SourceIdentity {
	return models.SourceIdentity{
		ID:             s.ID,
		Host:           s.Host,
		Port:           s.Port,
		Username:       s.Username,
		Password:       s.Password,
		PrivateKeyPath: s.PrivateKeyPath,
		BasePath:       s.BasePath,
	}
}

// SFTPConfig governs the connection pool and remote-call throttling.
type SFTPConfig struct {
	// MaxSessionsPerKey bounds concurrently open sessions per host:port:user.
	MaxSessionsPerKey int `koanf:"max_sessions_per_key"`

	// DialTimeout bounds a single SSH/SFTP handshake.
	DialTimeout time.Duration `koanf:"dial_timeout"`

	// OpsPerSecond and OpsBurst configure the per-source token bucket for
	// remote operations.
	OpsPerSecond float64 `koanf:"ops_per_second"`
	OpsBurst     int     `koanf:"ops_burst"`

	// MetadataTTL is how long remote stat and line-count results are
	// memoized between discovery passes.
	MetadataTTL time.Duration `koanf:"metadata_ttl"`
}

// DiscoveryConfig governs recursive remote file discovery.
type DiscoveryConfig struct {
	// MaxDepth bounds directory recursion.
	MaxDepth int `koanf:"max_depth"`

	// NamePattern is the regexp candidate filenames must match.
	NamePattern string `koanf:"name_pattern"`

	// MinFileSize skips files smaller than this many bytes (empty or
	// header-only logs).
	MinFileSize int64 `koanf:"min_file_size"`

	// MaxFileAge, when positive, skips files older than now-MaxFileAge.
	MaxFileAge time.Duration `koanf:"max_file_age"`
}

// ReaderConfig governs chunked remote file reading.
type ReaderConfig struct {
	// ChunkLines is the maximum number of lines returned per ReadChunk.
	ChunkLines int `koanf:"chunk_lines"`

	// FastCountTimeout bounds the remote wc-l line-count attempt.
	FastCountTimeout time.Duration `koanf:"fast_count_timeout"`

	// CountBlockSize is the block size used by the streaming fallback.
	CountBlockSize int `koanf:"count_block_size"`

	// CountMaxBytes caps how much of a huge file the fallback scans before
	// extrapolating.
	CountMaxBytes int64 `koanf:"count_max_bytes"`
}

// EngineConfig governs the ingestion engine.
type EngineConfig struct {
	// BatchSize is the event count that triggers a sink flush.
	BatchSize int `koanf:"batch_size"`

	// DedupWindow is the capacity of the recently-seen fingerprint window.
	DedupWindow int `koanf:"dedup_window"`

	// PollInterval is the scheduled tick between ingestion runs per source.
	PollInterval time.Duration `koanf:"poll_interval"`

	// MaxConcurrentSources bounds sources ingesting at the same time.
	// 0 means one worker per configured source, capped at 8.
	MaxConcurrentSources int `koanf:"max_concurrent_sources"`

	// FlushRetries is the retry budget for a failing sink flush.
	FlushRetries int `koanf:"flush_retries"`
}

// SinkConfig selects and configures the downstream event sink.
type SinkConfig struct {
	// Kind is "nats" or "log" (dry-run).
	Kind string `koanf:"kind"`

	NATS NATSSinkConfig `koanf:"nats"`
}

// NATSSinkConfig configures the JetStream sink.
type NATSSinkConfig struct {
	URL            string        `koanf:"url"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// CheckpointConfig configures the BadgerDB checkpoint store.
type CheckpointConfig struct {
	// Path is the Badger directory. Empty selects an in-memory store,
	// which is only useful for tests and dry runs.
	Path string `koanf:"path"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Sources: nil, // sources come from the config file
		SFTP: SFTPConfig{
			MaxSessionsPerKey: 5,
			DialTimeout:       15 * time.Second,
			OpsPerSecond:      5,
			OpsBurst:          5,
			MetadataTTL:       time.Minute,
		},
		Discovery: DiscoveryConfig{
			MaxDepth:    12,
			NamePattern: `^\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}\.csv$`,
			MinFileSize: 0,
			MaxFileAge:  0,
		},
		Reader: ReaderConfig{
			ChunkLines:       5000,
			FastCountTimeout: 5 * time.Second,
			CountBlockSize:   1 << 20,   // 1MB
			CountMaxBytes:    100 << 20, // 100MB
		},
		Engine: EngineConfig{
			BatchSize:            1000,
			DedupWindow:          10000,
			PollInterval:         5 * time.Minute,
			MaxConcurrentSources: 0,
			FlushRetries:         3,
		},
		Sink: SinkConfig{
			Kind: "nats",
			NATS: NATSSinkConfig{
				URL:            "nats://127.0.0.1:4222",
				SubjectPrefix:  "killfeed",
				MaxReconnects:  -1,
				ReconnectWait:  2 * time.Second,
				PublishTimeout: 10 * time.Second,
			},
		},
		Checkpoint: CheckpointConfig{
			Path: "/data/harvester/checkpoints",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
