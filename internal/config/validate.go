// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package config

import (
	"fmt"
	"regexp"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateReader(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	return c.validateSink()
}

func (c *Config) validateSources() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("source %q: host is required", s.ID)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("source %q: port %d out of range", s.ID, s.Port)
		}
		if s.Username == "" {
			return fmt.Errorf("source %q: username is required", s.ID)
		}
		if s.Password == "" && s.PrivateKeyPath == "" {
			return fmt.Errorf("source %q: either password or private_key_path is required", s.ID)
		}
		if s.BasePath == "" {
			return fmt.Errorf("source %q: base_path is required", s.ID)
		}
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.MaxDepth < 1 {
		return fmt.Errorf("discovery.max_depth must be at least 1, got %d", c.Discovery.MaxDepth)
	}
	if _, err := regexp.Compile(c.Discovery.NamePattern); err != nil {
		return fmt.Errorf("discovery.name_pattern is not a valid regexp: %w", err)
	}
	return nil
}

func (c *Config) validateReader() error {
	if c.Reader.ChunkLines < 1 {
		return fmt.Errorf("reader.chunk_lines must be positive, got %d", c.Reader.ChunkLines)
	}
	if c.Reader.CountBlockSize < 1 {
		return fmt.Errorf("reader.count_block_size must be positive, got %d", c.Reader.CountBlockSize)
	}
	if c.Reader.CountMaxBytes < int64(c.Reader.CountBlockSize) {
		return fmt.Errorf("reader.count_max_bytes must be at least one block (%d)", c.Reader.CountBlockSize)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.BatchSize < 1 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.DedupWindow < 1 {
		return fmt.Errorf("engine.dedup_window must be positive, got %d", c.Engine.DedupWindow)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %v", c.Engine.PollInterval)
	}
	if c.Engine.MaxConcurrentSources < 0 {
		return fmt.Errorf("engine.max_concurrent_sources must not be negative, got %d", c.Engine.MaxConcurrentSources)
	}
	return nil
}

func (c *Config) validateSink() error {
	switch c.Sink.Kind {
	case "log":
		return nil
	case "nats":
		if c.Sink.NATS.URL == "" {
			return fmt.Errorf("sink.nats.url is required when sink.kind is nats")
		}
		if c.Sink.NATS.SubjectPrefix == "" {
			return fmt.Errorf("sink.nats.subject_prefix is required when sink.kind is nats")
		}
		return nil
	default:
		return fmt.Errorf("sink.kind must be \"nats\" or \"log\", got %q", c.Sink.Kind)
	}
}
