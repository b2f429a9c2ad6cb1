// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package checkpoint persists per-source ingestion progress so restarts
// resume where the previous run stopped instead of re-reading every log.
package checkpoint

import (
	"context"
	"errors"

	"github.com/tomtom215/harvester/internal/models"
)

// ErrNotFound is returned by Load when no checkpoint exists for a source.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists checkpoints. Implementations must be safe for concurrent
// use; the engine saves from one goroutine per source.
type Store interface {
	// Load returns the checkpoint for a source, or ErrNotFound.
	Load(ctx context.Context, sourceID string) (models.Checkpoint, error)

	// Save writes a checkpoint, replacing any previous one.
	Save(ctx context.Context, cp models.Checkpoint) error

	// Delete removes a source's checkpoint so the next run starts over.
	Delete(ctx context.Context, sourceID string) error

	// Close flushes and releases the underlying storage.
	Close() error
}
