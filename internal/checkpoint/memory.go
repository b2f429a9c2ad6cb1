// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/harvester/internal/models"
)

// MemoryStore keeps checkpoints in memory. Progress is lost on restart;
// useful for tests and for deployments that prefer a full re-read, since
// delivery is idempotent downstream.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]models.Checkpoint)}
}

func (s *MemoryStore) Load(_ context.Context, sourceID string) (models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.data[sourceID]
	if !ok {
		return models.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (s *MemoryStore) Save(_ context.Context, cp models.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.SourceID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sourceID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
