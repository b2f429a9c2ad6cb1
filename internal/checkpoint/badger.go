// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

const keyPrefix = "checkpoint:"

// BadgerStore persists checkpoints in an embedded Badger database. One
// store serves all sources.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the checkpoint database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithIndexCacheSize(16 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load(ctx context.Context, sourceID string) (models.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return models.Checkpoint{}, err
	}

	var cp models.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + sourceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", sourceID, err)
	}
	return cp, nil
}

func (s *BadgerStore) Save(ctx context.Context, cp models.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.SourceID == "" {
		return errors.New("checkpoint: empty source id")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.SourceID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+cp.SourceID), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SourceID, err)
	}
	metrics.CheckpointAdvances.WithLabelValues(cp.SourceID).Inc()
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + sourceID))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", sourceID, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
