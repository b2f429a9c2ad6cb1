// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package sink delivers parsed kill events downstream. The primary sink
// publishes to NATS JetStream with per-event message IDs so the broker's
// deduplication window makes redelivery after a crash harmless.
package sink

import (
	"context"

	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

// EventSink accepts batches of events. Flush is all-or-nothing from the
// caller's perspective: on error the engine retries the whole batch, so
// implementations must tolerate replayed events.
type EventSink interface {
	Flush(ctx context.Context, events []models.KillEvent) error
	Close() error
}

// LogSink writes events to the structured log instead of a broker. Used
// for dry runs and local debugging.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Flush(ctx context.Context, events []models.KillEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ev := range events {
		logging.Info().
			Str("source", ev.SourceID).
			Time("timestamp", ev.Timestamp).
			Str("killer", ev.KillerName).
			Str("victim", ev.VictimName).
			Str("weapon", ev.Weapon).
			Int("distance", ev.Distance).
			Bool("self_inflicted", ev.IsSelfInflicted).
			Uint64("fingerprint", ev.Fingerprint).
			Msg("kill event")
	}
	if len(events) > 0 {
		source := events[0].SourceID
		metrics.BatchesFlushed.WithLabelValues(source).Inc()
		metrics.EventsDelivered.WithLabelValues(source).Add(float64(len(events)))
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
