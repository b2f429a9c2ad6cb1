// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package services wraps Harvester components as suture services.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/harvester/internal/engine"
	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/models"
)

// Runner is the subset of the engine the scheduler needs.
type Runner interface {
	Run(ctx context.Context, identity models.SourceIdentity) (engine.RunSummary, error)
}

// DefaultPollInterval is the tick between ingestion runs for one source.
const DefaultPollInterval = 5 * time.Minute

// SchedulerService runs one source's ingestion on a fixed interval. The
// first run fires immediately on start. A tick that lands while the
// previous run is still going is skipped, never queued; the engine
// enforces this and the service just logs it.
type SchedulerService struct {
	runner   Runner
	identity models.SourceIdentity
	interval time.Duration
}

func NewSchedulerService(runner Runner, identity models.SourceIdentity, interval time.Duration) *SchedulerService {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &SchedulerService{
		runner:   runner,
		identity: identity,
		interval: interval,
	}
}

// Serve implements suture.Service. Run failures are logged, not
// returned: a flaky host must not trip the supervisor's restart backoff
// and delay the other sources' schedules.
func (s *SchedulerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SchedulerService) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx, s.identity)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrRunInProgress):
		logging.Debug().Str("source", s.identity.ID).Msg("previous run still active, tick skipped")
	case errors.Is(err, context.Canceled):
	default:
		logging.Error().Err(err).Str("source", s.identity.ID).Msg("ingestion run failed")
	}
}

func (s *SchedulerService) String() string {
	return "scheduler-" + s.identity.ID
}
