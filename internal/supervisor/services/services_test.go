// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/harvester/internal/engine"
	"github.com/tomtom215/harvester/internal/models"
)

type fakeRunner struct {
	runs atomic.Int32
	err  error
}

func (r *fakeRunner) Run(_ context.Context, _ models.SourceIdentity) (engine.RunSummary, error) {
	r.runs.Add(1)
	return engine.RunSummary{}, r.err
}

func schedulerIdentity() models.SourceIdentity {
	return models.SourceIdentity{ID: "alpha", Host: "h", Port: 22, Username: "u"}
}

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewSchedulerService(runner, schedulerIdentity(), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", runner.runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerSwallowsRunErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("host unreachable")}
	svc := NewSchedulerService(runner, schedulerIdentity(), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	// Serve must keep ticking despite run errors and exit only on ctx.
	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("serve = %v, want deadline exceeded", err)
	}
	if runner.runs.Load() < 2 {
		t.Errorf("runs = %d, want ticks to continue past errors", runner.runs.Load())
	}
}

func TestSchedulerString(t *testing.T) {
	svc := NewSchedulerService(&fakeRunner{}, schedulerIdentity(), 0)
	if got := svc.String(); got != "scheduler-alpha" {
		t.Errorf("String() = %q", got)
	}
	if svc.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want default", svc.interval)
	}
}

type fakeHTTPServer struct {
	serveErr  error
	stop      chan struct{}
	shutdowns atomic.Int32
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.serveErr != nil {
		return s.serveErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(_ context.Context) error {
	s.shutdowns.Add(1)
	close(s.stop)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := &fakeHTTPServer{stop: make(chan struct{})}
	svc := NewHTTPServerService("metrics-server", server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServiceReportsStartupFailure(t *testing.T) {
	server := &fakeHTTPServer{serveErr: errors.New("address in use")}
	svc := NewHTTPServerService("metrics-server", server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("serve succeeded with a failing listener")
	}
}
