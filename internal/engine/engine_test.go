// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/harvester/internal/checkpoint"
	"github.com/tomtom215/harvester/internal/models"
	"github.com/tomtom215/harvester/internal/remote"
)

var testPattern = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}\.csv$`)

type memFileInfo struct {
	name string
	size int64
	dir  bool
}

func (f memFileInfo) Name() string       { return f.name }
func (f memFileInfo) Size() int64        { return f.size }
func (f memFileInfo) Mode() os.FileMode  { return 0o644 }
func (f memFileInfo) ModTime() time.Time { return time.Time{} }
func (f memFileInfo) IsDir() bool        { return f.dir }
func (f memFileInfo) Sys() interface{}   { return nil }

// memSession serves a flat in-memory log directory.
type memSession struct {
	mu    sync.Mutex
	files map[string]string // full path -> content
	base  string
}

func newMemSession(base string) *memSession {
	return &memSession{files: make(map[string]string), base: base}
}

func (s *memSession) put(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Join(s.base, name)] = content
}

func (s *memSession) ReadDir(p string) ([]os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != s.base {
		return nil, os.ErrNotExist
	}
	var entries []os.FileInfo
	for full, content := range s.files {
		entries = append(entries, memFileInfo{name: path.Base(full), size: int64(len(content))})
	}
	return entries, nil
}

func (s *memSession) Stat(p string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return memFileInfo{name: path.Base(p), size: int64(len(content))}, nil
}

func (s *memSession) Open(p string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (s *memSession) Exec(_ context.Context, _ string) (string, error) {
	return "", errors.New("exec disabled")
}

func (s *memSession) Alive() bool  { return true }
func (s *memSession) Close() error { return nil }

// memDialer always hands out the same session.
type memDialer struct{ sess *memSession }

func (d *memDialer) Dial(_ context.Context, _ models.SourceIdentity) (remote.Session, error) {
	return d.sess, nil
}

// captureSink records every flushed batch.
type captureSink struct {
	mu      sync.Mutex
	batches [][]models.KillEvent
	failN   int // fail the first N flushes
}

func (s *captureSink) Flush(_ context.Context, events []models.KillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("sink unavailable")
	}
	batch := make([]models.KillEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) events() []models.KillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.KillEvent
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func testEngine(sess *memSession, snk *captureSink, store checkpoint.Store, opts Options) *Engine {
	pool := remote.NewPool(&memDialer{sess: sess}, 2)
	if opts.Discovery.NamePattern == nil {
		opts.Discovery.NamePattern = testPattern
	}
	return New(pool, store, snk, opts)
}

func engineIdentity() models.SourceIdentity {
	return models.SourceIdentity{
		ID:       "alpha",
		Host:     "game.example.net",
		Port:     2022,
		Username: "ingest",
		Password: "secret",
		BasePath: "/logs",
	}
}

func TestRunIngestsFilesInOrder(t *testing.T) {
	sess := newMemSession("/logs")
	// Older file: five valid kills and one corrupt line.
	sess.put("2026.03.01-10.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.01;A;k1;B;v1;AK-74;100",
		"2026.03.01-10.00.02;A;k1;C;v2;AK-74;90",
		"garbage line",
		"2026.03.01-10.00.03;B;k2;A;v3;SVD;220",
		"2026.03.01-10.00.04;C;k3;B;v1;MP5;15",
		"2026.03.01-10.00.05;A;k1;D;v4;AK-74;130",
	}, "\n")+"\n")
	// Newer file: three valid kills plus a replay of the last kill above.
	sess.put("2026.03.01-11.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.05;A;k1;D;v4;AK-74;130",
		"2026.03.01-11.00.01;D;k4;A;v3;Mosin;300",
		"2026.03.01-11.00.02;A;k1;D;v4;SVD;250",
		"2026.03.01-11.00.03;B;k2;C;v2;MP5;40",
	}, "\n")+"\n")

	snk := &captureSink{}
	store := checkpoint.NewMemoryStore()
	eng := testEngine(sess, snk, store, Options{})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s", summary.Outcome)
	}
	if summary.FilesProcessed != 2 {
		t.Errorf("files processed = %d, want 2", summary.FilesProcessed)
	}
	if summary.LinesRejected != 1 {
		t.Errorf("rejected = %d, want 1 (the corrupt line)", summary.LinesRejected)
	}
	if summary.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1 (the cross-file replay)", summary.Duplicates)
	}
	if summary.EventsDelivered != 8 {
		t.Errorf("delivered = %d, want 8", summary.EventsDelivered)
	}

	events := snk.events()
	if len(events) != 8 {
		t.Fatalf("sink received %d events, want 8", len(events))
	}
	// Events arrive oldest file first, in line order.
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Errorf("event %d out of order: %v after %v", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}

	cp, err := store.Load(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.LastFileName != "2026.03.01-11.00.00.csv" {
		t.Errorf("checkpoint file = %q, want the newest file", cp.LastFileName)
	}
	if cp.LastLineOffset != 4 {
		t.Errorf("checkpoint offset = %d, want 4", cp.LastLineOffset)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.01;A;k1;B;v1;AK-74;100",
		"2026.03.01-10.00.02;A;k1;C;v2;AK-74;90",
	}, "\n")+"\n")

	snk := &captureSink{}
	store := checkpoint.NewMemoryStore()
	eng := testEngine(sess, snk, store, Options{})
	identity := engineIdentity()

	if _, err := eng.Run(context.Background(), identity); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := len(snk.events()); got != 2 {
		t.Fatalf("first run delivered %d, want 2", got)
	}

	// Nothing new: the second run delivers nothing.
	summary, err := eng.Run(context.Background(), identity)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.EventsDelivered != 0 {
		t.Errorf("idle run delivered %d events", summary.EventsDelivered)
	}

	// Append two lines to the checkpoint file; only they are ingested.
	sess.put("2026.03.01-10.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.01;A;k1;B;v1;AK-74;100",
		"2026.03.01-10.00.02;A;k1;C;v2;AK-74;90",
		"2026.03.01-10.00.03;B;k2;A;v3;SVD;220",
		"2026.03.01-10.00.04;C;k3;B;v1;MP5;15",
	}, "\n")+"\n")

	summary, err = eng.Run(context.Background(), identity)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if summary.EventsDelivered != 2 {
		t.Errorf("resumed run delivered %d, want 2 appended events", summary.EventsDelivered)
	}
	if summary.LinesRead != 2 {
		t.Errorf("resumed run read %d lines, want 2", summary.LinesRead)
	}

	cp, _ := store.Load(context.Background(), "alpha")
	if cp.LastLineOffset != 4 {
		t.Errorf("checkpoint offset = %d, want 4", cp.LastLineOffset)
	}
}

func TestRunSkipsWhenAlreadyRunning(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{})
	identity := engineIdentity()

	st := eng.sourceState(identity.ID)
	st.running.Lock()
	defer st.running.Unlock()

	summary, err := eng.Run(context.Background(), identity)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("error = %v, want ErrRunInProgress", err)
	}
	if summary.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", summary.Outcome)
	}
}

func TestRunBatchesAtThreshold(t *testing.T) {
	sess := newMemSession("/logs")
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		ts := time.Date(2026, 3, 1, 10, 0, i, 0, time.UTC)
		sb.WriteString(ts.Format("2006.01.02-15.04.05"))
		sb.WriteString(";A;k1;B;v")
		sb.WriteString(string(rune('a' + i%26)))
		sb.WriteString(";AK-74;100\n")
	}
	sess.put("2026.03.01-10.00.00.csv", sb.String())

	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{BatchSize: 10})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.EventsDelivered != 25 {
		t.Fatalf("delivered = %d, want 25", summary.EventsDelivered)
	}
	if len(snk.batches) != 3 {
		t.Fatalf("batches = %d, want 3 (10+10+5)", len(snk.batches))
	}
	if len(snk.batches[0]) != 10 || len(snk.batches[2]) != 5 {
		t.Errorf("batch sizes = %d/%d/%d", len(snk.batches[0]), len(snk.batches[1]), len(snk.batches[2]))
	}
}

func TestRunRetriesFailedFlush(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{failN: 2}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{FlushRetries: 3, FlushBackoff: 5 * time.Millisecond})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err != nil {
		t.Fatalf("run with transient sink failures: %v", err)
	}
	if summary.EventsDelivered != 1 {
		t.Errorf("delivered = %d, want 1", summary.EventsDelivered)
	}
}

func TestRunFailsWhenSinkStaysDown(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{failN: 100}
	store := checkpoint.NewMemoryStore()
	eng := testEngine(sess, snk, store, Options{FlushRetries: 2, FlushBackoff: 5 * time.Millisecond})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err == nil {
		t.Fatal("run succeeded with a dead sink")
	}
	if summary.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", summary.Outcome)
	}
	// The checkpoint must not advance past undelivered events.
	if _, err := store.Load(context.Background(), "alpha"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("checkpoint advanced despite failed delivery: %v", err)
	}
}

func TestRunCancellation(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := eng.Run(ctx, engineIdentity())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if summary.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", summary.Outcome)
	}
}

func TestRunOnceIgnoresCheckpoint(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.01;A;k1;B;v1;AK-74;100",
		"2026.03.01-10.00.02;A;k1;C;v2;AK-74;90",
	}, "\n")+"\n")

	snk := &captureSink{}
	store := checkpoint.NewMemoryStore()
	eng := testEngine(sess, snk, store, Options{})
	identity := engineIdentity()

	if _, err := eng.Run(context.Background(), identity); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A backfill re-reads everything; the dedup window drops the repeats
	// before they reach the sink.
	summary, err := eng.RunOnce(context.Background(), identity, 0)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if summary.LinesRead != 2 {
		t.Errorf("backfill read %d lines, want 2 (checkpoint ignored)", summary.LinesRead)
	}
	if summary.Duplicates != 2 {
		t.Errorf("backfill duplicates = %d, want 2", summary.Duplicates)
	}
	if summary.EventsDelivered != 0 {
		t.Errorf("backfill delivered %d, want 0", summary.EventsDelivered)
	}
}

func TestStatusLifecycle(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{})
	identity := engineIdentity()

	if _, ok := eng.Status("alpha"); ok {
		t.Error("status reported for a source that never ran")
	}

	if _, err := eng.Run(context.Background(), identity); err != nil {
		t.Fatalf("run: %v", err)
	}

	status, ok := eng.Status("alpha")
	if !ok {
		t.Fatal("no status after run")
	}
	if status.State != StateIdle || status.Running {
		t.Errorf("status after run = %+v, want idle", status)
	}
	if status.LastSummary == nil || status.LastSummary.Outcome != OutcomeCompleted {
		t.Errorf("last summary = %+v", status.LastSummary)
	}
}

func TestRunReportsProgressPerFile(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")
	sess.put("2026.03.01-11.00.00.csv", "2026.03.01-11.00.01;B;k2;A;v1;SVD;220\n")

	var mu sync.Mutex
	var updates []Progress
	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{
		Progress: func(p Progress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		},
	})

	if _, err := eng.Run(context.Background(), engineIdentity()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("got %d progress updates, want 2", len(updates))
	}
	first, last := updates[0], updates[1]
	if first.FilesDone != 1 || first.FilesTotal != 2 {
		t.Errorf("first update = %d/%d files, want 1/2", first.FilesDone, first.FilesTotal)
	}
	if last.FilesDone != 2 || last.FilesTotal != 2 {
		t.Errorf("last update = %d/%d files, want 2/2", last.FilesDone, last.FilesTotal)
	}
	if last.ETA != 0 {
		t.Errorf("final update carries ETA %v, want 0", last.ETA)
	}
	if last.EventsProcessed != 2 {
		t.Errorf("final update reports %d events, want 2", last.EventsProcessed)
	}
}

func TestRunToleratesPanickingProgressCallback(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &captureSink{}
	eng := testEngine(sess, snk, checkpoint.NewMemoryStore(), Options{
		Progress: func(Progress) { panic("observer bug") },
	})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed despite the panicking callback", summary.Outcome)
	}
}

// overlapSink measures how many flushes are in flight at once. Flushes
// happen inside the engine's concurrency bound, so the peak observes it.
type overlapSink struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (s *overlapSink) Flush(_ context.Context, _ []models.KillEvent) error {
	s.mu.Lock()
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil
}

func (s *overlapSink) Close() error { return nil }

func TestRunBoundsConcurrentSources(t *testing.T) {
	sess := newMemSession("/logs")
	sess.put("2026.03.01-10.00.00.csv", "2026.03.01-10.00.01;A;k1;B;v1;AK-74;100\n")

	snk := &overlapSink{}
	pool := remote.NewPool(&memDialer{sess: sess}, 4)
	eng := New(pool, checkpoint.NewMemoryStore(), snk, Options{
		MaxConcurrentSources: 1,
		Discovery:            remote.DiscoveryOptions{NamePattern: testPattern},
	})

	var wg sync.WaitGroup
	for _, id := range []string{"alpha", "bravo", "charlie"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			identity := engineIdentity()
			identity.ID = id
			if _, err := eng.Run(context.Background(), identity); err != nil {
				t.Errorf("run %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if snk.peak != 1 {
		t.Errorf("peak concurrent flushes = %d, want 1", snk.peak)
	}
}

func TestRunReadsFileDespiteEstimatedLineCount(t *testing.T) {
	sess := newMemSession("/logs")
	// Two valid kills; the first 16 bytes hold no newline, so a capped
	// streaming count extrapolates to zero lines.
	sess.put("2026.03.01-10.00.00.csv", strings.Join([]string{
		"2026.03.01-10.00.01;A;k1;B;v1;AK-74;100",
		"2026.03.01-10.00.02;B;k2;A;v1;SVD;220",
	}, "\n")+"\n")

	snk := &captureSink{}
	store := checkpoint.NewMemoryStore()
	eng := testEngine(sess, snk, store, Options{
		Reader: remote.ReaderOptions{
			CountBlockSize: 16,
			CountMaxBytes:  16,
		},
	})

	summary, err := eng.Run(context.Background(), engineIdentity())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.EventsDelivered != 2 {
		t.Errorf("delivered = %d, want 2 despite the undercounted estimate", summary.EventsDelivered)
	}

	cp, err := store.Load(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.LastFileName != "2026.03.01-10.00.00.csv" || cp.LastLineOffset != 2 {
		t.Errorf("checkpoint = %s offset %d, want the file at offset 2", cp.LastFileName, cp.LastLineOffset)
	}
}
