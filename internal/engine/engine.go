// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package engine drives ingestion runs: discover remote kill logs, read
// them oldest-first in bounded chunks, parse and deduplicate events, and
// deliver them in batches, advancing a persisted checkpoint file by file.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/harvester/internal/checkpoint"
	"github.com/tomtom215/harvester/internal/dedup"
	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
	"github.com/tomtom215/harvester/internal/parser"
	"github.com/tomtom215/harvester/internal/remote"
	"github.com/tomtom215/harvester/internal/resilience"
	"github.com/tomtom215/harvester/internal/sink"
)

// ErrRunInProgress is returned when a run is requested for a source that
// is already mid-run. The scheduler treats this as a skipped tick.
var ErrRunInProgress = errors.New("engine: run already in progress")

// State names the phase a source's run is currently in.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateOrdering    State = "ordering"
	StateReading     State = "reading_file"
	StateFlushing    State = "flushing_batch"
	StateAdvancing   State = "advancing"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// RunSummary is the per-run accounting emitted when a run ends.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	SourceID        string        `json:"source_id"`
	Outcome         Outcome       `json:"outcome"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	FilesDiscovered int           `json:"files_discovered"`
	FilesProcessed  int           `json:"files_processed"`
	LinesRead       int           `json:"lines_read"`
	EventsParsed    int           `json:"events_parsed"`
	LinesRejected   int           `json:"lines_rejected"`
	Duplicates      int           `json:"duplicates"`
	EventsDelivered int           `json:"events_delivered"`
	Error           string        `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of a source's ingestion progress.
type Status struct {
	SourceID    string      `json:"source_id"`
	State       State       `json:"state"`
	Running     bool        `json:"running"`
	CurrentFile string      `json:"current_file,omitempty"`
	FileLines   int         `json:"file_lines,omitempty"`
	LineOffset  int         `json:"line_offset,omitempty"`
	LastSummary *RunSummary `json:"last_summary,omitempty"`
}

// Progress is an observational snapshot delivered to Options.Progress as
// a run works through its files.
type Progress struct {
	SourceID        string
	FilesDone       int
	FilesTotal      int
	LinesProcessed  int
	EventsProcessed int

	// ETA extrapolates remaining time from the files-done fraction. Zero
	// until the first file finishes and after the last.
	ETA time.Duration
}

// ProgressFunc receives Progress updates. Purely observational: a failing
// or panicking callback never affects the run.
type ProgressFunc func(Progress)

// Options tunes the engine. Zero fields take defaults.
type Options struct {
	// BatchSize is the event count that triggers a sink flush.
	BatchSize int

	// DedupWindow is the capacity of the per-source fingerprint window.
	DedupWindow int

	// FlushRetries is the retry budget for a failing flush.
	FlushRetries int

	// FlushBackoff is the initial delay between flush retries.
	FlushBackoff time.Duration

	// Discovery is applied to every discovery pass.
	Discovery remote.DiscoveryOptions

	// Reader is applied to every file read; Source is filled per run.
	Reader remote.ReaderOptions

	// Throttle, when set, paces remote chunk reads.
	Throttle *resilience.Bucket

	// MaxConcurrentSources bounds sources ingesting at the same time.
	// <= 0 means no bound.
	MaxConcurrentSources int

	// Progress, when set, is called after every processed file.
	Progress ProgressFunc
}

// DefaultBatchSize is the flush threshold when Options.BatchSize is zero.
const DefaultBatchSize = 1000

// Engine runs ingestion for any number of sources. One run per source at
// a time; concurrent sources are independent.
type Engine struct {
	pool      *remote.Pool
	discovery *remote.Discovery
	store     checkpoint.Store
	sink      sink.EventSink
	opts      Options
	sem       chan struct{}

	mu      sync.Mutex
	sources map[string]*sourceState
}

type sourceState struct {
	running sync.Mutex // held for the duration of a run

	mu     sync.Mutex
	status Status
	window *dedup.Window
}

func New(pool *remote.Pool, store checkpoint.Store, snk sink.EventSink, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushRetries <= 0 {
		opts.FlushRetries = 3
	}
	if opts.FlushBackoff <= 0 {
		opts.FlushBackoff = time.Second
	}
	e := &Engine{
		pool:      pool,
		discovery: remote.NewDiscovery(pool),
		store:     store,
		sink:      snk,
		opts:      opts,
		sources:   make(map[string]*sourceState),
	}
	if opts.MaxConcurrentSources > 0 {
		e.sem = make(chan struct{}, opts.MaxConcurrentSources)
	}
	return e
}

func (e *Engine) sourceState(id string) *sourceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sources[id]
	if !ok {
		st = &sourceState{
			status: Status{SourceID: id, State: StateIdle},
			window: dedup.NewWindow(id, e.opts.DedupWindow),
		}
		e.sources[id] = st
	}
	return st
}

// Status returns the snapshot for a source. ok is false for sources the
// engine has never run.
func (e *Engine) Status(sourceID string) (Status, bool) {
	e.mu.Lock()
	st, ok := e.sources[sourceID]
	e.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, true
}

// Statuses returns a snapshot for every source the engine has seen.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	states := make([]*sourceState, 0, len(e.sources))
	for _, st := range e.sources {
		states = append(states, st)
	}
	e.mu.Unlock()

	out := make([]Status, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.status)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Run executes one ingestion run for the source, resuming from its
// persisted checkpoint. If a run is already in flight the call returns
// ErrRunInProgress immediately; ticks are skipped, never queued.
func (e *Engine) Run(ctx context.Context, identity models.SourceIdentity) (RunSummary, error) {
	return e.run(ctx, identity, e.opts.Discovery, false)
}

// RunOnce executes a single backfill run that ignores the checkpoint and
// limits discovery to files newer than the lookback window. lookback <= 0
// means no age limit. The checkpoint still advances, so a backfill also
// repairs a corrupt cursor.
func (e *Engine) RunOnce(ctx context.Context, identity models.SourceIdentity, lookback time.Duration) (RunSummary, error) {
	opts := e.opts.Discovery
	opts.MaxAge = lookback
	return e.run(ctx, identity, opts, true)
}

func (e *Engine) run(ctx context.Context, identity models.SourceIdentity, discoveryOpts remote.DiscoveryOptions, ignoreCheckpoint bool) (RunSummary, error) {
	st := e.sourceState(identity.ID)
	if !st.running.TryLock() {
		metrics.RunsTotal.WithLabelValues(identity.ID, string(OutcomeSkipped)).Inc()
		return RunSummary{SourceID: identity.ID, Outcome: OutcomeSkipped}, ErrRunInProgress
	}
	defer st.running.Unlock()

	summary := RunSummary{
		RunID:     uuid.NewString(),
		SourceID:  identity.ID,
		StartedAt: time.Now().UTC(),
	}
	logger := logging.With().
		Str("source", identity.ID).
		Str("run_id", summary.RunID).
		Logger()

	err := e.runLocked(ctx, identity, discoveryOpts, ignoreCheckpoint, st, &summary, logger)
	summary.Duration = time.Since(summary.StartedAt)

	switch {
	case err == nil:
		summary.Outcome = OutcomeCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		summary.Outcome = OutcomeCancelled
	default:
		summary.Outcome = OutcomeFailed
		summary.Error = err.Error()
	}

	metrics.RunsTotal.WithLabelValues(identity.ID, string(summary.Outcome)).Inc()
	metrics.RunDuration.WithLabelValues(identity.ID).Observe(summary.Duration.Seconds())

	st.mu.Lock()
	s := summary
	st.status = Status{SourceID: identity.ID, State: StateIdle, LastSummary: &s}
	st.mu.Unlock()

	logger.Info().
		Str("outcome", string(summary.Outcome)).
		Dur("duration", summary.Duration).
		Int("files", summary.FilesProcessed).
		Int("events", summary.EventsDelivered).
		Int("duplicates", summary.Duplicates).
		Int("rejected", summary.LinesRejected).
		Msg("ingestion run finished")

	return summary, err
}

func (e *Engine) runLocked(ctx context.Context, identity models.SourceIdentity, discoveryOpts remote.DiscoveryOptions, ignoreCheckpoint bool, st *sourceState, summary *RunSummary, logger zerolog.Logger) error {
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var cp models.Checkpoint
	if !ignoreCheckpoint {
		loaded, err := e.store.Load(ctx, identity.ID)
		switch {
		case err == nil:
			cp = loaded
		case errors.Is(err, checkpoint.ErrNotFound):
		default:
			return fmt.Errorf("load checkpoint: %w", err)
		}
	}

	st.setState(StateDiscovering, "", 0, 0)
	files, err := e.discovery.Discover(ctx, identity, discoveryOpts)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	summary.FilesDiscovered = len(files)

	st.setState(StateOrdering, "", 0, 0)
	models.SortRemoteFiles(files)
	files = pending(files, cp)
	if len(files) == 0 {
		logger.Debug().Msg("no new files to ingest")
		return nil
	}

	retry := resilience.NewRetry(uint64(e.opts.FlushRetries), e.opts.FlushBackoff, 30*time.Second)

	var sess remote.Session
	err = retry.Do(ctx, func() error {
		var acquireErr error
		sess, acquireErr = e.pool.Acquire(ctx, identity)
		return acquireErr
	})
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer e.pool.Release(identity, sess)

	readerOpts := e.opts.Reader
	readerOpts.Source = identity.ID
	reader := remote.NewChunkedReader(sess, readerOpts)
	defer reader.Close()

	p := parser.New(identity.ID)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		fileLines, err := e.ingestFile(ctx, st, reader, p, retry, cp, file, summary, logger)
		if err != nil {
			return err
		}

		st.setState(StateAdvancing, file.Path, 0, 0)
		cp = models.Checkpoint{
			SourceID:          identity.ID,
			LastFileTimestamp: file.InferredTimestamp,
			LastFileName:      file.Name(),
			LastLineOffset:    fileLines,
			UpdatedAt:         time.Now().UTC(),
		}
		if err := e.store.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		summary.FilesProcessed++
		e.reportProgress(summary, len(files))
	}
	return nil
}

func (e *Engine) reportProgress(summary *RunSummary, filesTotal int) {
	if e.opts.Progress == nil {
		return
	}
	p := Progress{
		SourceID:        summary.SourceID,
		FilesDone:       summary.FilesProcessed,
		FilesTotal:      filesTotal,
		LinesProcessed:  summary.LinesRead,
		EventsProcessed: summary.EventsDelivered,
	}
	if p.FilesDone > 0 && p.FilesDone < filesTotal {
		elapsed := time.Since(summary.StartedAt)
		p.ETA = elapsed / time.Duration(p.FilesDone) * time.Duration(filesTotal-p.FilesDone)
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Warn().Str("source", summary.SourceID).Interface("panic", r).Msg("progress callback panicked")
		}
	}()
	e.opts.Progress(p)
}

// pending drops files the checkpoint covers, keeping the checkpoint file
// itself so lines appended since the last run are picked up.
func pending(files []models.RemoteFile, cp models.Checkpoint) []models.RemoteFile {
	out := files[:0]
	for _, f := range files {
		if cp.Covers(f) && f.Name() != cp.LastFileName {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ingestFile reads one file from its resume point to EOF and returns the
// line offset reached, which becomes the checkpoint offset.
func (e *Engine) ingestFile(ctx context.Context, st *sourceState, reader *remote.ChunkedReader, p *parser.Parser, retry resilience.Retry, cp models.Checkpoint, file models.RemoteFile, summary *RunSummary, logger zerolog.Logger) (int, error) {
	startLine := 0
	if file.Name() == cp.LastFileName {
		startLine = cp.LastLineOffset
	}

	total := -1
	exact := false
	if n, ex, err := reader.LineCount(ctx, file.Path); err == nil {
		total, exact = n, ex
	} else if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	// Only an exact count may prove nothing was appended; an extrapolated
	// one can undercount, and skipping on it would advance the checkpoint
	// over lines that were never read.
	if exact && startLine >= total {
		return startLine, nil
	}

	logger.Info().
		Str("file", file.Path).
		Int("start_line", startLine).
		Int("total_lines", total).
		Msg("ingesting file")

	offset := startLine
	batch := make([]models.KillEvent, 0, e.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		st.setState(StateFlushing, file.Path, total, offset)
		start := time.Now()
		err := retry.Do(ctx, func() error {
			return e.sink.Flush(ctx, batch)
		})
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("flush batch: %w", err)
		}
		summary.EventsDelivered += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if e.opts.Throttle != nil {
			if err := e.opts.Throttle.Wait(ctx); err != nil {
				return 0, err
			}
		}

		st.setState(StateReading, file.Path, total, offset)
		var lines []string
		err := retry.Do(ctx, func() error {
			// A retried chunk restarts from the same offset; the reader
			// reopens and skips forward if a failed read moved its cursor.
			var readErr error
			lines, readErr = reader.ReadChunk(ctx, file.Path, offset, 0)
			return readErr
		})
		if err != nil {
			return 0, fmt.Errorf("read chunk at line %d: %w", offset, err)
		}
		if len(lines) == 0 {
			break
		}
		offset += len(lines)
		summary.LinesRead += len(lines)

		window := st.window
		for _, line := range lines {
			ev, err := p.ParseLine(line)
			if err != nil {
				summary.LinesRejected++
				continue
			}
			summary.EventsParsed++
			if window.Observe(ev.Fingerprint) {
				summary.Duplicates++
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= e.opts.BatchSize {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	return offset, nil
}

func (st *sourceState) setState(state State, file string, fileLines, offset int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.State = state
	st.status.Running = true
	st.status.CurrentFile = file
	st.status.FileLines = fileLines
	st.status.LineOffset = offset
}
