// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package dedup drops duplicate kill events within a bounded sliding
// window of recently seen fingerprints. Servers re-log the tail of a file
// on rotation, so the same kill often arrives twice across file
// boundaries within one run.
package dedup

import (
	"sync"

	"github.com/tomtom215/harvester/internal/metrics"
)

// DefaultWindowSize is how many recent fingerprints are remembered.
const DefaultWindowSize = 10000

// Window remembers the last N fingerprints in FIFO order. When full, the
// oldest entry is evicted first. Safe for concurrent use, though the
// engine drives it from one goroutine per source.
type Window struct {
	mu     sync.Mutex
	source string
	seen   map[uint64]int // fingerprint -> occurrences in ring
	ring   []uint64
	next   int
	filled bool
}

// NewWindow creates a window for one source. size <= 0 falls back to
// DefaultWindowSize.
func NewWindow(source string, size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		source: source,
		seen:   make(map[uint64]int, size),
		ring:   make([]uint64, size),
	}
}

// Observe records a fingerprint and reports whether it was already in the
// window. Duplicates are recorded too, so a burst of repeats keeps the
// fingerprint hot.
func (w *Window) Observe(fp uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, dup := w.seen[fp]

	if w.filled {
		old := w.ring[w.next]
		if n := w.seen[old]; n <= 1 {
			delete(w.seen, old)
		} else {
			w.seen[old] = n - 1
		}
	}

	w.ring[w.next] = fp
	w.seen[fp]++
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.filled = true
	}

	if dup {
		metrics.DedupHits.WithLabelValues(w.source).Inc()
	}
	return dup
}

// Contains reports whether a fingerprint is currently in the window
// without recording it.
func (w *Window) Contains(fp uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[fp]
	return ok
}

// Len returns the number of distinct fingerprints currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset clears the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[uint64]int, len(w.ring))
	w.next = 0
	w.filled = false
}
