// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package dedup

import "testing"

func TestWindowDetectsDuplicates(t *testing.T) {
	w := NewWindow("alpha", 100)

	if w.Observe(42) {
		t.Error("first observation reported as duplicate")
	}
	if !w.Observe(42) {
		t.Error("second observation not reported as duplicate")
	}
	if w.Observe(43) {
		t.Error("unrelated fingerprint reported as duplicate")
	}
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := NewWindow("alpha", 3)

	w.Observe(1)
	w.Observe(2)
	w.Observe(3)
	// Window full; observing 4 evicts 1.
	w.Observe(4)

	if w.Contains(1) {
		t.Error("oldest fingerprint not evicted")
	}
	for _, fp := range []uint64{2, 3, 4} {
		if !w.Contains(fp) {
			t.Errorf("fingerprint %d evicted early", fp)
		}
	}
	if w.Observe(1) {
		t.Error("evicted fingerprint still reported as duplicate")
	}
}

func TestWindowDuplicateKeepsFingerprintHot(t *testing.T) {
	w := NewWindow("alpha", 3)

	w.Observe(1)
	w.Observe(1) // ring: 1,1,_
	w.Observe(2) // ring: 1,1,2
	w.Observe(3) // evicts one occurrence of 1; the other remains

	if !w.Contains(1) {
		t.Error("fingerprint with remaining occurrence was dropped")
	}
	w.Observe(4) // evicts the second occurrence of 1
	if w.Contains(1) {
		t.Error("fingerprint retained after all occurrences evicted")
	}
}

func TestWindowLenAndReset(t *testing.T) {
	w := NewWindow("alpha", 10)
	w.Observe(1)
	w.Observe(2)
	w.Observe(2)

	if got := w.Len(); got != 2 {
		t.Errorf("Len = %d, want 2 distinct", got)
	}

	w.Reset()
	if got := w.Len(); got != 0 {
		t.Errorf("Len after reset = %d, want 0", got)
	}
	if w.Observe(1) {
		t.Error("fingerprint survived reset")
	}
}

func TestWindowDefaultSize(t *testing.T) {
	w := NewWindow("alpha", 0)
	if len(w.ring) != DefaultWindowSize {
		t.Errorf("ring size = %d, want %d", len(w.ring), DefaultWindowSize)
	}
}
