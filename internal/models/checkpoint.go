// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package models

import "time"

// Checkpoint is the persisted per-source cursor marking the newest fully
// processed file. A file counts as fully processed only after every line up
// to EOF at read time has been accepted by the sink; the engine advances
// the checkpoint file-by-file in chronological order, never out of order.
type Checkpoint struct {
	SourceID string `json:"source_id"`

	// LastFileTimestamp and LastFileName identify the newest file whose
	// events have all been delivered.
	LastFileTimestamp time.Time `json:"last_file_timestamp"`
	LastFileName      string    `json:"last_file_name"`

	// LastLineOffset is the number of lines of LastFileName committed to
	// the sink. It equals the file's line count once the file is done.
	LastLineOffset int `json:"last_line_offset"`

	// UpdatedAt records when the checkpoint was last advanced.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsZero reports whether no progress has been recorded for the source.
func (c Checkpoint) IsZero() bool {
	return c.LastFileName == "" && c.LastFileTimestamp.IsZero()
}

// Covers reports whether the given file is at or before the checkpoint,
// i.e. whether a restart may safely skip it. Ties on the timestamp are
// broken by name so files emitted in the same second are not skipped early.
func (c Checkpoint) Covers(f RemoteFile) bool {
	if c.IsZero() {
		return false
	}
	if f.InferredTimestamp.Before(c.LastFileTimestamp) {
		return true
	}
	if f.InferredTimestamp.Equal(c.LastFileTimestamp) {
		return f.Name() <= c.LastFileName
	}
	return false
}
