// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package models

import (
	"path"
	"sort"
	"strings"
	"time"
)

// FileTimestampLayout is the layout game servers use when naming log files,
// e.g. 2025.04.01-10.00.00.csv.
const FileTimestampLayout = "2006.01.02-15.04.05"

// RemoteFile describes one candidate log file found during discovery.
// Instances are ephemeral and rebuilt on every discovery pass.
type RemoteFile struct {
	// Path is the full remote path.
	Path string `json:"path"`

	// InferredTimestamp is parsed from the filename; when the filename does
	// not carry a timestamp it falls back to the remote modification time,
	// and finally to the zero time (which sorts last).
	InferredTimestamp time.Time `json:"inferred_timestamp"`

	// SizeHint is the remote size in bytes at discovery time, if known.
	SizeHint int64 `json:"size_hint"`
}

// Name returns the base filename.
func (f RemoteFile) Name() string {
	return path.Base(f.Path)
}

// InferTimestamp derives a file's timestamp from its name, falling back to
// the supplied modification time when the name does not parse.
func InferTimestamp(name string, modTime time.Time) time.Time {
	stem := strings.TrimSuffix(path.Base(name), ".csv")
	if ts, err := time.Parse(FileTimestampLayout, stem); err == nil {
		return ts
	}
	return modTime
}

// SortRemoteFiles orders files ascending by inferred timestamp, breaking
// ties by name so the ordering is deterministic. Files with a zero
// timestamp sort last.
func SortRemoteFiles(files []RemoteFile) {
	sort.Slice(files, func(i, j int) bool {
		ti, tj := files[i].InferredTimestamp, files[j].InferredTimestamp
		if ti.IsZero() != tj.IsZero() {
			return tj.IsZero()
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return files[i].Name() < files[j].Name()
	})
}
