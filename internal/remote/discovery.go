// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

// DefaultMaxDepth bounds discovery recursion below the base path.
const DefaultMaxDepth = 12

// Directory names that hold kill logs on the hosts we ingest from. When
// one appears on the walk path the remaining depth budget is relaxed so
// deeply nested log trees are still reached.
var priorityDirs = map[string]bool{
	"world":     true,
	"deathlogs": true,
}

// DiscoveryOptions tunes a single discovery pass.
type DiscoveryOptions struct {
	// NamePattern selects log files by base name. Required.
	NamePattern *regexp.Regexp

	// MaxDepth bounds recursion; <= 0 means DefaultMaxDepth.
	MaxDepth int

	// MinSize skips files smaller than this many bytes when > 0.
	MinSize int64

	// MaxAge skips files whose mtime is older than now-MaxAge when > 0.
	MaxAge time.Duration
}

// Discovery walks a source's base path over an acquired session and
// returns the matching log files. Unreadable subdirectories are logged
// and skipped; only a failure at the base path itself fails the pass.
type Discovery struct {
	pool *Pool
}

func NewDiscovery(pool *Pool) *Discovery {
	return &Discovery{pool: pool}
}

// Discover lists kill log files under identity.BasePath. Results carry
// timestamps inferred from the file name, falling back to mtime.
func (d *Discovery) Discover(ctx context.Context, identity models.SourceIdentity, opts DiscoveryOptions) ([]models.RemoteFile, error) {
	sess, err := d.pool.Acquire(ctx, identity)
	if err != nil {
		return nil, err
	}
	defer d.pool.Release(identity, sess)

	return discoverWith(ctx, sess, identity, opts)
}

type walkEntry struct {
	path  string
	depth int
}

func discoverWith(ctx context.Context, sess Session, identity models.SourceIdentity, opts DiscoveryOptions) ([]models.RemoteFile, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	base := identity.BasePath
	if base == "" {
		base = "."
	}

	var (
		files       []models.RemoteFile
		nonMatching int
		now         = time.Now()
		stack       = []walkEntry{{path: base, depth: 0}}
		logger      = logging.With().Str("source", identity.ID).Logger()
	)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if entry.depth > maxDepth {
			continue
		}

		dirEntries, err := sess.ReadDir(entry.path)
		if err != nil {
			metrics.DiscoveryErrors.WithLabelValues(identity.ID).Inc()
			if entry.path == base {
				// The base listing must succeed; anything below it is
				// best-effort.
				return nil, &ReadError{Path: base, Err: err}
			}
			logger.Warn().Err(err).Str("dir", entry.path).Msg("skipping unreadable directory")
			continue
		}

		for _, fi := range dirEntries {
			full := path.Join(entry.path, fi.Name())
			if fi.IsDir() {
				stack = append(stack, walkEntry{path: full, depth: effectiveDepth(full, base)})
				continue
			}
			if !opts.NamePattern.MatchString(fi.Name()) {
				nonMatching++
				continue
			}
			if opts.MinSize > 0 && fi.Size() < opts.MinSize {
				logger.Debug().Str("file", full).Int64("size", fi.Size()).Msg("skipping undersized log")
				continue
			}
			if opts.MaxAge > 0 && now.Sub(fi.ModTime()) > opts.MaxAge {
				continue
			}
			files = append(files, models.RemoteFile{
				Path:              full,
				InferredTimestamp: models.InferTimestamp(fi.Name(), fi.ModTime()),
				SizeHint:          fi.Size(),
			})
		}
	}

	metrics.FilesDiscovered.WithLabelValues(identity.ID).Add(float64(len(files)))
	logger.Debug().
		Int("files", len(files)).
		Int("non_matching", nonMatching).
		Str("base", base).
		Msg("discovery pass complete")
	return files, nil
}

// effectiveDepth counts path segments below base, crediting two levels
// back when the path runs through a known log directory. Kill logs live
// deeper than the generic depth budget allows on some hosts.
func effectiveDepth(p, base string) int {
	rel := strings.TrimPrefix(p, base)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return 0
	}
	segs := strings.Split(rel, "/")
	depth := len(segs)
	for _, s := range segs {
		if priorityDirs[strings.ToLower(s)] {
			depth -= 2
			break
		}
	}
	if depth < 0 {
		depth = 0
	}
	return depth
}
