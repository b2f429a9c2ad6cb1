// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tomtom215/harvester/internal/cache"
	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
)

const (
	// DefaultChunkLines is the number of lines returned per ReadChunk call.
	DefaultChunkLines = 5000

	// DefaultFastCountTimeout bounds the remote wc-l attempt.
	DefaultFastCountTimeout = 5 * time.Second

	// DefaultCountBlockSize is the streaming line-count block size.
	DefaultCountBlockSize = 1 << 20

	// DefaultCountMaxBytes caps streaming before extrapolation kicks in.
	DefaultCountMaxBytes = 100 << 20

	lineCountCacheTTL = 10 * time.Minute
)

// ReaderOptions tunes a ChunkedReader. Zero fields take the package
// defaults.
type ReaderOptions struct {
	// ChunkLines caps lines per ReadChunk call.
	ChunkLines int

	// Source labels reader metrics.
	Source string

	// FastCountTimeout bounds the remote wc-l line count attempt.
	FastCountTimeout time.Duration

	// CountBlockSize is the block size for the streaming count fallback.
	CountBlockSize int

	// CountMaxBytes caps how many bytes the streaming count reads before
	// extrapolating from the sampled prefix.
	CountMaxBytes int64

	// Cache, when set, memoizes line counts keyed by path and size so
	// repeated runs over an unchanged file skip the remote count.
	Cache *cache.Cache
}

// ChunkedReader reads a remote file in bounded line chunks over a single
// session. It keeps the file handle open between sequential chunks so a
// full-file pass opens the file once. Not safe for concurrent use.
type ChunkedReader struct {
	sess Session
	opts ReaderOptions

	curPath string
	curLine int
	rc      io.ReadCloser
	br      *bufio.Reader
}

func NewChunkedReader(sess Session, opts ReaderOptions) *ChunkedReader {
	if opts.ChunkLines <= 0 {
		opts.ChunkLines = DefaultChunkLines
	}
	if opts.FastCountTimeout <= 0 {
		opts.FastCountTimeout = DefaultFastCountTimeout
	}
	if opts.CountBlockSize <= 0 {
		opts.CountBlockSize = DefaultCountBlockSize
	}
	if opts.CountMaxBytes <= 0 {
		opts.CountMaxBytes = DefaultCountMaxBytes
	}
	return &ChunkedReader{sess: sess, opts: opts}
}

// lineCount is the cached result of a LineCount call.
type lineCount struct {
	n     int
	exact bool
}

// LineCount returns the number of lines in the remote file. It first
// tries `wc -l` on the host; when that fails or stalls it streams the
// file in blocks, counting newlines. Files beyond the streaming cap get
// an extrapolated count, reported with exact=false; callers must treat
// an inexact count as progress-reporting material only, never as proof
// that a file has no unread lines.
func (r *ChunkedReader) LineCount(ctx context.Context, path string) (int, bool, error) {
	var size int64 = -1
	if fi, err := r.sess.Stat(path); err == nil {
		size = fi.Size()
	}

	// Keyed by source so identical paths on different hosts stay distinct.
	key := cache.GenerateKey("linecount", struct {
		Source string
		Path   string
		Size   int64
	}{r.opts.Source, path, size})
	if r.opts.Cache != nil {
		if v, ok := r.opts.Cache.Get(key); ok {
			lc := v.(lineCount)
			return lc.n, lc.exact, nil
		}
	}

	lc, err := r.countLines(ctx, path, size)
	if err != nil {
		return 0, false, err
	}
	if r.opts.Cache != nil {
		r.opts.Cache.SetWithTTL(key, lc, lineCountCacheTTL)
	}
	return lc.n, lc.exact, nil
}

func (r *ChunkedReader) countLines(ctx context.Context, path string, size int64) (lineCount, error) {
	wcCtx, cancel := context.WithTimeout(ctx, r.opts.FastCountTimeout)
	out, err := r.sess.Exec(wcCtx, "wc -l "+shellQuote(path))
	cancel()
	if err == nil {
		if n, ok := parseWcOutput(out); ok {
			return lineCount{n: n, exact: true}, nil
		}
	}
	metrics.LineCountFallbacks.Inc()
	logging.Debug().Err(err).Str("path", path).Msg("wc -l unavailable, streaming line count")

	rc, err := r.sess.Open(path)
	if err != nil {
		return lineCount{}, &ReadError{Path: path, Err: err}
	}
	defer rc.Close()

	var (
		lines     int
		read      int64
		buf       = make([]byte, r.opts.CountBlockSize)
		lastByte  byte
		truncated bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return lineCount{}, err
		}
		n, err := rc.Read(buf)
		if n > 0 {
			read += int64(n)
			lines += strings.Count(string(buf[:n]), "\n")
			lastByte = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return lineCount{}, &ReadError{Path: path, Err: err}
		}
		if read >= r.opts.CountMaxBytes {
			truncated = true
			break
		}
	}

	if truncated && size > read {
		// Extrapolate from the sampled prefix; close enough for progress.
		return lineCount{n: int(float64(lines) * float64(size) / float64(read))}, nil
	}
	if read > 0 && lastByte != '\n' {
		lines++
	}
	return lineCount{n: lines, exact: true}, nil
}

func parseWcOutput(out string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ReadChunk returns up to maxLines lines starting at the zero-based
// startLine. Sequential calls over the same file resume from the open
// handle; a path change or backwards seek reopens the file. A short or
// empty result means the file ended. Lines that do not decode as UTF-8
// are replaced with an empty placeholder so positions stay stable.
func (r *ChunkedReader) ReadChunk(ctx context.Context, path string, startLine, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		maxLines = r.opts.ChunkLines
	}

	if r.curPath != path || startLine < r.curLine || r.br == nil {
		if err := r.reopen(path); err != nil {
			return nil, err
		}
	}

	// Skip forward to startLine.
	for r.curLine < startLine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err := r.br.ReadString('\n')
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, &ReadError{Path: path, Err: err}
		}
		r.curLine++
	}

	lines := make([]string, 0, maxLines)
	for len(lines) < maxLines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.br.ReadString('\n')
		if raw != "" {
			lines = append(lines, sanitizeLine(raw))
			r.curLine++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ReadError{Path: path, Err: err}
		}
	}
	metrics.LinesRead.WithLabelValues(r.opts.Source).Add(float64(len(lines)))
	if len(lines) > 0 {
		metrics.ChunksRead.WithLabelValues(r.opts.Source).Inc()
	}
	return lines, nil
}

// Close releases the open file handle, if any. The session itself is
// owned by the caller.
func (r *ChunkedReader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.br = nil
	r.curPath = ""
	r.curLine = 0
	return err
}

func (r *ChunkedReader) reopen(path string) error {
	r.Close()
	rc, err := r.sess.Open(path)
	if err != nil {
		return &ReadError{Path: path, Err: err}
	}
	r.rc = rc
	r.br = bufio.NewReaderSize(rc, r.opts.CountBlockSize)
	r.curPath = path
	r.curLine = 0
	return nil
}

func sanitizeLine(raw string) string {
	line := strings.TrimRight(raw, "\r\n")
	if !utf8.ValidString(line) {
		// Keep the slot so line offsets stay aligned with the file.
		return ""
	}
	return line
}
