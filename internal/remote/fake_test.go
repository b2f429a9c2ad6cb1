// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/harvester/internal/models"
)

type fakeFileInfo struct {
	name  string
	size  int64
	mtime time.Time
	dir   bool
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() interface{}   { return nil }

// fakeSession serves an in-memory directory tree and file contents.
type fakeSession struct {
	mu      sync.Mutex
	dirs    map[string][]os.FileInfo
	dirErrs map[string]error
	files   map[string]string

	execOut   string
	execErr   error
	execCalls int

	dead   bool
	closed bool
	opens  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		dirs:    make(map[string][]os.FileInfo),
		dirErrs: make(map[string]error),
		files:   make(map[string]string),
	}
}

func (s *fakeSession) addFile(p, content string, mtime time.Time) {
	s.files[p] = content
	dir := path.Dir(p)
	s.dirs[dir] = append(s.dirs[dir], fakeFileInfo{
		name:  path.Base(p),
		size:  int64(len(content)),
		mtime: mtime,
	})
}

func (s *fakeSession) addDir(p string) {
	if _, ok := s.dirs[p]; !ok {
		s.dirs[p] = nil
	}
	parent := path.Dir(p)
	if parent == p {
		return
	}
	s.dirs[parent] = append(s.dirs[parent], fakeFileInfo{name: path.Base(p), dir: true})
}

func (s *fakeSession) ReadDir(p string) ([]os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.dirErrs[p]; ok {
		return nil, err
	}
	entries, ok := s.dirs[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return entries, nil
}

func (s *fakeSession) Stat(p string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content, ok := s.files[p]; ok {
		return fakeFileInfo{name: path.Base(p), size: int64(len(content))}, nil
	}
	if _, ok := s.dirs[p]; ok {
		return fakeFileInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, os.ErrNotExist
}

func (s *fakeSession) Open(p string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	s.opens++
	return io.NopCloser(strings.NewReader(content)), nil
}

func (s *fakeSession) Exec(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execCalls++
	return s.execOut, s.execErr
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead && !s.closed
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeDialer hands out fakeSessions, failing the first failUntil dials.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	failUntil int
	dialErr   error
	sessions  []*fakeSession
	setup     func(*fakeSession)
}

func (d *fakeDialer) Dial(_ context.Context, _ models.SourceIdentity) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failUntil {
		err := d.dialErr
		if err == nil {
			err = os.ErrDeadlineExceeded
		}
		return nil, err
	}
	s := newFakeSession()
	if d.setup != nil {
		d.setup(s)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func testIdentity(id string) models.SourceIdentity {
	return models.SourceIdentity{
		ID:       id,
		Host:     "game.example.net",
		Port:     2022,
		Username: "ingest",
		Password: "secret",
		BasePath: "/logs",
	}
}
