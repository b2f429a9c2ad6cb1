// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Acquire after CloseAll has been called.
var ErrPoolClosed = errors.New("remote: pool closed")

// ConnectionError indicates a session could not be established or
// authenticated. The pool slot is released before this is returned, so
// callers may retry immediately.
type ConnectionError struct {
	Key string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("remote: connect %s: %v", e.Key, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadError indicates a failure while reading a remote file. The path
// identifies the file so the engine can skip it and continue the run.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("remote: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
