// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package remote provides SFTP access to game server hosts: a bounded
// per-host session pool, recursive log discovery, and chunked file reading.
//
// All network operations go through the Session interface so the pipeline
// above this package can be tested against in-memory fakes.
package remote
