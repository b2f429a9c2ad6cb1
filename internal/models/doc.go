// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package models defines the core data types shared across the ingestion
// pipeline: source identities, discovered remote files, parsed kill events,
// and per-source checkpoints.
//
// All types are plain immutable value carriers. A KillEvent is never mutated
// after the parser produces it; a Checkpoint is only replaced wholesale by
// the engine after a successful sink flush.
package models
