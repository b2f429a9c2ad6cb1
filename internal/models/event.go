// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package models

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// SelfInflictedKind classifies how a player killed themselves.
type SelfInflictedKind string

const (
	// SelfInflictedNone marks a regular kill with distinct killer and victim.
	SelfInflictedNone SelfInflictedKind = ""

	// SelfInflictedMenu covers deaths triggered through the relocation /
	// respawn menu ("suicide_by_relocation" and spelling variants).
	SelfInflictedMenu SelfInflictedKind = "menu"

	// SelfInflictedFall covers falling deaths.
	SelfInflictedFall SelfInflictedKind = "fall"

	// SelfInflictedVehicle covers land vehicle and boat deaths.
	SelfInflictedVehicle SelfInflictedKind = "vehicle"

	// SelfInflictedOther covers self-inflicted deaths that match no known
	// category.
	SelfInflictedOther SelfInflictedKind = "other"
)

// KillEvent is the canonical parsed record delivered to the sink.
// It is created by the parser and never mutated afterwards.
type KillEvent struct {
	Timestamp       time.Time         `json:"timestamp"`
	KillerID        string            `json:"killer_id"`
	KillerName      string            `json:"killer_name"`
	VictimID        string            `json:"victim_id"`
	VictimName      string            `json:"victim_name"`
	Weapon          string            `json:"weapon"`
	Distance        int               `json:"distance"`
	KillerPlatform  string            `json:"killer_platform,omitempty"`
	VictimPlatform  string            `json:"victim_platform,omitempty"`
	IsSelfInflicted bool              `json:"is_self_inflicted"`
	SelfInflicted   SelfInflictedKind `json:"self_inflicted_kind,omitempty"`
	SourceID        string            `json:"source_id"`

	// Fingerprint is the deduplication key, derived from the timestamp and
	// the participant identities. Two lines producing the same fingerprint
	// are the same logical event regardless of incidental formatting.
	Fingerprint uint64 `json:"fingerprint"`
}

// ComputeFingerprint derives the dedup key from the fields that identify a
// kill. Incidental fields (names, weapon spelling, platform tags) are
// deliberately excluded so formatting drift cannot split one event in two.
func ComputeFingerprint(ts time.Time, killerID, victimID string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatInt(ts.Unix(), 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(killerID)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(victimID)
	return d.Sum64()
}
