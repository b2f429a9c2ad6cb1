// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

// Package parser turns raw kill log lines into KillEvent records.
//
// The format is semicolon-separated:
//
//	timestamp;killer_name;killer_id;victim_name;victim_id;weapon;distance;killer_console;victim_console
//
// Game servers emit this with plenty of variation: trailing separators,
// missing columns, connection notices interleaved with kills, and the
// occasional malformed timestamp. Parsing is tolerant: a line is rejected
// only when it cannot possibly describe a kill, and defaulted otherwise.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

// RejectReason says why a line was skipped.
type RejectReason string

const (
	RejectUndecodable     RejectReason = "undecodable"
	RejectTooFewFields    RejectReason = "too_few_fields"
	RejectMissingIdentity RejectReason = "missing_identity"
	RejectConnectionLine  RejectReason = "connection_line"
)

// RejectError reports a skipped line. Rejections are expected in normal
// operation and never abort a run.
type RejectError struct {
	Reason RejectReason
	Line   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("parser: line rejected (%s)", e.Reason)
}

// Timestamp layouts observed in the wild, tried in order.
var timestampLayouts = []string{
	"2006.01.02-15.04.05",
	"2006-01-02-15.04.05",
	"2006.01.02 15.04.05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Field positions in the semicolon-separated line.
const (
	fieldTimestamp = iota
	fieldKillerName
	fieldKillerID
	fieldVictimName
	fieldVictimID
	fieldWeapon
	fieldDistance
	fieldKillerConsole
	fieldVictimConsole
)

// minFields is the absolute minimum to describe a kill: timestamp plus
// victim name and ID at their positions.
const minFields = 4

// Console tags that mark connection notices rather than kills.
var consoleIndicators = []string{"XSX", "PS5", "PC"}

// Parser parses lines for one source. The zero value is not usable; use
// New.
type Parser struct {
	source string
	now    func() time.Time
}

func New(sourceID string) *Parser {
	return &Parser{source: sourceID, now: time.Now}
}

// ParseLine parses one raw line into a KillEvent. Skipped lines return a
// *RejectError carrying the reason; any other error is impossible by
// construction.
func (p *Parser) ParseLine(line string) (models.KillEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return p.reject(RejectUndecodable, line)
	}

	fields := strings.Split(line, ";")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) < minFields {
		return p.reject(RejectTooFewFields, line)
	}

	if isConnectionLine(fields) {
		return p.reject(RejectConnectionLine, line)
	}

	killerName := field(fields, fieldKillerName)
	killerID := field(fields, fieldKillerID)
	victimName := field(fields, fieldVictimName)
	victimID := field(fields, fieldVictimID)
	weapon := field(fields, fieldWeapon)

	tsText := field(fields, fieldTimestamp)
	if tsText == "" {
		return p.reject(RejectMissingIdentity, line)
	}
	// A kill needs either a victim, or a killer with a weapon (some
	// servers omit victim IDs for environment deaths).
	if victimID == "" && !(killerID != "" && weapon != "") {
		return p.reject(RejectMissingIdentity, line)
	}

	ts, ok := parseTimestamp(tsText)
	if !ok {
		// Wall clock beats dropping the kill; the fingerprint still keys
		// on participants so duplicates collapse within the same second.
		ts = p.now().UTC()
		metrics.ParseWarnings.WithLabelValues(p.source, "bad_timestamp").Inc()
		logging.Warn().Str("source", p.source).Str("timestamp", tsText).Msg("unparseable timestamp, using wall clock")
	}

	distance := 0
	if d := field(fields, fieldDistance); d != "" {
		if f, err := strconv.ParseFloat(d, 64); err == nil {
			distance = int(f)
		}
	}

	ev := models.KillEvent{
		Timestamp:      ts,
		KillerID:       killerID,
		KillerName:     killerName,
		VictimID:       victimID,
		VictimName:     victimName,
		Weapon:         weapon,
		Distance:       distance,
		KillerPlatform: field(fields, fieldKillerConsole),
		VictimPlatform: field(fields, fieldVictimConsole),
		SourceID:       p.source,
	}

	if killerID != "" && killerID == victimID {
		ev.IsSelfInflicted = true
		ev.SelfInflicted = classifySelfInflicted(weapon)
		if ev.SelfInflicted == models.SelfInflictedMenu {
			ev.Weapon = "Suicide (Menu)"
		}
	}

	ev.Fingerprint = models.ComputeFingerprint(ev.Timestamp, ev.KillerID, ev.VictimID)
	metrics.EventsParsed.WithLabelValues(p.source).Inc()
	return ev, nil
}

func (p *Parser) reject(reason RejectReason, line string) (models.KillEvent, error) {
	metrics.ParseWarnings.WithLabelValues(p.source, string(reason)).Inc()
	return models.KillEvent{}, &RejectError{Reason: reason, Line: line}
}

func field(fields []string, idx int) string {
	if idx < len(fields) {
		return fields[idx]
	}
	return ""
}

// isConnectionLine detects console connect/disconnect notices: killer
// name and ID both empty while a platform tag appears somewhere on the
// line.
func isConnectionLine(fields []string) bool {
	if len(fields) < 8 {
		return false
	}
	if fields[fieldKillerName] != "" || fields[fieldKillerID] != "" {
		return false
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		for _, ind := range consoleIndicators {
			if strings.Contains(f, ind) {
				return true
			}
		}
	}
	return false
}

func parseTimestamp(text string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func classifySelfInflicted(weapon string) models.SelfInflictedKind {
	w := strings.ToLower(weapon)
	switch {
	case w == "suicide_by_relocation" || w == "suicide by relocation":
		return models.SelfInflictedMenu
	case strings.Contains(w, "fall"):
		return models.SelfInflictedFall
	case strings.Contains(w, "land_vehicle"),
		strings.Contains(w, "boat"),
		strings.Contains(w, "vehicle"):
		return models.SelfInflictedVehicle
	default:
		return models.SelfInflictedOther
	}
}
