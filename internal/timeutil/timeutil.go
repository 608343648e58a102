// Package timeutil is the single place where timestamps become comparable.
//
// Every instant that reaches the store goes through Normalize first, so all
// overlap comparisons happen between UTC values.
//
// NAIVE TIMESTAMPS:
// A timestamp without zone information ("2025-03-01T10:00:00") is read as
// UTC, never as the server's local time. Clients that mean another zone must
// send an offset ("2025-03-01T10:00:00+02:00"). A positive offset whose "+"
// was decoded to a space is accepted as well.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// naiveLayouts are tried in order when the input carries no offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Normalize returns t as a UTC instant. It is idempotent.
func Normalize(t time.Time) time.Time {
	return t.UTC()
}

// ParseTimestamp parses an ISO-8601 timestamp. Zone-aware input is converted
// to UTC; naive input is taken to already be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timeutil: empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Normalize(t), nil
	}

	// An unescaped "+02:00" in a query string arrives as " 02:00".
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		if t, err := time.Parse(time.RFC3339Nano, s[:i]+"+"+s[i+1:]); err == nil {
			return Normalize(t), nil
		}
	}

	for _, layout := range naiveLayouts {
		// time.Parse without an offset in the layout yields a UTC time.
		if t, err := time.Parse(layout, s); err == nil {
			return Normalize(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("timeutil: unrecognised timestamp %q", s)
}

// InZone renders a stored instant in a participant's home timezone.
// An empty zone name means UTC.
func InZone(t time.Time, tz string) (time.Time, error) {
	if tz == "" {
		return Normalize(t), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: unknown timezone %q: %w", tz, err)
	}
	return Normalize(t).In(loc), nil
}

// Overlaps is the half-open interval overlap predicate used by the conflict
// detector: touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
