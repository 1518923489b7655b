// Package timestamp provides standardized Unix timestamp handling.
//
// The canonical format is int64 milliseconds since the Unix epoch (UTC).
// A value of 0 means "not set"; callers fall back to processing time.
//
// Device payloads carry timestamps in whatever unit their firmware
// emits: RFC3339 strings, or numbers in seconds, milliseconds,
// microseconds, or nanoseconds. FromEventValue normalizes all of them
// using a magnitude heuristic, so upstream variance never leaks past
// ingestion.
package timestamp

import (
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time in UTC.
// Returns the zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders a canonical timestamp as RFC3339, or "" when not set.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format(time.RFC3339)
}

// normalizeSeconds converts a numeric timestamp of unknown unit to
// seconds. Magnitude heuristic: contemporary epochs are ~1.7e9 in
// seconds, ~1.7e12 in milliseconds, ~1.7e15 in microseconds and
// ~1.7e18 in nanoseconds, so the thresholds sit between those bands.
func normalizeSeconds(v float64) float64 {
	switch {
	case v > 1e17:
		return v / 1e9
	case v > 1e14:
		return v / 1e6
	case v > 1e11:
		return v / 1e3
	default:
		return v
	}
}

// FromEventValue converts an event-supplied timestamp value to Unix
// milliseconds. It accepts RFC3339 strings and numeric values in any
// common unit. Returns (0, false) if the value is absent or unparseable.
func FromEventValue(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case string:
		if t == "" {
			return 0, false
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, false
		}
		return parsed.UnixMilli(), true
	case float64:
		if t <= 0 {
			return 0, false
		}
		return int64(normalizeSeconds(t) * 1000), true
	case int64:
		if t <= 0 {
			return 0, false
		}
		return int64(normalizeSeconds(float64(t)) * 1000), true
	case int:
		return FromEventValue(int64(t))
	default:
		return 0, false
	}
}
