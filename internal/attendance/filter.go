package attendance

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultListLimit caps list results when no usable limit is supplied.
const DefaultListLimit = 100

// FilterParams holds the raw, individually optional list query parameters.
// An empty string means the parameter was not supplied.
type FilterParams struct {
	DeviceID string
	From     string
	To       string
	Limit    string
}

// instantLayouts are tried in order when parsing a bound or a write timestamp.
// Layouts without a zone are read as UTC.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	DayLayout,
}

// Instants a record may carry. Outside this range a year has more than four
// digits and the record could not be encoded as JSON.
var (
	MinInstant = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxInstant = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// InRange reports whether t lies within [MinInstant, MaxInstant].
func InRange(t time.Time) bool {
	return !t.Before(MinInstant) && !t.After(MaxInstant)
}

// BuildFilter turns raw query parameters into a Filter. It never fails:
// malformed bounds are dropped and a malformed limit falls back to
// DefaultListLimit.
func BuildFilter(p FilterParams) Filter {
	f := Filter{
		DeviceID: strings.TrimSpace(p.DeviceID),
		Limit:    ParseLimit(p.Limit),
	}
	if t, ok := ParseInstant(p.From); ok {
		f.From = &t
	}
	if t, ok := ParseInstant(p.To); ok {
		f.To = &t
	}
	return f
}

// ParseLimit returns the positive integer in raw, or DefaultListLimit.
func ParseLimit(raw string) int {
	return positiveOr(raw, DefaultListLimit)
}

// ParseInstant parses an ISO-8601 date or date-time into a UTC instant.
// Instants outside InRange are rejected.
func ParseInstant(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t = t.UTC()
			return t, InRange(t)
		}
	}
	return time.Time{}, false
}

// ParseWireTimestamp reads a decoded JSON timestamp: an ISO-8601 string or a
// number of epoch milliseconds. Like ParseInstant it rejects instants outside
// InRange.
func ParseWireTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return ParseInstant(t)
	case float64:
		// Compare before converting; int64(t) is undefined past the int64 range.
		if t < float64(MinInstant.UnixMilli()) || t > float64(MaxInstant.UnixMilli()) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return fromMillis(ms)
	}
	return time.Time{}, false
}

func fromMillis(ms int64) (time.Time, bool) {
	if ms < MinInstant.UnixMilli() || ms > MaxInstant.UnixMilli() {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
