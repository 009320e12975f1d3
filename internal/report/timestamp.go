package report

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var epoch = time.Unix(0, 0).UTC()

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02/01/2006",
}

// ParseTimestamp reads the backend's timestamp encodings. Unix seconds and
// milliseconds are accepted as numbers or numeric strings.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromUnix(n), true
		}
		if f, err := t.Float64(); err == nil {
			return fromUnix(int64(f)), true
		}
		return time.Time{}, false
	case float64:
		return fromUnix(int64(t)), true
	case int64:
		return fromUnix(t), true
	case int:
		return fromUnix(int64(t)), true
	case string:
		return parseTimestampString(t)
	default:
		return time.Time{}, false
	}
}

// TimestampOrEpoch is the sort key: unparsable values count as epoch 0.
func TimestampOrEpoch(v any) time.Time {
	if ts, ok := ParseTimestamp(v); ok {
		return ts
	}
	return epoch
}

// ParseDate parses a filter bound. Empty input means "unbounded" and returns
// nil without error.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, ok := parseTimestampString(raw)
	if !ok {
		return nil, &time.ParseError{Layout: "2006-01-02", Value: raw, Message: ": unrecognised date"}
	}
	return &t, nil
}

func parseTimestampString(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return fromUnix(n), true
	}
	return time.Time{}, false
}

// Values above 1e12 are milliseconds; nothing in the platform predates 2001.
func fromUnix(n int64) time.Time {
	if n > 1_000_000_000_000 || n < -1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func isDateOnly(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
