package timeparser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// epochMillisCutoff separates epoch seconds from epoch milliseconds. Any
// numeric value above it is treated as milliseconds.
const epochMillisCutoff = 1e12

var vendorDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

var observationFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	"2006-01-02",
}

// ParseObservationTime normalizes the many timestamp encodings seen in
// upstream feeds (RFC3339 strings, epoch seconds or milliseconds as numbers
// or strings, vendor /Date(ms)/ tokens, plain date formats) into a UTC
// instant.
func ParseObservationTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("empty timestamp")
	case time.Time:
		return v.UTC(), nil
	case float64:
		return fromEpoch(v), nil
	case int64:
		return fromEpoch(float64(v)), nil
	case int:
		return fromEpoch(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid numeric timestamp '%s': %w", v, err)
		}
		return fromEpoch(f), nil
	case string:
		return parseString(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if m := vendorDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid vendor date token '%s': %w", s, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), nil
	}

	var lastErr error
	for _, format := range observationFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

func fromEpoch(v float64) time.Time {
	if v >= epochMillisCutoff || v <= -epochMillisCutoff {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

// ClampFuture substitutes now for a zero timestamp or one that lies further
// than tolerance in the future. Future timestamps are clamped, never
// rejected.
func ClampFuture(t, now time.Time, tolerance time.Duration) time.Time {
	if t.IsZero() || t.After(now.Add(tolerance)) {
		return now.UTC()
	}
	return t.UTC()
}
