package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DefaultMaxAge is the replay window applied when none is configured
const DefaultMaxAge = 24 * time.Hour

// WithinWindow reports whether claimed is no further than maxAge from now,
// in either direction.
func WithinWindow(now, claimed time.Time, maxAge time.Duration) bool {
	delta := now.Sub(claimed)
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxAge
}

// isoLayouts are tried after RFC 3339. Fractional seconds are accepted
// after the seconds field by every layout; values without a zone are UTC.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseClaimedTime decodes a report timestamp. Strings are ISO-8601
// (RFC 3339, basic offsets, zone-less or date-only); numbers are epoch
// milliseconds.
func ParseClaimedTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("timestamp missing")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err == nil {
			return t, nil
		}
		for _, layout := range isoLayouts {
			if alt, altErr := time.Parse(layout, s); altErr == nil {
				return alt, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("timestamp is neither string nor number: %w", err)
	}
	if ms <= 0 || math.IsInf(ms, 0) || ms > float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Time{}, fmt.Errorf("timestamp out of range: %v", ms)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
