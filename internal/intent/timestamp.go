package intent

import (
	"strings"
	"time"
)

// TimestampLayout is the only accepted canonical timestamp shape.
const TimestampLayout = "2006-01-02T15:04:05Z"

var (
	minTimestamp = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// CanonicalTimestamp normalizes an ISO-8601 UTC timestamp to whole seconds.
// Fractional seconds are truncated; any offset other than Z is rejected.
func CanonicalTimestamp(path, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasSuffix(s, "Z") {
		return "", reject(ReasonBadTimestamp, path, "timestamp must end with 'Z': %q", raw)
	}
	t := strings.IndexByte(s, 'T')
	if t < 0 {
		return "", reject(ReasonBadTimestamp, path, "timestamp missing 'T' separator: %q", raw)
	}
	if strings.ContainsAny(s[t:], "+-") {
		return "", reject(ReasonBadTimestamp, path, "timezone offsets not allowed: %q", raw)
	}

	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		frac := s[dot+1 : len(s)-1]
		if frac == "" || strings.Trim(frac, "0123456789") != "" {
			return "", reject(ReasonBadTimestamp, path, "invalid fractional seconds: %q", raw)
		}
		s = s[:dot] + "Z"
	}

	if len(s) != len(TimestampLayout) {
		return "", reject(ReasonBadTimestamp, path, "timestamp must be YYYY-MM-DDTHH:MM:SSZ: %q", raw)
	}
	ts, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return "", reject(ReasonBadTimestamp, path, "unparseable timestamp %q: %v", raw, err)
	}
	if ts.Before(minTimestamp) || ts.After(maxTimestamp) {
		return "", reject(ReasonBadTimestamp, path, "timestamp %s outside [1970, 2100]", s)
	}
	return s, nil
}

// ParseTimestamp parses a canonical timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
