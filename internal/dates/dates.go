package dates

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ISO8601 is the layout used for expiry values on the wire and in the
// persisted datastore: UTC with millisecond precision.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// FormatISO8601 renders t in UTC with millisecond precision.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// ParseISO8601 accepts the ledger's millisecond form as well as any RFC 3339
// timestamp with or without fractional seconds.
func ParseISO8601(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty ISO-8601 timestamp")
	}
	if t, err := time.Parse(ISO8601, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ParseHTTPDate parses a Date response header.
func ParseHTTPDate(s string) (time.Time, error) {
	t, err := http.ParseTime(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid HTTP date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ServerTimeDiff returns server - local, or zero when serverDate is unset.
func ServerTimeDiff(serverDate, localNow time.Time) time.Duration {
	if serverDate.IsZero() {
		return 0
	}
	return serverDate.Sub(localNow)
}

// ServerNow maps a local instant onto the server clock.
func ServerNow(localNow time.Time, diff time.Duration) time.Time {
	return localNow.Add(diff)
}
