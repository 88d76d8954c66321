package event

import (
	"fmt"
	"strings"
	"time"
)

// DefaultExpiryWindow is how far in the past an event may start before it is
// pruned from the dataset.
const DefaultExpiryWindow = 30 * 24 * time.Hour

// startLayouts are tried in order. Zone-less layouts are read as UTC.
var startLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseStartDate parses an ISO-8601 date or datetime.
func ParseStartDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// IsExpired reports whether e started before now minus window. The cutoff is
// computed in whole days so that a 30-day window is calendar based. Events
// whose start date cannot be parsed are never expired.
func IsExpired(e Event, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	start, err := ParseStartDate(e.StartDate)
	if err != nil {
		return false
	}
	return start.Before(cutoff(now, window))
}

func cutoff(now time.Time, window time.Duration) time.Time {
	days := int(window / (24 * time.Hour))
	rest := window % (24 * time.Hour)
	return now.AddDate(0, 0, -days).Add(-rest)
}
