package core

import (
	"fmt"
	"time"
)

const (
	// RetentionFloor is how far back the connector is ever allowed to request events.
	RetentionFloor = 7 * 24 * time.Hour
	// FirstRunLookback is the window requested when no watermark was ever stored.
	FirstRunLookback = time.Minute
)

// timestampLayouts are tried in order. Zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp and returns it in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

// FormatWatermark renders a watermark the way it is persisted.
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NextSecond returns the first whole second strictly after t.
// An event at T is excluded by a next request starting at NextSecond(T).
func NextSecond(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second).Add(time.Second)
}

// ResolveWatermark applies the load-time policy to a stored watermark:
// nothing stored yields now minus FirstRunLookback, anything older than the
// retention floor is raised to now minus RetentionFloor.
func ResolveWatermark(now, stored time.Time, found bool) time.Time {
	now = now.UTC()
	if !found {
		return now.Add(-FirstRunLookback)
	}

	floor := now.Add(-RetentionFloor)
	if stored.Before(floor) {
		return floor
	}
	return stored.UTC()
}
