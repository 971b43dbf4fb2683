package order

import (
	"fmt"
	"time"
)

// TimestampLayout is the marketplace wire format: UTC, millisecond
// precision, literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the marketplace wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// inputLayouts are accepted for operator-supplied times. Layouts without a
// zone are interpreted in the session timezone.
var inputLayouts = []string{
	time.RFC3339Nano,
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an operator-supplied time.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("order: unrecognised timestamp %q", s)
}

// RoundUpQuarter moves t forward to the next quarter-hour boundary unless
// its minute is already on one, then drops seconds and sub-seconds.
func RoundUpQuarter(t time.Time) time.Time {
	if r := t.Minute() % 15; r != 0 {
		t = t.Add(time.Duration(15-r) * time.Minute)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}
