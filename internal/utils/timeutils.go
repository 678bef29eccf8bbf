package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ResolveRange turns optional RFC3339 start/end values into a concrete
// window. When both are empty the window trails now by the given duration;
// an empty end alone means "until now". The start must precede the end.
func ResolveRange(startValue, endValue string, trailing time.Duration, now time.Time) (time.Time, time.Time, error) {
	end := now
	if endValue != "" {
		t, err := ParseRFC3339(endValue)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}

	start := end.Add(-trailing)
	if startValue != "" {
		t, err := ParseRFC3339(startValue)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
