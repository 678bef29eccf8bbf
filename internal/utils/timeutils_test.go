package utils

import (
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	if _, err := ParseRFC3339(""); err == nil {
		t.Fatal("expected error for empty value")
	}
	if _, err := ParseRFC3339("not-a-time"); err == nil {
		t.Fatal("expected error for malformed value")
	}
	got, err := ParseRFC3339("2025-06-01T12:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UTC().Hour() != 12 {
		t.Fatalf("unexpected parsed time: %v", got)
	}
}

func TestResolveRangeDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	start, end, err := ResolveRange("", "", time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !end.Equal(now) {
		t.Fatalf("expected end=now, got %v", end)
	}
	if !start.Equal(now.Add(-time.Hour)) {
		t.Fatalf("expected trailing one hour, got %v", start)
	}
}

func TestResolveRangeExplicit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	start, end, err := ResolveRange("2025-06-01T08:00:00Z", "2025-06-01T10:00:00Z", time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.UTC().Hour() != 8 || end.UTC().Hour() != 10 {
		t.Fatalf("unexpected window: %v .. %v", start, end)
	}
}

func TestResolveRangeRejectsInverted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := ResolveRange("2025-06-01T10:00:00Z", "2025-06-01T08:00:00Z", time.Hour, now); err == nil {
		t.Fatal("expected error for start after end")
	}
	if _, _, err := ResolveRange("bogus", "", time.Hour, now); err == nil {
		t.Fatal("expected error for malformed start")
	}
}
