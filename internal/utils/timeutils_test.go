package utils

import (
	"testing"
	"time"
)

func TestRFC3339RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	parsed, err := ParseRFC3339(FormatRFC3339(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, now)
	}
}

func TestParseRFC3339Empty(t *testing.T) {
	if _, err := ParseRFC3339(""); err == nil {
		t.Fatal("expected error for empty value")
	}
}
