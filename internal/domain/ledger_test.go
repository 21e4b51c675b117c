package domain

import (
	"testing"
	"time"
)

func TestTruncateToWindow(t *testing.T) {
	instant := time.Date(2026, 7, 31, 14, 37, 9, 0, time.UTC)

	hour := TruncateToWindow(instant, WindowHour)
	if !hour.Equal(time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected hour window: %v", hour)
	}

	day := TruncateToWindow(instant, WindowDay)
	if !day.Equal(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day window: %v", day)
	}

	month := TruncateToWindow(instant, WindowMonth)
	if !month.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month window: %v", month)
	}
}

func TestTokenLedgerCloneIndependence(t *testing.T) {
	l := TokenLedger{
		Provider:       ProviderPrimary,
		SeenRequestIDs: map[string]struct{}{"req-1": {}},
	}
	clone := l.Clone()
	clone.SeenRequestIDs["req-2"] = struct{}{}
	if _, ok := l.SeenRequestIDs["req-2"]; ok {
		t.Fatal("expected original ledger's SeenRequestIDs unaffected by clone mutation")
	}
}
