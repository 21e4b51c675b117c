package domain

import (
	"strings"
	"testing"
	"time"
)

func TestAppendTestHistoryEvictsOldest(t *testing.T) {
	var history []TestHistoryEntry
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < TestHistoryCap+5; i++ {
		entry := TestHistoryEntry{TestID: string(rune('a' + i%26)), Timestamp: base.Add(time.Duration(i) * time.Hour)}
		history = AppendTestHistory(history, entry)
	}
	if len(history) != TestHistoryCap {
		t.Fatalf("expected history capped at %d, got %d", TestHistoryCap, len(history))
	}
	if history[0].Timestamp.Before(base.Add(5 * time.Hour)) {
		t.Fatalf("expected oldest 5 entries evicted, got first timestamp %v", history[0].Timestamp)
	}
}

func TestAppendTestHistoryDoesNotMutateInput(t *testing.T) {
	original := []TestHistoryEntry{{TestID: "t1"}}
	_ = AppendTestHistory(original, TestHistoryEntry{TestID: "t2"})
	if len(original) != 1 {
		t.Fatalf("expected input slice unmodified, got len %d", len(original))
	}
}

func TestCapEvaluationSummary(t *testing.T) {
	long := strings.Repeat("x", 2000)
	capped := CapEvaluationSummary(long)
	if len(capped) != 1024 {
		t.Fatalf("expected 1024 bytes, got %d", len(capped))
	}
}

func TestCheckInvariants(t *testing.T) {
	m := DefaultAgentMetrics(Imperium)
	m.TotalTestsGiven = 2
	m.TotalTestsPassed = 1
	m.TotalTestsFailed = 1
	m.Level = LevelForXP(m.XP)
	if v := CheckInvariants(m); v != "" {
		t.Fatalf("expected no violation, got %q", v)
	}

	bad := m
	bad.TotalTestsGiven = 5
	if v := CheckInvariants(bad); v == "" {
		t.Fatal("expected a violation for mismatched test counters")
	}

	badStreak := m
	badStreak.ConsecutiveSuccesses = 1
	badStreak.ConsecutiveFailures = 1
	if v := CheckInvariants(badStreak); v == "" {
		t.Fatal("expected a violation for simultaneous success/failure streaks")
	}
}

func TestAgentMetricsCloneIsIndependent(t *testing.T) {
	now := time.Now()
	m := AgentMetrics{
		AgentType:      Imperium,
		TestHistory:    []TestHistoryEntry{{TestID: "t1"}},
		LastTestAt:     &now,
		Extra:          map[string]any{"k": "v"},
	}
	clone := m.Clone()
	clone.TestHistory[0].TestID = "mutated"
	*clone.LastTestAt = now.Add(time.Hour)
	clone.Extra["k"] = "changed"

	if m.TestHistory[0].TestID != "t1" {
		t.Fatal("expected original TestHistory unaffected by clone mutation")
	}
	if !m.LastTestAt.Equal(now) {
		t.Fatal("expected original LastTestAt unaffected by clone mutation")
	}
	if m.Extra["k"] != "v" {
		t.Fatal("expected original Extra map unaffected by clone mutation")
	}
}

func TestPassRate(t *testing.T) {
	m := AgentMetrics{TotalTestsGiven: 4, TotalTestsPassed: 3}
	if got := m.PassRate(); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
	if got := (AgentMetrics{}).PassRate(); got != 0 {
		t.Fatalf("expected 0 for no tests given, got %v", got)
	}
}
