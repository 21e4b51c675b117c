package domain

import "time"

// TestHistoryCap is the maximum number of TestHistoryEntry records retained
// per agent; the oldest entry is evicted once exceeded.
const TestHistoryCap = 50

// TestHistoryEntry is an immutable record of one administered custody test.
type TestHistoryEntry struct {
	TestID             string
	Timestamp          time.Time
	Difficulty         Difficulty
	Passed             bool
	Score              float64 // 0-100
	DurationMS         int64
	XPAwarded          float64
	EvaluationSummary  string // capped at 1 KiB by the writer
	Synthesized        bool
	Extra              map[string]any
}

// AgentMetrics is the durable, per-agent row owned exclusively by the
// MetricsStore. All fields are plain values; callers never receive a pointer
// into live storage.
type AgentMetrics struct {
	AgentType             AgentType
	LearningScore         float64
	XP                    float64
	Level                 int
	Prestige              int
	TotalLearningCycles   int
	CurrentDifficulty     Difficulty
	TotalTestsGiven       int
	TotalTestsPassed      int
	TotalTestsFailed      int
	ConsecutiveSuccesses  int
	ConsecutiveFailures   int
	LastTestAt            *time.Time
	TestHistory           []TestHistoryEntry
	Status                AgentStatus
	LastStartedAt         *time.Time
	LastFinishedAt        *time.Time
	LastCompletedNonce    string // deterministic trigger dedup key, see scheduler
	Extra                 map[string]any
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// store's lock (slices and maps are copied; nested entries are value types).
func (m AgentMetrics) Clone() AgentMetrics {
	out := m
	if m.TestHistory != nil {
		out.TestHistory = make([]TestHistoryEntry, len(m.TestHistory))
		copy(out.TestHistory, m.TestHistory)
	}
	if m.LastTestAt != nil {
		t := *m.LastTestAt
		out.LastTestAt = &t
	}
	if m.LastStartedAt != nil {
		t := *m.LastStartedAt
		out.LastStartedAt = &t
	}
	if m.LastFinishedAt != nil {
		t := *m.LastFinishedAt
		out.LastFinishedAt = &t
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// DefaultAgentMetrics constructs the zero-state row created on first
// reference.
func DefaultAgentMetrics(agentType AgentType) AgentMetrics {
	return AgentMetrics{
		AgentType:         agentType,
		Level:             1,
		CurrentDifficulty: Basic,
		Status:            StatusIdle,
	}
}

// PassRate returns total_tests_passed / total_tests_given, or 0 if no tests
// have been given yet.
func (m AgentMetrics) PassRate() float64 {
	if m.TotalTestsGiven == 0 {
		return 0
	}
	return float64(m.TotalTestsPassed) / float64(m.TotalTestsGiven)
}

// CheckInvariants validates m's bookkeeping invariants (test counts sum
// correctly, streaks agree with the most recent result, level matches xp).
// Returns a human-readable description of the first violation found, or ""
// if m is consistent.
func CheckInvariants(m AgentMetrics) string {
	if m.TotalTestsGiven != m.TotalTestsPassed+m.TotalTestsFailed {
		return "total_tests_given must equal total_tests_passed + total_tests_failed"
	}
	if m.ConsecutiveSuccesses != 0 && m.ConsecutiveFailures != 0 {
		return "consecutive_successes and consecutive_failures cannot both be nonzero"
	}
	if m.Level != LevelForXP(m.XP) {
		return "level must equal 1 + floor(xp / 1000)"
	}
	if len(m.TestHistory) > TestHistoryCap {
		return "test_history exceeds the 50-entry cap"
	}
	for i := 1; i < len(m.TestHistory); i++ {
		if m.TestHistory[i].Timestamp.Before(m.TestHistory[i-1].Timestamp) {
			return "test_history must be in non-decreasing timestamp order"
		}
	}
	return ""
}

// AppendTestHistory appends entry to history, evicting the oldest record when
// the cap is exceeded. It returns a new slice; the input is not mutated.
func AppendTestHistory(history []TestHistoryEntry, entry TestHistoryEntry) []TestHistoryEntry {
	out := make([]TestHistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	if len(out) > TestHistoryCap {
		out = out[len(out)-TestHistoryCap:]
	}
	return out
}

const evaluationSummaryCap = 1024 // 1 KiB

// CapEvaluationSummary truncates s to the 1 KiB limit TestHistoryEntry enforces.
func CapEvaluationSummary(s string) string {
	if len(s) <= evaluationSummaryCap {
		return s
	}
	return s[:evaluationSummaryCap]
}
