package domain

import "time"

// ComponentScores holds the five equally-weighted scoring axes a Scorer
// reports. A reimplementer may parameterize weights (see DESIGN.md Open
// Question #1); this type keeps the axes explicit either way.
type ComponentScores struct {
	Completeness        float64
	Creativity           float64
	Feasibility          float64
	TechnicalDepth       float64
	AdherenceToConstraints float64
}

// Overall returns the unweighted average of the five axes.
func (c ComponentScores) Overall() float64 {
	return (c.Completeness + c.Creativity + c.Feasibility + c.TechnicalDepth + c.AdherenceToConstraints) / 5
}

// TestResult is the outcome of one AdministerTest call, handed to MetricsStore.RecordTestResult.
type TestResult struct {
	TestID          string
	AgentType       AgentType
	Difficulty      Difficulty
	ScenarioSummary string
	AnswerSummary   string
	ComponentScores ComponentScores
	OverallScore    float64
	Passed          bool
	XPAwarded       float64
	DurationMS      int64
	IssuedAt        time.Time
	CompletedAt     time.Time
	Synthesized     bool
	FeedbackText    string
	// CompletionNonce is the deterministic dedup key derived from the
	// learning run's last_completed_at; CustodyEngine drops a
	// repeated trigger carrying a nonce already present in recent history
	// before generating a new test.
	CompletionNonce string
}

// ToHistoryEntry projects a TestResult into the immutable record stored in
// AgentMetrics.TestHistory.
func (r TestResult) ToHistoryEntry() TestHistoryEntry {
	return TestHistoryEntry{
		TestID:            r.TestID,
		Timestamp:         r.CompletedAt,
		Difficulty:        r.Difficulty,
		Passed:            r.Passed,
		Score:             r.OverallScore,
		DurationMS:        r.DurationMS,
		XPAwarded:         r.XPAwarded,
		EvaluationSummary: CapEvaluationSummary(r.FeedbackText),
		Synthesized:       r.Synthesized,
	}
}
