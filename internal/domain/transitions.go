package domain

// AdjustedDifficulty derives the difficulty actually used for a test from the
// persisted current_difficulty and the agent's recent streaks. The persisted
// value is the authoritative source, not AI level.
func AdjustedDifficulty(base Difficulty, consecutiveFailures, consecutiveSuccesses int) Difficulty {
	switch {
	case consecutiveFailures >= 10:
		return base.Decrease(3)
	case consecutiveFailures >= 5:
		return base.Decrease(2)
	case consecutiveFailures >= 3:
		return base.Decrease(1)
	case consecutiveSuccesses >= 5:
		return base.Increase(1)
	default:
		return base
	}
}

// NextDifficulty computes the difficulty MetricsStore persists after a test
// result, given the adjusted difficulty that was actually administered and
// the streak counters the result produces.
//
// consecutiveSuccessesAfter and consecutiveFailuresAfter must already reflect
// this result (i.e. the streak as it will be written to AgentMetrics).
func NextDifficulty(adjusted Difficulty, passed bool, consecutiveSuccessesAfter, consecutiveFailuresAfter int) Difficulty {
	if passed {
		if consecutiveSuccessesAfter >= 3 {
			return adjusted.Increase(1)
		}
		return adjusted
	}
	// Failure: the decrease from AdjustedDifficulty is already reflected in
	// `adjusted`; a third consecutive failure at this difficulty pushes it
	// down one further level.
	if consecutiveFailuresAfter%3 == 0 {
		return adjusted.Decrease(1)
	}
	return adjusted
}
