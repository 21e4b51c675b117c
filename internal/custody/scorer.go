package custody

import (
	"strings"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// Scorer is the pluggable evaluation function behind AdministerTest. Any
// real model-backed scoring machinery stays external; this package only
// defines the interface and ships a heuristic default.
type Scorer interface {
	Score(scenario Scenario, answer string) (domain.ComponentScores, overall float64, passed bool, feedback string)
}

// HeuristicScorer is the default Scorer: a deterministic, dependency-free
// stand-in good enough to drive the state machine without any ML runtime.
// It rewards answer length, objective coverage, and constraint coverage —
// crude: the length-based axes ignore the scenario, and coverage falls back
// to a fixed score when the scenario lists no objectives or constraints.
type HeuristicScorer struct{}

func (HeuristicScorer) Score(scenario Scenario, answer string) (domain.ComponentScores, float64, bool, string) {
	lowered := strings.ToLower(answer)

	lengthScore := clamp(float64(len(answer))/8, 0, 100)

	objectiveHits := 0
	for _, o := range scenario.Objectives {
		if containsAnyWord(lowered, o) {
			objectiveHits++
		}
	}
	completeness := coverageScore(objectiveHits, len(scenario.Objectives))

	constraintHits := 0
	for _, c := range scenario.Constraints {
		if containsAnyWord(lowered, c) {
			constraintHits++
		}
	}
	adherence := coverageScore(constraintHits, len(scenario.Constraints))

	creativity := clamp(lengthScore*0.6+20, 0, 100)
	feasibility := clamp((completeness+adherence)/2, 0, 100)
	technicalDepth := clamp(lengthScore, 0, 100)

	scores := domain.ComponentScores{
		Completeness:           completeness,
		Creativity:             creativity,
		Feasibility:            feasibility,
		TechnicalDepth:         technicalDepth,
		AdherenceToConstraints: adherence,
	}
	overall := scores.Overall()
	passed := overall >= 60 // caller applies the difficulty-specific threshold
	feedback := "heuristic evaluation based on objective and constraint coverage"
	return scores, overall, passed, feedback
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func coverageScore(hits, total int) float64 {
	if total == 0 {
		return 70
	}
	return clamp(float64(hits)/float64(total)*100, 0, 100)
}

func containsAnyWord(haystack, needle string) bool {
	for _, w := range strings.Fields(strings.ToLower(needle)) {
		if len(w) > 3 && strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

// degradedScore is the conservative fallback applied when a Scorer panics:
// a failing overall score with no component breakdown, rather than
// propagating the panic out of AdministerTest.
func degradedScore() (domain.ComponentScores, float64, bool, string) {
	return domain.ComponentScores{}, 40, false, "scoring unavailable"
}

// safeScore recovers from a panicking Scorer, applying degradedScore.
func safeScore(scorer Scorer, scenario Scenario, answer string) (scores domain.ComponentScores, overall float64, passed bool, feedback string) {
	defer func() {
		if r := recover(); r != nil {
			scores, overall, passed, feedback = degradedScore()
		}
	}()
	return scorer.Score(scenario, answer)
}
