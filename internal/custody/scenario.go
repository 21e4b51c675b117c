package custody

import (
	"context"
	"fmt"

	"github.com/r3e-network/agentcustody/internal/domain"
	"github.com/r3e-network/agentcustody/internal/fallback"
)

// Scenario is the generated test content handed to the agent.
type Scenario struct {
	Text               string
	Objectives         []string
	Constraints        []string
	SuccessCriteria    []string
	EvaluationRubric   string
	TimeLimitMinutes   int
}

// scenarioDomains is the fixed set of per-domain templates the diverse
// generator draws from.
var scenarioDomains = []string{
	"knowledge verification",
	"code quality",
	"security",
	"performance",
	"innovation",
	"self-improvement",
	"cross-AI collaboration",
	"experimental validation",
	"Docker lifecycle",
	"architecture",
	"multi-agent coordination",
}

// diverseScenarioGenerator builds a scenario from the domain list, picking
// the domain by seed modulo the list length; agent_type and difficulty only
// shape the text, not which domain is chosen.
type diverseScenarioGenerator struct{}

func (diverseScenarioGenerator) Generate(_ context.Context, agentType domain.AgentType, difficulty domain.Difficulty, seed int) (Scenario, error) {
	domainTopic := scenarioDomains[seed%len(scenarioDomains)]
	return Scenario{
		Text: fmt.Sprintf("As %s, operating at %s difficulty, address the following %s scenario: design, justify, and validate your approach.",
			agentType, difficulty, domainTopic),
		Objectives:       []string{fmt.Sprintf("demonstrate mastery of %s", domainTopic), "show explicit reasoning"},
		Constraints:      []string{"stay within the declared specialization", "no unverifiable claims"},
		SuccessCriteria:  []string{"addresses every objective", "reasoning is traceable"},
		EvaluationRubric: "completeness, creativity, feasibility, technical depth, adherence to constraints",
		TimeLimitMinutes: timeLimitFor(difficulty),
	}, nil
}

func timeLimitFor(d domain.Difficulty) int {
	switch d {
	case domain.Basic:
		return 10
	case domain.Intermediate:
		return 15
	case domain.Advanced:
		return 20
	case domain.Expert:
		return 30
	case domain.Master:
		return 45
	default:
		return 10
	}
}

// staticScenarioBank is the fallback keyed by (agent_type, difficulty),
// consulted when the diverse generator fails.
var staticScenarioBank = map[domain.AgentType]map[domain.Difficulty]Scenario{}

func staticScenario(agentType domain.AgentType, difficulty domain.Difficulty) Scenario {
	if byDifficulty, ok := staticScenarioBank[agentType]; ok {
		if s, ok := byDifficulty[difficulty]; ok {
			return s
		}
	}
	return Scenario{
		Text:             fmt.Sprintf("Static scenario: as %s at %s difficulty, solve a representative problem in %s.", agentType, difficulty, agentType.Specialization()),
		Objectives:       []string{"solve the stated problem"},
		Constraints:      []string{"stay within scope"},
		SuccessCriteria:  []string{"produces a working solution"},
		EvaluationRubric: "completeness, creativity, feasibility, technical depth, adherence to constraints",
		TimeLimitMinutes: timeLimitFor(difficulty),
	}
}

// ScenarioGenerator produces the scenario for one AdministerTest call,
// trying the diverse generator first and falling back to the static bank on
// any error, wired through internal/fallback.Handler the same way a primary
// and secondary provider call are wired in internal/broker.
type ScenarioGenerator struct {
	diverse  diverseScenarioGenerator
	fallback *fallback.Handler
	seed     int
}

// NewScenarioGenerator constructs a generator. Its internal seed starts at 0
// and advances by one on each Generate call, stepping through the domain
// rotation.
func NewScenarioGenerator() *ScenarioGenerator {
	return &ScenarioGenerator{fallback: fallback.NewHandler(fallback.DefaultConfig())}
}

// Generate returns a scenario for (agentType, difficulty).
func (g *ScenarioGenerator) Generate(ctx context.Context, agentType domain.AgentType, difficulty domain.Difficulty) Scenario {
	seed := g.seed
	g.seed++

	result := g.fallback.Execute(ctx,
		func(ctx context.Context) (interface{}, error) {
			return g.diverse.Generate(ctx, agentType, difficulty, seed)
		},
		func(ctx context.Context) (interface{}, error) {
			return staticScenario(agentType, difficulty), nil
		},
	)
	if result.Err != nil {
		// Both tiers failed (the static bank's Func never errors, so this is
		// unreachable in practice); return the static scenario directly.
		return staticScenario(agentType, difficulty)
	}
	return result.Value.(Scenario)
}
