package custody

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/broker"
	"github.com/r3e-network/agentcustody/internal/domain"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/store"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

// fixedScorer returns a predetermined result regardless of scenario/answer,
// letting a scenario test pin down an exact overall_score without depending
// on HeuristicScorer's text-matching heuristics.
type fixedScorer struct {
	scores  domain.ComponentScores
	overall float64
	passed  bool
}

func (f fixedScorer) Score(Scenario, string) (domain.ComponentScores, float64, bool, string) {
	return f.scores, f.overall, f.passed, "fixed"
}

func TestScenarioHappyPathTestPass(t *testing.T) {
	st := memory.New()
	scorer := fixedScorer{
		scores:  domain.ComponentScores{Completeness: 80, Creativity: 80, Feasibility: 85, TechnicalDepth: 75, AdherenceToConstraints: 90},
		overall: 82,
		passed:  true,
	}
	e := New(st, generousBroker(), scorer)

	result, err := e.AdministerTest(context.Background(), domain.Guardian, "", false)
	if err != nil {
		t.Fatalf("AdministerTest: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected passed=true")
	}
	if result.XPAwarded != 50 {
		t.Fatalf("expected xp_awarded=50, got %v", result.XPAwarded)
	}

	got, err := st.GetAgentMetrics(context.Background(), domain.Guardian)
	if err != nil {
		t.Fatalf("GetAgentMetrics: %v", err)
	}
	if got.XP != 50 {
		t.Fatalf("expected new xp=50, got %v", got.XP)
	}
	if got.Level != 1 {
		t.Fatalf("expected level=1, got %v", got.Level)
	}
	if got.ConsecutiveSuccesses != 1 || got.ConsecutiveFailures != 0 {
		t.Fatalf("expected streak 1/0, got %d/%d", got.ConsecutiveSuccesses, got.ConsecutiveFailures)
	}
	if got.TotalTestsGiven != 1 || got.TotalTestsPassed != 1 {
		t.Fatalf("expected 1 given, 1 passed, got %d/%d", got.TotalTestsGiven, got.TotalTestsPassed)
	}
	if got.CurrentDifficulty != domain.Basic {
		t.Fatalf("expected difficulty to remain basic (streak < 3), got %v", got.CurrentDifficulty)
	}
	if len(got.TestHistory) != 1 {
		t.Fatalf("expected exactly one test_history entry, got %d", len(got.TestHistory))
	}
}

func TestScenarioDifficultyDecreaseUnderTenConsecutiveFailures(t *testing.T) {
	st := memory.New()
	seed := domain.DefaultAgentMetrics(domain.Sandbox)
	seed.CurrentDifficulty = domain.Intermediate
	seed.ConsecutiveFailures = 9
	st.Seed(domain.Sandbox, seed)

	scorer := fixedScorer{
		scores:  domain.ComponentScores{Completeness: 20, Creativity: 30, Feasibility: 30, TechnicalDepth: 35, AdherenceToConstraints: 35},
		overall: 30,
		passed:  false,
	}
	e := New(st, generousBroker(), scorer)

	result, err := e.AdministerTest(context.Background(), domain.Sandbox, "", false)
	if err != nil {
		t.Fatalf("AdministerTest: %v", err)
	}
	if result.Passed {
		t.Fatal("expected passed=false")
	}
	if result.Difficulty != domain.Basic {
		t.Fatalf("expected adjusted_difficulty decrease(intermediate,3)=basic, got %v", result.Difficulty)
	}
	if result.XPAwarded != 25 {
		t.Fatalf("expected xp_awarded=100*0.25=25 (base difficulty's XP table), got %v", result.XPAwarded)
	}

	got, err := st.GetAgentMetrics(context.Background(), domain.Sandbox)
	if err != nil {
		t.Fatalf("GetAgentMetrics: %v", err)
	}
	if got.ConsecutiveFailures != 10 {
		t.Fatalf("expected consecutive_failures=10, got %d", got.ConsecutiveFailures)
	}
	if got.CurrentDifficulty != domain.Basic {
		t.Fatalf("expected current_difficulty written back as basic, got %v", got.CurrentDifficulty)
	}
}

func TestScenarioBudgetDenialForcesSynthesis(t *testing.T) {
	st := memory.New()
	cfg := governor.Config{
		MonthlyLimitPrimary:   1000,
		MonthlyLimitSecondary: 1000,
		PerRequestLimit:       100_000,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.90,
	}
	g := governor.New(st, cfg, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.AddTokenUsage(ctx, domain.ProviderPrimary, now, 0, 999, true, "seed-primary"); err != nil {
		t.Fatalf("seed primary usage: %v", err)
	}
	if err := st.AddTokenUsage(ctx, domain.ProviderSecondary, now, 0, 999, true, "seed-secondary"); err != nil {
		t.Fatalf("seed secondary usage: %v", err)
	}

	br := broker.New(g, map[domain.Provider]broker.Provider{
		domain.ProviderPrimary:   unreachableProvider{},
		domain.ProviderSecondary: unreachableProvider{},
	})
	e := New(st, br, nil)

	result, err := e.AdministerTest(ctx, domain.Imperium, "", false)
	if err != nil {
		t.Fatalf("AdministerTest: %v", err)
	}
	if !result.Synthesized {
		t.Fatal("expected synthesized=true when the governor denies both providers")
	}

	primaryMonth, err := st.ReadTokenWindow(ctx, domain.ProviderPrimary, domain.WindowMonth, now)
	if err != nil {
		t.Fatalf("ReadTokenWindow: %v", err)
	}
	if primaryMonth.TokensUsed != 999 {
		t.Fatalf("expected token_usage unchanged at 999, got %d", primaryMonth.TokensUsed)
	}
}

// unreachableProvider fails every call; used to prove AdministerTest never
// attempts an external call once the governor has already denied both
// providers.
type unreachableProvider struct{}

func (unreachableProvider) Name() domain.Provider { return domain.ProviderPrimary }
func (unreachableProvider) Complete(context.Context, string, int) (string, int64, int64, error) {
	panic("provider must not be called once the governor denies both providers")
}

var _ store.Store = (*memory.Store)(nil)
