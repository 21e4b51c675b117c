package custody

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/broker"
	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/store"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

// keywordRichAnswer is long enough for a perfect length score and contains
// words ("mastery", "reasoning", "specialization", "unverifiable") that
// HeuristicScorer's coverage check matches against every scenario's
// objectives and constraints regardless of which domain topic was rotated in.
func keywordRichAnswer() string {
	sentence := "I demonstrate full mastery of the topic through explicit reasoning, staying strictly within my declared specialization and avoiding unverifiable claims. "
	return strings.Repeat(sentence, 6)
}

func newTestEngine(br *broker.Broker) (*Engine, store.Store) {
	st := memory.New()
	return New(st, br, nil), st
}

func generousBroker() *broker.Broker {
	cfg := governor.Config{
		MonthlyLimitPrimary:   1_000_000,
		MonthlyLimitSecondary: 1_000_000,
		PerRequestLimit:       100_000,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.90,
	}
	g := governor.New(memory.New(), cfg, nil)
	return broker.New(g, map[domain.Provider]broker.Provider{
		domain.ProviderPrimary: broker.StaticProvider{ProviderName: domain.ProviderPrimary, Response: keywordRichAnswer()},
	})
}

func starvedBroker() *broker.Broker {
	cfg := governor.Config{
		MonthlyLimitPrimary:   1_000_000,
		MonthlyLimitSecondary: 1_000_000,
		PerRequestLimit:       1,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.90,
	}
	g := governor.New(memory.New(), cfg, nil)
	return broker.New(g, map[domain.Provider]broker.Provider{
		domain.ProviderPrimary: broker.StaticProvider{ProviderName: domain.ProviderPrimary, Response: "unused"},
	})
}

func TestAdministerTestSucceedsWithProviderResponse(t *testing.T) {
	e, _ := newTestEngine(generousBroker())
	result, err := e.AdministerTest(context.Background(), domain.Imperium, "", false)
	if err != nil {
		t.Fatalf("AdministerTest: %v", err)
	}
	if result.Synthesized {
		t.Fatal("expected a provider-backed answer, not a synthesized fallback")
	}
	if !result.Passed {
		t.Fatalf("expected the keyword-rich answer to pass, got overall score %v", result.OverallScore)
	}
	if result.XPAwarded != float64(domain.Basic.BaseXP()) {
		t.Fatalf("expected full base XP on pass, got %v", result.XPAwarded)
	}
}

func TestAdministerTestSynthesizesFallbackOnBudgetDenial(t *testing.T) {
	e, _ := newTestEngine(starvedBroker())
	result, err := e.AdministerTest(context.Background(), domain.Guardian, "", false)
	if err != nil {
		t.Fatalf("AdministerTest: %v", err)
	}
	if !result.Synthesized {
		t.Fatal("expected a synthesized fallback answer when the budget denies the provider call")
	}
}

func TestAdministerTestRejectsRepeatedCompletionNonce(t *testing.T) {
	e, _ := newTestEngine(generousBroker())
	ctx := context.Background()

	if _, err := e.AdministerTest(ctx, domain.Sandbox, "nonce-1", false); err != nil {
		t.Fatalf("first AdministerTest: %v", err)
	}
	_, err := e.AdministerTest(ctx, domain.Sandbox, "nonce-1", false)
	if err == nil {
		t.Fatal("expected a conflict for a repeated completion nonce")
	}
	if !svcerrors.IsCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestEligibleToProposeNoHistory(t *testing.T) {
	e, _ := newTestEngine(nil)
	elig, err := e.EligibleToPropose(context.Background(), domain.Conquest)
	if err != nil {
		t.Fatalf("EligibleToPropose: %v", err)
	}
	if elig.Eligible {
		t.Fatal("expected ineligible with no custody test on record")
	}
}

func TestEligibleToProposeLastTestFailed(t *testing.T) {
	e, st := newTestEngine(nil)
	ctx := context.Background()
	_, err := st.RecordTestResult(ctx, domain.Conquest, domain.TestResult{
		TestID: "t1", AgentType: domain.Conquest, Difficulty: domain.Basic,
		Passed: false, OverallScore: 30, XPAwarded: 5000, CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordTestResult: %v", err)
	}
	elig, err := e.EligibleToPropose(ctx, domain.Conquest)
	if err != nil {
		t.Fatalf("EligibleToPropose: %v", err)
	}
	if elig.Eligible {
		t.Fatal("expected ineligible after a failed last test")
	}
}

func TestEligibleToProposeCooldownActive(t *testing.T) {
	e, st := newTestEngine(nil)
	ctx := context.Background()
	_, err := st.RecordTestResult(ctx, domain.Conquest, domain.TestResult{
		TestID: "t1", AgentType: domain.Conquest, Difficulty: domain.Basic,
		Passed: true, OverallScore: 90, XPAwarded: 5000, CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordTestResult: %v", err)
	}
	elig, err := e.EligibleToPropose(ctx, domain.Conquest)
	if err != nil {
		t.Fatalf("EligibleToPropose: %v", err)
	}
	if elig.Eligible {
		t.Fatal("expected ineligible immediately after a pass, cooldown not yet elapsed")
	}
}

func TestEligibleToProposeAfterCooldownElapses(t *testing.T) {
	e, st := newTestEngine(nil)
	ctx := context.Background()
	completedAt := time.Now().UTC().Add(-1 * time.Hour)
	_, err := st.RecordTestResult(ctx, domain.Conquest, domain.TestResult{
		TestID: "t1", AgentType: domain.Conquest, Difficulty: domain.Basic,
		Passed: true, OverallScore: 90, XPAwarded: 5000, CompletedAt: completedAt,
	})
	if err != nil {
		t.Fatalf("RecordTestResult: %v", err)
	}
	elig, err := e.EligibleToPropose(ctx, domain.Conquest)
	if err != nil {
		t.Fatalf("EligibleToPropose: %v", err)
	}
	if !elig.Eligible {
		t.Fatalf("expected eligible once cooldown and xp requirements are both satisfied, got reason %q", elig.Reason)
	}
}
