package governor

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

// testConfig uses a 72,000 monthly cap, so the derived daily (/30) limit is
// 2,400 and the hourly (/24) limit is 100, above the 5-60 token requests
// these tests admit. A large seed lands in the hour and day windows too, so
// a seeded provider is also over its daily and hourly limits.
func testConfig() Config {
	return Config{
		MonthlyLimitPrimary:   72_000,
		MonthlyLimitSecondary: 72_000,
		PerRequestLimit:       50,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.90,
	}
}

func TestAdmitAllowsUnderBudget(t *testing.T) {
	g := New(memory.New(), testConfig(), nil)
	decision, err := g.Admit(context.Background(), domain.Imperium, 10, domain.ProviderPrimary)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !decision.Allow || decision.Provider != domain.ProviderPrimary {
		t.Fatalf("expected allow on primary, got %+v", decision)
	}
}

func TestAdmitDeniesRequestTooLarge(t *testing.T) {
	g := New(memory.New(), testConfig(), nil)
	decision, err := g.Admit(context.Background(), domain.Imperium, 60, domain.ProviderPrimary)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if decision.Allow || decision.Reason != ReasonRequestTooLarge {
		t.Fatalf("expected request_too_large denial, got %+v", decision)
	}
}

func TestAdmitFallsBackToSecondaryWhenPrimaryNearMonthlyCap(t *testing.T) {
	st := memory.New()
	g := New(st, testConfig(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.AddTokenUsage(ctx, domain.ProviderPrimary, now, 65_000, 0, true, "seed-1"); err != nil {
		t.Fatalf("AddTokenUsage: %v", err)
	}

	decision, err := g.Admit(ctx, domain.Imperium, 10, domain.ProviderPrimary)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !decision.Allow || decision.Provider != domain.ProviderSecondary {
		t.Fatalf("expected fallback to secondary, got %+v", decision)
	}
}

func TestAdmitReportsMostBindingReasonWhenBothExhausted(t *testing.T) {
	st := memory.New()
	g := New(st, testConfig(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.AddTokenUsage(ctx, domain.ProviderPrimary, now, 72_000, 0, true, "seed-p"); err != nil {
		t.Fatalf("AddTokenUsage primary: %v", err)
	}
	// 70,000/72,000 = 0.972 keeps secondary below the 0.98 emergency
	// threshold, so step 7 does not short-circuit; secondary still fails on
	// its daily window and primary on its monthly one.
	if err := st.AddTokenUsage(ctx, domain.ProviderSecondary, now, 70_000, 0, true, "seed-s"); err != nil {
		t.Fatalf("AddTokenUsage secondary: %v", err)
	}

	decision, err := g.Admit(ctx, domain.Imperium, 10, domain.ProviderPrimary)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if decision.Allow {
		t.Fatalf("expected denial when both providers exhausted, got %+v", decision)
	}
	if decision.Reason != ReasonMonthlyExhausted {
		t.Fatalf("expected monthly_exhausted to win over daily/hourly, got %v", decision.Reason)
	}
}

func TestAdmitEmergencyShutdownWhenBothProvidersAtEmergencyThreshold(t *testing.T) {
	st := memory.New()
	g := New(st, testConfig(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// 71,000/72,000 = 0.986, above the 0.98 emergency threshold for both
	// providers; Admit's step-7 global shutdown check short-circuits before
	// any per-window fits() check, so the hour/day windows being incidentally
	// over-filled by this seed does not affect the assertion.
	if err := st.AddTokenUsage(ctx, domain.ProviderPrimary, now, 71_000, 0, true, "seed-p"); err != nil {
		t.Fatalf("AddTokenUsage primary: %v", err)
	}
	if err := st.AddTokenUsage(ctx, domain.ProviderSecondary, now, 71_000, 0, true, "seed-s"); err != nil {
		t.Fatalf("AddTokenUsage secondary: %v", err)
	}

	decision, err := g.Admit(ctx, domain.Imperium, 5, domain.ProviderPrimary)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if decision.Allow || decision.Reason != ReasonEmergencyShutdown {
		t.Fatalf("expected emergency_shutdown once both providers cross the emergency threshold, got %+v", decision)
	}
}

func TestRecordRejectsUnknownAgentType(t *testing.T) {
	g := New(memory.New(), testConfig(), nil)
	err := g.Record(context.Background(), domain.AgentType("bogus"), domain.ProviderPrimary, 10, 5, true, "req-1")
	if err == nil {
		t.Fatal("expected InvariantViolation for unknown agent type")
	}
}

func TestRecordThenStatusReflectsUsage(t *testing.T) {
	st := memory.New()
	g := New(st, testConfig(), nil)
	ctx := context.Background()

	if err := g.Record(ctx, domain.Imperium, domain.ProviderPrimary, 400, 100, true, "req-1"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	statuses, err := g.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 provider statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.Provider == domain.ProviderPrimary && s.Remaining != 71_500 {
			t.Fatalf("expected 71500 tokens remaining on primary, got %d", s.Remaining)
		}
	}
}

func TestMostBindingPrefersMonthlyOverDailyOverHourly(t *testing.T) {
	if got := mostBinding(ReasonHourlyExhausted, ReasonMonthlyExhausted); got != ReasonMonthlyExhausted {
		t.Fatalf("expected monthly to win, got %v", got)
	}
	if got := mostBinding(ReasonDailyExhausted, ReasonHourlyExhausted); got != ReasonDailyExhausted {
		t.Fatalf("expected daily to win over hourly, got %v", got)
	}
}
