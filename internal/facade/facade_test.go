package facade_test

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/facade"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/lifecycle"
	"github.com/r3e-network/agentcustody/internal/scheduler"
	"github.com/r3e-network/agentcustody/internal/store"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

type noopRunner struct{}

func (noopRunner) RunLearningCycle(ctx context.Context, agentType domain.AgentType) error { return nil }

func newTestFacade(t *testing.T, st store.Store) *facade.Facade {
	t.Helper()
	g := governor.New(st, governor.DefaultConfig(), nil)
	engine := custody.New(st, nil, nil)
	sched := scheduler.New(st, engine, noopRunner{}, nil, nil, 2)
	manager := lifecycle.NewManager()
	if err := manager.Register(sched); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return facade.New(st, g, engine, sched, manager)
}

func TestGetAgentStatusRejectsUnknownAgentType(t *testing.T) {
	f := newTestFacade(t, memory.New())
	_, err := f.GetAgentStatus(context.Background(), domain.AgentType("bogus"))
	if !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetAgentStatusDefaultsForNeverSeenAgent(t *testing.T) {
	f := newTestFacade(t, memory.New())
	status, err := f.GetAgentStatus(context.Background(), domain.Imperium)
	if err != nil {
		t.Fatalf("GetAgentStatus: %v", err)
	}
	if status.State != domain.StatusIdle {
		t.Fatalf("expected idle default state, got %v", status.State)
	}
	if status.RecentTest != nil {
		t.Fatal("expected no recent test for a never-seen agent")
	}
	if status.Eligibility.Eligible {
		t.Fatal("expected ineligible with no custody history")
	}
}

func TestGetLeaderboardOrdersByLevelThenXP(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	seed := func(agentType domain.AgentType, xp float64) {
		if _, err := st.RecordTestResult(ctx, agentType, domain.TestResult{
			TestID: string(agentType) + "-t1", AgentType: agentType, Difficulty: domain.Basic,
			Passed: true, OverallScore: 90, XPAwarded: xp, CompletedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed RecordTestResult(%s): %v", agentType, err)
		}
	}
	seed(domain.Imperium, 2500) // level 3
	seed(domain.Guardian, 1500) // level 2
	seed(domain.Sandbox, 1100)  // level 2, less xp than Guardian
	seed(domain.Conquest, 50)   // level 1

	f := newTestFacade(t, st)
	rows, err := f.GetLeaderboard(ctx)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(rows) != len(domain.AllAgentTypes()) {
		t.Fatalf("expected %d rows, got %d", len(domain.AllAgentTypes()), len(rows))
	}
	want := []domain.AgentType{domain.Imperium, domain.Guardian, domain.Sandbox, domain.Conquest}
	for i, agentType := range want {
		if rows[i].AgentType != agentType {
			t.Fatalf("position %d: expected %s, got %s", i, agentType, rows[i].AgentType)
		}
	}
}

func TestGetTokenStatusReturnsBothProviders(t *testing.T) {
	f := newTestFacade(t, memory.New())
	statuses, err := f.GetTokenStatus(context.Background())
	if err != nil {
		t.Fatalf("GetTokenStatus: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 provider statuses, got %d", len(statuses))
	}
}

func TestGetRecentTestsReturnsNilForNeverSeenAgent(t *testing.T) {
	f := newTestFacade(t, memory.New())
	tests, err := f.GetRecentTests(context.Background(), domain.Guardian, 10)
	if err != nil {
		t.Fatalf("GetRecentTests: %v", err)
	}
	if tests != nil {
		t.Fatalf("expected nil history, got %v", tests)
	}
}

func TestGetRecentTestsHonorsLimit(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := st.RecordTestResult(ctx, domain.Sandbox, domain.TestResult{
			TestID: string(rune('a' + i)), AgentType: domain.Sandbox, Difficulty: domain.Basic,
			Passed: true, OverallScore: 90, XPAwarded: 10, CompletedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed RecordTestResult: %v", err)
		}
	}
	f := newTestFacade(t, st)
	tests, err := f.GetRecentTests(ctx, domain.Sandbox, 2)
	if err != nil {
		t.Fatalf("GetRecentTests: %v", err)
	}
	if len(tests) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tests))
	}
}

func TestResetAgentMetricsRejectsUnknownAgentType(t *testing.T) {
	f := newTestFacade(t, memory.New())
	_, err := f.ResetAgentMetrics(context.Background(), domain.AgentType("bogus"))
	if !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestTriggerNowRejectsUnknownAgentType(t *testing.T) {
	f := newTestFacade(t, memory.New())
	_, err := f.TriggerNow(context.Background(), domain.AgentType("bogus"))
	if !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestResetTokenUsageDefaultsToMonthGranularity(t *testing.T) {
	f := newTestFacade(t, memory.New())
	if err := f.ResetTokenUsage(context.Background(), ""); err != nil {
		t.Fatalf("ResetTokenUsage: %v", err)
	}
}

func TestListComponentsReportsTheRegisteredScheduler(t *testing.T) {
	f := newTestFacade(t, memory.New())
	components := f.ListComponents()
	if len(components) != 1 {
		t.Fatalf("expected exactly one descriptor-advertising component, got %d", len(components))
	}
	if components[0].Name != "agent-scheduler" {
		t.Fatalf("expected the scheduler's descriptor, got %q", components[0].Name)
	}
	if len(components[0].Capabilities) == 0 {
		t.Fatal("expected the scheduler's descriptor to list at least one capability")
	}
}
