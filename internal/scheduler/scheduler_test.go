package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

// blockingRunner never returns from RunLearningCycle until release is
// closed, holding an agent in the running state for as long as a test needs.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) RunLearningCycle(ctx context.Context, agentType domain.AgentType) error {
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestScheduler(runner LearningRunner) *Scheduler {
	st := memory.New()
	engine := custody.New(st, nil, nil)
	sched := New(st, engine, runner, nil, nil, 2)
	sched.custodyDelay = 5 * time.Millisecond
	sched.cooldownTimeout = 50 * time.Millisecond
	sched.shutdownTimeout = 200 * time.Millisecond
	return sched
}

func TestTriggerNowAlreadyRunningOnSecondCall(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	sched := newTestScheduler(runner)
	ctx := context.Background()

	if _, err := sched.TriggerNow(ctx, domain.Imperium); err != nil {
		t.Fatalf("first TriggerNow: %v", err)
	}
	_, err := sched.TriggerNow(ctx, domain.Imperium)
	if err == nil {
		t.Fatal("expected the second TriggerNow call to be rejected")
	}
	if !svcerrors.IsCode(err, svcerrors.CodeAlreadyRunning) {
		t.Fatalf("expected SCHED_4001, got %v", err)
	}

	close(runner.release)
}

func TestTriggerNowRejectsUnknownAgentType(t *testing.T) {
	sched := newTestScheduler(&blockingRunner{release: make(chan struct{})})
	_, err := sched.TriggerNow(context.Background(), domain.AgentType("bogus"))
	if err == nil {
		t.Fatal("expected an error for an unknown agent type")
	}
}

func TestStatusDefaultsToIdleForUnknownAgent(t *testing.T) {
	sched := newTestScheduler(&blockingRunner{release: make(chan struct{})})
	status, next := sched.Status(domain.AgentType("bogus"))
	if status != domain.StatusIdle {
		t.Fatalf("expected idle default, got %v", status)
	}
	if !next.IsZero() {
		t.Fatalf("expected zero-value next time for unknown agent, got %v", next)
	}
}

func TestStatusReflectsRunningAfterTriggerNow(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	sched := newTestScheduler(runner)
	ctx := context.Background()

	if _, err := sched.TriggerNow(ctx, domain.Guardian); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	status, _ := sched.Status(domain.Guardian)
	if status != domain.StatusRunning {
		t.Fatalf("expected running status, got %v", status)
	}

	close(runner.release)
}

func TestDescriptorReportsCapabilities(t *testing.T) {
	sched := newTestScheduler(&blockingRunner{release: make(chan struct{})})
	d := sched.Descriptor()
	if d.Name != "agent-scheduler" {
		t.Fatalf("expected name agent-scheduler, got %q", d.Name)
	}
	if len(d.Capabilities) == 0 {
		t.Fatal("expected non-empty capability list")
	}
}

func TestStartThenStopIsGraceful(t *testing.T) {
	sched := newTestScheduler(&blockingRunner{release: make(chan struct{})})
	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
