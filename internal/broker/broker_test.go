package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/store/memory"
)

func newTestBroker(primary, secondary Provider) *Broker {
	cfg := governor.Config{
		MonthlyLimitPrimary:   72_000,
		MonthlyLimitSecondary: 72_000,
		PerRequestLimit:       1_000,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.90,
	}
	g := governor.New(memory.New(), cfg, nil)
	providers := map[domain.Provider]Provider{}
	if primary != nil {
		providers[domain.ProviderPrimary] = primary
	}
	if secondary != nil {
		providers[domain.ProviderSecondary] = secondary
	}
	return New(g, providers)
}

func TestGenerateSucceedsOnPrimary(t *testing.T) {
	b := newTestBroker(
		StaticProvider{ProviderName: domain.ProviderPrimary, Response: "hello"},
		StaticProvider{ProviderName: domain.ProviderSecondary, Response: "unused"},
	)
	result, err := b.Generate(context.Background(), domain.Imperium, "prompt", 100, 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Provider != domain.ProviderPrimary || result.Text != "hello" {
		t.Fatalf("expected primary response, got %+v", result)
	}
}

func TestGenerateFallsBackToSecondaryOnPrimaryFailure(t *testing.T) {
	b := newTestBroker(
		StaticProvider{ProviderName: domain.ProviderPrimary, Err: errors.New("boom")},
		StaticProvider{ProviderName: domain.ProviderSecondary, Response: "fallback text"},
	)
	result, err := b.Generate(context.Background(), domain.Guardian, "prompt", 100, 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Provider != domain.ProviderSecondary || result.Text != "fallback text" {
		t.Fatalf("expected fallback to secondary, got %+v", result)
	}
}

func TestGenerateReturnsProviderErrorWhenBothProvidersFail(t *testing.T) {
	b := newTestBroker(
		StaticProvider{ProviderName: domain.ProviderPrimary, Err: errors.New("primary down")},
		StaticProvider{ProviderName: domain.ProviderSecondary, Err: errors.New("secondary down")},
	)
	_, err := b.Generate(context.Background(), domain.Sandbox, "prompt", 100, 10)
	if err == nil {
		t.Fatal("expected an error when both providers fail")
	}
	if !svcerrors.IsCode(err, svcerrors.CodeProviderError) {
		t.Fatalf("expected PROVIDER_2001, got %v", err)
	}
}

func TestGenerateDeniesRequestExceedingPerRequestLimit(t *testing.T) {
	b := newTestBroker(
		StaticProvider{ProviderName: domain.ProviderPrimary, Response: "should not be called"},
		nil,
	)
	_, err := b.Generate(context.Background(), domain.Conquest, "prompt", 100, 5_000)
	if err == nil {
		t.Fatal("expected budget denial for over-limit request")
	}
	if !svcerrors.IsCode(err, svcerrors.CodeBudgetDenied) {
		t.Fatalf("expected BUDGET_1007, got %v", err)
	}
}

func TestGenerateNoSecondFallbackAttempt(t *testing.T) {
	// Only primary is configured; on failure there is no secondary entry in
	// the providers map, so Generate must surface the original error rather
	// than loop.
	b := newTestBroker(
		StaticProvider{ProviderName: domain.ProviderPrimary, Err: errors.New("primary down")},
		nil,
	)
	_, err := b.Generate(context.Background(), domain.Imperium, "prompt", 100, 10)
	if err == nil {
		t.Fatal("expected an error when the only configured provider fails")
	}
	if !svcerrors.IsCode(err, svcerrors.CodeProviderError) {
		t.Fatalf("expected PROVIDER_2001, got %v", err)
	}
}
