package memory

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
)

func TestArchiveAndRollMonthPreservesSnapshotAndStartsFresh(t *testing.T) {
	s := New()
	ctx := context.Background()
	monthInstant := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if err := s.AddTokenUsage(ctx, domain.ProviderPrimary, monthInstant, 400, 100, true, "req-a"); err != nil {
		t.Fatalf("AddTokenUsage: %v", err)
	}
	if err := s.AddTokenUsage(ctx, domain.ProviderPrimary, monthInstant, 60, 40, true, "req-b"); err != nil {
		t.Fatalf("AddTokenUsage: %v", err)
	}

	preArchive, err := s.ReadTokenWindow(ctx, domain.ProviderPrimary, domain.WindowMonth, monthInstant)
	if err != nil {
		t.Fatalf("ReadTokenWindow before archive: %v", err)
	}

	if err := s.ArchiveAndRollMonth(ctx, monthInstant); err != nil {
		t.Fatalf("ArchiveAndRollMonth: %v", err)
	}

	archive := s.TokenArchive(domain.ProviderPrimary)
	if len(archive) != 1 {
		t.Fatalf("expected exactly one archived entry, got %d", len(archive))
	}
	archived := archive[0].Snapshot

	if archived.Provider != preArchive.Provider ||
		archived.Granularity != preArchive.Granularity ||
		!archived.WindowStart.Equal(preArchive.WindowStart) ||
		archived.TokensUsed != preArchive.TokensUsed ||
		archived.RequestCount != preArchive.RequestCount {
		t.Fatalf("expected archived snapshot to equal pre-archive window byte-for-byte,\npre-archive=%#v\narchived=%#v", preArchive, archived)
	}
	if len(archived.SeenRequestIDs) != len(preArchive.SeenRequestIDs) {
		t.Fatalf("expected archived SeenRequestIDs to match pre-archive, got %d vs %d", len(archived.SeenRequestIDs), len(preArchive.SeenRequestIDs))
	}
	for id := range preArchive.SeenRequestIDs {
		if _, ok := archived.SeenRequestIDs[id]; !ok {
			t.Fatalf("expected archived snapshot to retain request_id %q", id)
		}
	}

	// A fresh usage record in the same month window starts the counters over
	// rather than adding onto the archived total.
	if err := s.AddTokenUsage(ctx, domain.ProviderPrimary, monthInstant, 5, 5, true, "req-c"); err != nil {
		t.Fatalf("AddTokenUsage after archive: %v", err)
	}
	postArchive, err := s.ReadTokenWindow(ctx, domain.ProviderPrimary, domain.WindowMonth, monthInstant)
	if err != nil {
		t.Fatalf("ReadTokenWindow after archive: %v", err)
	}
	if postArchive.TokensUsed != 10 {
		t.Fatalf("expected the rolled window to start fresh at 10 tokens, got %d", postArchive.TokensUsed)
	}
}

func TestArchiveAndRollMonthIsIdempotentPerMonth(t *testing.T) {
	s := New()
	ctx := context.Background()
	monthInstant := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	if err := s.AddTokenUsage(ctx, domain.ProviderSecondary, monthInstant, 20, 5, true, "req-1"); err != nil {
		t.Fatalf("AddTokenUsage: %v", err)
	}
	if err := s.ArchiveAndRollMonth(ctx, monthInstant); err != nil {
		t.Fatalf("ArchiveAndRollMonth (first): %v", err)
	}
	if err := s.ArchiveAndRollMonth(ctx, monthInstant); err != nil {
		t.Fatalf("ArchiveAndRollMonth (second): %v", err)
	}

	archive := s.TokenArchive(domain.ProviderSecondary)
	if len(archive) != 1 {
		t.Fatalf("expected a repeated archive call for the same month to be a no-op, got %d entries", len(archive))
	}
}
