// Package store defines MetricsStore: the single writer of all durable agent
// and token state. Two implementations are provided —
// internal/store/memory for tests and default operation, and
// internal/store/postgres for production — both satisfying the Store
// interface. The shared conformance suite in
// internal/store/store_conformance_test.go runs against the memory backend
// only; the Postgres backend has its own sqlmock tests.
package store

import (
	"context"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// Patch is the closed-form field patch UpsertAgentMetrics applies under the
// agent's per-key lock. Every field is optional; nil/false
// means "leave unchanged." Patch never touches xp/level/test counters —
// those are the exclusive domain of RecordTestResult.
type Patch struct {
	Status                  *domain.AgentStatus
	LearningScoreDelta      *float64
	IncrementLearningCycles bool
	LastStartedAt           *time.Time
	LastFinishedAt          *time.Time
	LastCompletedNonce      *string
	Prestige                *int
}

// Store is the interface every core component depends on; concrete
// implementations own all persistent state.
type Store interface {
	// GetAgentMetrics returns a point-in-time snapshot, or an
	// errors.CodeNotFound ServiceError if the agent has never been
	// referenced.
	GetAgentMetrics(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, error)

	// UpsertAgentMetrics applies patch under the agent's lock, creating the
	// default row first if absent.
	UpsertAgentMetrics(ctx context.Context, agentType domain.AgentType, patch Patch) (domain.AgentMetrics, error)

	// RecordTestResult atomically folds a custody test outcome into the
	// agent's row. Idempotent on result.TestID.
	RecordTestResult(ctx context.Context, agentType domain.AgentType, result domain.TestResult) (domain.AgentMetrics, error)

	// ListAgentMetrics returns a snapshot of every known agent, in
	// domain.AllAgentTypes order, used by leaderboard-style projections.
	ListAgentMetrics(ctx context.Context) ([]domain.AgentMetrics, error)

	// ResetAgentMetrics zeroes counters, archives the prior row, and resets
	// current_difficulty to basic. Admin-only.
	ResetAgentMetrics(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, error)

	// ReadTokenWindow returns the ledger row for (provider, granularity,
	// instant's window), creating no row as a side effect.
	ReadTokenWindow(ctx context.Context, provider domain.Provider, granularity domain.WindowGranularity, instant time.Time) (domain.TokenLedger, error)

	// AddTokenUsage atomically increments the hour/day/month windows
	// containing instant for provider. Idempotent on requestID.
	AddTokenUsage(ctx context.Context, provider domain.Provider, instant time.Time, tokensIn, tokensOut int64, success bool, requestID string) error

	// ArchiveAndRollMonth copies the completed month to the archive and
	// resets active counters for the next month. Idempotent per month.
	ArchiveAndRollMonth(ctx context.Context, month time.Time) error

	// ResetTokenUsage archives then zeros the ledger for the window
	// containing instant. Admin-only.
	ResetTokenUsage(ctx context.Context, granularity domain.WindowGranularity, instant time.Time) error
}
