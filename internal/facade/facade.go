// Package facade implements ExternalFacade: read-mostly
// projections and commands consumed by HTTP/WebSocket adapters, which are
// themselves out of scope. Every method returns a
// value-type snapshot, never a live handle into MetricsStore or the
// scheduler's internal state.
package facade

import (
	"context"
	"sort"
	"time"

	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/lifecycle"
	"github.com/r3e-network/agentcustody/internal/scheduler"
	"github.com/r3e-network/agentcustody/internal/store"
)

// Facade is ExternalFacade (C6).
type Facade struct {
	store      store.Store
	governor   *governor.Governor
	custody    *custody.Engine
	scheduler  *scheduler.Scheduler
	components *lifecycle.Manager
}

// New constructs a Facade. components is the same lifecycle.Manager the
// composition root registers every long-running service with; ListComponents
// reads it back for introspection.
func New(st store.Store, g *governor.Governor, engine *custody.Engine, sched *scheduler.Scheduler, components *lifecycle.Manager) *Facade {
	return &Facade{store: st, governor: g, custody: engine, scheduler: sched, components: components}
}

// ListComponents reports name and capability metadata for every registered
// service that advertises a lifecycle.Descriptor (currently AgentScheduler;
// the telemetry server doesn't implement DescriptorProvider).
func (f *Facade) ListComponents() []lifecycle.Descriptor {
	return f.components.Descriptors()
}

// AgentStatus is GetAgentStatus's response shape.
type AgentStatus struct {
	AgentType      domain.AgentType
	State          domain.AgentStatus
	LastStartedAt  *time.Time
	LastFinishedAt *time.Time
	NextScheduledAt time.Time
	RecentTest     *domain.TestHistoryEntry
	Eligibility    custody.Eligibility
}

// GetAgentStatus reports one agent's current lifecycle state and custody eligibility.
func (f *Facade) GetAgentStatus(ctx context.Context, agentType domain.AgentType) (AgentStatus, error) {
	if !agentType.Valid() {
		return AgentStatus{}, svcerrors.NotFound("agent", string(agentType))
	}
	metrics, err := f.store.GetAgentMetrics(ctx, agentType)
	if err != nil {
		if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
			metrics = domain.DefaultAgentMetrics(agentType)
		} else {
			return AgentStatus{}, err
		}
	}
	eligibility, err := f.custody.EligibleToPropose(ctx, agentType)
	if err != nil {
		return AgentStatus{}, err
	}

	state, nextScheduledAt := f.scheduler.Status(agentType)

	var recent *domain.TestHistoryEntry
	if n := len(metrics.TestHistory); n > 0 {
		entry := metrics.TestHistory[n-1]
		recent = &entry
	}

	return AgentStatus{
		AgentType:       agentType,
		State:           state,
		LastStartedAt:   metrics.LastStartedAt,
		LastFinishedAt:  metrics.LastFinishedAt,
		NextScheduledAt: nextScheduledAt,
		RecentTest:      recent,
		Eligibility:     eligibility,
	}, nil
}

// LeaderboardRow is one entry of GetLeaderboard's response.
type LeaderboardRow struct {
	AgentType     domain.AgentType
	Level         int
	XP            float64
	LearningScore float64
	PassRate      float64
}

// GetLeaderboard ranks every agent, ordered by level desc then xp desc.
func (f *Facade) GetLeaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	all, err := f.store.ListAgentMetrics(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]LeaderboardRow, 0, len(all))
	for _, m := range all {
		rows = append(rows, LeaderboardRow{
			AgentType:     m.AgentType,
			Level:         m.Level,
			XP:            m.XP,
			LearningScore: m.LearningScore,
			PassRate:      m.PassRate(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Level != rows[j].Level {
			return rows[i].Level > rows[j].Level
		}
		return rows[i].XP > rows[j].XP
	})
	return rows, nil
}

// GetTokenStatus reports budget health for both providers via TokenGovernor.Status.
func (f *Facade) GetTokenStatus(ctx context.Context) ([]governor.ProviderStatus, error) {
	return f.governor.Status(ctx)
}

// GetRecentTests returns an agent's recent test history, capped at 50 entries (the same cap
// TestHistory itself enforces).
func (f *Facade) GetRecentTests(ctx context.Context, agentType domain.AgentType, limit int) ([]domain.TestHistoryEntry, error) {
	if limit <= 0 || limit > domain.TestHistoryCap {
		limit = domain.TestHistoryCap
	}
	metrics, err := f.store.GetAgentMetrics(ctx, agentType)
	if err != nil {
		if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	history := metrics.TestHistory
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// TriggerNow forwards the same-named admin command to the scheduler.
func (f *Facade) TriggerNow(ctx context.Context, agentType domain.AgentType) (time.Time, error) {
	if !agentType.Valid() {
		return time.Time{}, svcerrors.NotFound("agent", string(agentType))
	}
	return f.scheduler.TriggerNow(ctx, agentType)
}

// ResetAgentMetrics is the admin-only command that archives and zeroes an agent's metrics.
func (f *Facade) ResetAgentMetrics(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, error) {
	if !agentType.Valid() {
		return domain.AgentMetrics{}, svcerrors.NotFound("agent", string(agentType))
	}
	return f.store.ResetAgentMetrics(ctx, agentType)
}

// ResetTokenUsage is the admin-only command that zeroes a token window, defaulting
// to the current month when granularity is unspecified.
func (f *Facade) ResetTokenUsage(ctx context.Context, granularity domain.WindowGranularity) error {
	if granularity == "" {
		granularity = domain.WindowMonth
	}
	return f.store.ResetTokenUsage(ctx, granularity, time.Now().UTC())
}
