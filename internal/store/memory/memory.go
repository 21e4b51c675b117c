// Package memory is an in-memory Store implementation, safe for concurrent
// use, intended for tests and for operators who have not configured a
// DATABASE_URL. Per-agent and per-provider critical sections give each key
// its own lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/store"
)

type agentRow struct {
	mu      sync.Mutex
	metrics domain.AgentMetrics
	seen    bool
	// seenTestIDs backs RecordTestResult idempotency.
	seenTestIDs map[string]struct{}
}

type providerLedger struct {
	mu      sync.Mutex
	windows map[string]*domain.TokenLedger // key: granularity|windowStart.Unix()
	archive []domain.TokenLedgerArchiveEntry
}

// Store is the in-memory MetricsStore.
type Store struct {
	rowsMu sync.Mutex
	rows   map[domain.AgentType]*agentRow

	ledgersMu sync.Mutex
	ledgers   map[domain.Provider]*providerLedger

	archiveMu sync.Mutex
	archive   []domain.MetricsArchiveEntry
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		rows:    make(map[domain.AgentType]*agentRow),
		ledgers: make(map[domain.Provider]*providerLedger),
	}
}

func (s *Store) rowFor(agentType domain.AgentType) *agentRow {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	r, ok := s.rows[agentType]
	if !ok {
		r = &agentRow{
			metrics:     domain.DefaultAgentMetrics(agentType),
			seenTestIDs: make(map[string]struct{}),
		}
		s.rows[agentType] = r
	}
	return r
}

func (s *Store) ledgerFor(provider domain.Provider) *providerLedger {
	s.ledgersMu.Lock()
	defer s.ledgersMu.Unlock()
	l, ok := s.ledgers[provider]
	if !ok {
		l = &providerLedger{windows: make(map[string]*domain.TokenLedger)}
		s.ledgers[provider] = l
	}
	return l
}

// TokenArchive returns provider's archived ledger rows in append order.
// Tests use this to check ArchiveAndRollMonth/ResetTokenUsage wrote back
// exactly the pre-archive snapshot.
func (s *Store) TokenArchive(provider domain.Provider) []domain.TokenLedgerArchiveEntry {
	l := s.ledgerFor(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TokenLedgerArchiveEntry, len(l.archive))
	copy(out, l.archive)
	return out
}

// Seed overwrites an agent's row wholesale, marking it as seen. Tests use
// this to set up a precondition (a streak, a difficulty, an XP total) that
// would otherwise take many real RecordTestResult calls to reach.
func (s *Store) Seed(agentType domain.AgentType, m domain.AgentMetrics) {
	r := s.rowFor(agentType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = true
	r.metrics = m.Clone()
}

// GetAgentMetrics implements store.Store.
func (s *Store) GetAgentMetrics(_ context.Context, agentType domain.AgentType) (domain.AgentMetrics, error) {
	r := s.rowFor(agentType)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen {
		return domain.AgentMetrics{}, svcerrors.NotFound("agent_metrics", string(agentType))
	}
	return r.metrics.Clone(), nil
}

// UpsertAgentMetrics implements store.Store.
func (s *Store) UpsertAgentMetrics(_ context.Context, agentType domain.AgentType, patch store.Patch) (domain.AgentMetrics, error) {
	r := s.rowFor(agentType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = true

	m := r.metrics
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	if patch.LearningScoreDelta != nil {
		m.LearningScore += *patch.LearningScoreDelta
		if m.LearningScore < 0 {
			m.LearningScore = 0
		}
	}
	if patch.IncrementLearningCycles {
		m.TotalLearningCycles++
	}
	if patch.LastStartedAt != nil {
		t := *patch.LastStartedAt
		m.LastStartedAt = &t
	}
	if patch.LastFinishedAt != nil {
		t := *patch.LastFinishedAt
		m.LastFinishedAt = &t
	}
	if patch.LastCompletedNonce != nil {
		m.LastCompletedNonce = *patch.LastCompletedNonce
	}
	if patch.Prestige != nil {
		if *patch.Prestige < m.Prestige {
			return domain.AgentMetrics{}, svcerrors.InvariantViolation("prestige must not decrease outside of reset")
		}
		m.Prestige = *patch.Prestige
	}

	if violation := domain.CheckInvariants(m); violation != "" {
		return domain.AgentMetrics{}, svcerrors.InvariantViolation(violation)
	}

	r.metrics = m
	return m.Clone(), nil
}

// RecordTestResult implements store.Store.
func (s *Store) RecordTestResult(_ context.Context, agentType domain.AgentType, result domain.TestResult) (domain.AgentMetrics, error) {
	r := s.rowFor(agentType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = true

	if _, dup := r.seenTestIDs[result.TestID]; dup {
		return r.metrics.Clone(), nil
	}

	m := r.metrics
	m.TotalTestsGiven++
	if result.Passed {
		m.TotalTestsPassed++
		m.ConsecutiveSuccesses++
		m.ConsecutiveFailures = 0
	} else {
		m.TotalTestsFailed++
		m.ConsecutiveFailures++
		m.ConsecutiveSuccesses = 0
	}
	m.XP += result.XPAwarded
	m.Level = domain.LevelForXP(m.XP)
	m.CurrentDifficulty = domain.NextDifficulty(result.Difficulty, result.Passed, m.ConsecutiveSuccesses, m.ConsecutiveFailures)
	completedAt := result.CompletedAt
	m.LastTestAt = &completedAt
	m.TestHistory = domain.AppendTestHistory(m.TestHistory, result.ToHistoryEntry())

	if violation := domain.CheckInvariants(m); violation != "" {
		return domain.AgentMetrics{}, svcerrors.InvariantViolation(violation)
	}

	r.metrics = m
	r.seenTestIDs[result.TestID] = struct{}{}
	return m.Clone(), nil
}

// ListAgentMetrics implements store.Store.
func (s *Store) ListAgentMetrics(ctx context.Context) ([]domain.AgentMetrics, error) {
	out := make([]domain.AgentMetrics, 0, len(domain.AllAgentTypes()))
	for _, at := range domain.AllAgentTypes() {
		m, err := s.GetAgentMetrics(ctx, at)
		if err != nil {
			if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
				out = append(out, domain.DefaultAgentMetrics(at))
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ResetAgentMetrics implements store.Store.
func (s *Store) ResetAgentMetrics(_ context.Context, agentType domain.AgentType) (domain.AgentMetrics, error) {
	r := s.rowFor(agentType)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen {
		s.archiveMu.Lock()
		s.archive = append(s.archive, domain.MetricsArchiveEntry{
			AgentType:  agentType,
			ArchivedAt: time.Now().UTC(),
			Snapshot:   r.metrics.Clone(),
		})
		s.archiveMu.Unlock()
	}

	r.metrics = domain.DefaultAgentMetrics(agentType)
	r.seen = true
	r.seenTestIDs = make(map[string]struct{})
	return r.metrics.Clone(), nil
}

func windowKey(granularity domain.WindowGranularity, windowStart time.Time) string {
	return string(granularity) + "|" + windowStart.UTC().Format(time.RFC3339)
}

// ReadTokenWindow implements store.Store.
func (s *Store) ReadTokenWindow(_ context.Context, provider domain.Provider, granularity domain.WindowGranularity, instant time.Time) (domain.TokenLedger, error) {
	l := s.ledgerFor(provider)
	windowStart := domain.TruncateToWindow(instant, granularity)
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[windowKey(granularity, windowStart)]
	if !ok {
		return domain.TokenLedger{Provider: provider, Granularity: granularity, WindowStart: windowStart}, nil
	}
	return w.Clone(), nil
}

// AddTokenUsage implements store.Store. It increments the hour, day, and
// month windows containing instant simultaneously, guarded by
// a single per-provider lock so the three-window update is atomic from a
// reader's perspective.
func (s *Store) AddTokenUsage(_ context.Context, provider domain.Provider, instant time.Time, tokensIn, tokensOut int64, success bool, requestID string) error {
	l := s.ledgerFor(provider)
	l.mu.Lock()
	defer l.mu.Unlock()

	granularities := []domain.WindowGranularity{domain.WindowHour, domain.WindowDay, domain.WindowMonth}

	// Idempotency: if the hour window (the finest granularity, hence the one
	// most likely to have rolled since a duplicate request) already recorded
	// this request_id, every window did too — skip all side effects.
	hourStart := domain.TruncateToWindow(instant, domain.WindowHour)
	if w, ok := l.windows[windowKey(domain.WindowHour, hourStart)]; ok {
		if _, dup := w.SeenRequestIDs[requestID]; dup {
			return nil
		}
	}

	total := tokensIn + tokensOut
	if !success {
		total = tokensIn // tokens_out=0 on failure, input still consumed conservatively
	}

	for _, g := range granularities {
		windowStart := domain.TruncateToWindow(instant, g)
		key := windowKey(g, windowStart)
		w, ok := l.windows[key]
		if !ok {
			w = &domain.TokenLedger{
				Provider:       provider,
				Granularity:    g,
				WindowStart:    windowStart,
				SeenRequestIDs: make(map[string]struct{}),
			}
			l.windows[key] = w
		}
		w.TokensUsed += total
		w.RequestCount++
		if requestID != "" {
			w.SeenRequestIDs[requestID] = struct{}{}
		}
	}
	return nil
}

// ArchiveAndRollMonth implements store.Store.
func (s *Store) ArchiveAndRollMonth(_ context.Context, month time.Time) error {
	monthStart := domain.TruncateToWindow(month, domain.WindowMonth)
	s.ledgersMu.Lock()
	providers := make([]domain.Provider, 0, len(s.ledgers))
	for p := range s.ledgers {
		providers = append(providers, p)
	}
	s.ledgersMu.Unlock()
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	for _, p := range providers {
		l := s.ledgerFor(p)
		l.mu.Lock()
		key := windowKey(domain.WindowMonth, monthStart)
		w, ok := l.windows[key]
		if ok {
			alreadyArchived := false
			for _, a := range l.archive {
				if a.Snapshot.WindowStart.Equal(monthStart) {
					alreadyArchived = true
					break
				}
			}
			if !alreadyArchived {
				l.archive = append(l.archive, domain.TokenLedgerArchiveEntry{
					ArchivedAt: time.Now().UTC(),
					Snapshot:   w.Clone(),
				})
			}
			delete(l.windows, key)
		}
		l.mu.Unlock()
	}
	return nil
}

// ResetTokenUsage implements store.Store.
func (s *Store) ResetTokenUsage(_ context.Context, granularity domain.WindowGranularity, instant time.Time) error {
	windowStart := domain.TruncateToWindow(instant, granularity)
	s.ledgersMu.Lock()
	providers := make([]domain.Provider, 0, len(s.ledgers))
	for p := range s.ledgers {
		providers = append(providers, p)
	}
	s.ledgersMu.Unlock()

	for _, p := range providers {
		l := s.ledgerFor(p)
		l.mu.Lock()
		key := windowKey(granularity, windowStart)
		if w, ok := l.windows[key]; ok {
			l.archive = append(l.archive, domain.TokenLedgerArchiveEntry{
				ArchivedAt: time.Now().UTC(),
				Snapshot:   w.Clone(),
			})
			delete(l.windows, key)
		}
		l.mu.Unlock()
	}
	return nil
}
