package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	// registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/resilience"
	"github.com/r3e-network/agentcustody/internal/store"
)

// Store is the PostgreSQL-backed MetricsStore.
type Store struct {
	*BaseStore
	retry resilience.RetryConfig
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and returns a ready-to-migrate Store. Callers should
// invoke Migrate once before serving traffic.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{BaseStore: NewBaseStore(db), retry: resilience.DefaultRetryConfig()}, nil
}

// withRetry wraps a single store operation with the 100ms/400ms/1.6s backoff
// from resilience.DefaultRetryConfig. Only connection-level failures are
// retried; a business-rule error (invariant violation, not-found, ...)
// already carries a ServiceError identity and is returned immediately.
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	err := resilience.Retry(ctx, s.retry, func() error {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if se := svcerrors.As(lastErr); se != nil {
			return nil // classified business error: stop retrying, surface below
		}
		return lastErr
	})
	if se := svcerrors.As(lastErr); se != nil {
		return se
	}
	if err != nil {
		return svcerrors.StoreUnavailable(err)
	}
	return nil
}

func scanJSON(dest any, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// GetAgentMetrics implements store.Store.
func (s *Store) GetAgentMetrics(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, error) {
	var m domain.AgentMetrics
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var raw []byte
		row := s.queryRow(ctx, `SELECT metrics FROM agent_metrics WHERE agent_type = $1`, string(agentType))
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return svcerrors.NotFound("agent_metrics", string(agentType))
			}
			return err
		}
		return scanJSON(&m, raw)
	})
	return m, err
}

func (s *Store) upsertRow(ctx context.Context, agentType domain.AgentType, m domain.AgentMetrics, seenTestIDs map[string]struct{}) error {
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(seenTestIDs))
	for id := range seenTestIDs {
		ids = append(ids, id)
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO agent_metrics (agent_type, metrics, seen_test_ids, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (agent_type) DO UPDATE
		SET metrics = EXCLUDED.metrics, seen_test_ids = EXCLUDED.seen_test_ids, updated_at = now()
	`, string(agentType), metricsJSON, idsJSON)
	return err
}

func (s *Store) loadRow(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, map[string]struct{}, bool, error) {
	var metricsRaw, idsRaw []byte
	row := s.queryRow(ctx, `SELECT metrics, seen_test_ids FROM agent_metrics WHERE agent_type = $1 FOR UPDATE`, string(agentType))
	if err := row.Scan(&metricsRaw, &idsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultAgentMetrics(agentType), make(map[string]struct{}), false, nil
		}
		return domain.AgentMetrics{}, nil, false, err
	}
	var m domain.AgentMetrics
	if err := scanJSON(&m, metricsRaw); err != nil {
		return domain.AgentMetrics{}, nil, false, err
	}
	var idList []string
	if err := scanJSON(&idList, idsRaw); err != nil {
		return domain.AgentMetrics{}, nil, false, err
	}
	ids := make(map[string]struct{}, len(idList))
	for _, id := range idList {
		ids[id] = struct{}{}
	}
	return m, ids, true, nil
}

// UpsertAgentMetrics implements store.Store.
func (s *Store) UpsertAgentMetrics(ctx context.Context, agentType domain.AgentType, patch store.Patch) (domain.AgentMetrics, error) {
	var out domain.AgentMetrics
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			m, ids, _, err := s.loadRow(ctx, agentType)
			if err != nil {
				return err
			}

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
					return svcerrors.InvariantViolation("prestige must not decrease outside of reset")
				}
				m.Prestige = *patch.Prestige
			}

			if violation := domain.CheckInvariants(m); violation != "" {
				return svcerrors.InvariantViolation(violation)
			}

			if err := s.upsertRow(ctx, agentType, m, ids); err != nil {
				return err
			}
			out = m.Clone()
			return nil
		})
	})
	return out, err
}

// RecordTestResult implements store.Store.
func (s *Store) RecordTestResult(ctx context.Context, agentType domain.AgentType, result domain.TestResult) (domain.AgentMetrics, error) {
	var out domain.AgentMetrics
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			m, ids, _, err := s.loadRow(ctx, agentType)
			if err != nil {
				return err
			}

			if _, dup := ids[result.TestID]; dup {
				out = m.Clone()
				return nil
			}

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
				return svcerrors.InvariantViolation(violation)
			}

			ids[result.TestID] = struct{}{}
			if err := s.upsertRow(ctx, agentType, m, ids); err != nil {
				return err
			}
			out = m.Clone()
			return nil
		})
	})
	return out, err
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
func (s *Store) ResetAgentMetrics(ctx context.Context, agentType domain.AgentType) (domain.AgentMetrics, error) {
	var out domain.AgentMetrics
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			m, _, existed, err := s.loadRow(ctx, agentType)
			if err != nil {
				return err
			}
			if existed {
				snap, err := json.Marshal(m)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, `
					INSERT INTO metrics_archive (agent_type, archived_at, snapshot)
					VALUES ($1, now(), $2)
				`, string(agentType), snap); err != nil {
					return err
				}
			}
			fresh := domain.DefaultAgentMetrics(agentType)
			if err := s.upsertRow(ctx, agentType, fresh, make(map[string]struct{})); err != nil {
				return err
			}
			out = fresh.Clone()
			return nil
		})
	})
	return out, err
}

func windowKey(granularity domain.WindowGranularity, windowStart time.Time) (string, time.Time) {
	return string(granularity), windowStart.UTC()
}

// ReadTokenWindow implements store.Store.
func (s *Store) ReadTokenWindow(ctx context.Context, provider domain.Provider, granularity domain.WindowGranularity, instant time.Time) (domain.TokenLedger, error) {
	windowStart := domain.TruncateToWindow(instant, granularity)
	out := domain.TokenLedger{Provider: provider, Granularity: granularity, WindowStart: windowStart}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.queryRow(ctx, `
			SELECT tokens_used, request_count FROM token_ledger
			WHERE provider = $1 AND granularity = $2 AND window_start = $3
		`, string(provider), string(granularity), windowStart)
		var used, count int64
		if err := row.Scan(&used, &count); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		out.TokensUsed = used
		out.RequestCount = count
		return nil
	})
	return out, err
}

// AddTokenUsage implements store.Store. Each of the three windows containing
// instant is updated in one transaction; idempotency is checked against the
// hour window, mirroring internal/store/memory's approach.
func (s *Store) AddTokenUsage(ctx context.Context, provider domain.Provider, instant time.Time, tokensIn, tokensOut int64, success bool, requestID string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			hourStart := domain.TruncateToWindow(instant, domain.WindowHour)
			var idsRaw []byte
			row := s.queryRow(ctx, `
				SELECT seen_request_ids FROM token_ledger
				WHERE provider = $1 AND granularity = $2 AND window_start = $3
				FOR UPDATE
			`, string(provider), string(domain.WindowHour), hourStart)
			var hourIDs []string
			if err := row.Scan(&idsRaw); err == nil {
				if err := scanJSON(&hourIDs, idsRaw); err != nil {
					return err
				}
				for _, id := range hourIDs {
					if id == requestID {
						return nil // duplicate request_id: already applied to every window
					}
				}
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			total := tokensIn + tokensOut
			if !success {
				total = tokensIn
			}

			for _, g := range []domain.WindowGranularity{domain.WindowHour, domain.WindowDay, domain.WindowMonth} {
				granularity, windowStart := windowKey(g, domain.TruncateToWindow(instant, g))
				var existingIDs []string
				row := s.queryRow(ctx, `
					SELECT seen_request_ids FROM token_ledger
					WHERE provider = $1 AND granularity = $2 AND window_start = $3
					FOR UPDATE
				`, string(provider), granularity, windowStart)
				var raw []byte
				if err := row.Scan(&raw); err == nil {
					if err := scanJSON(&existingIDs, raw); err != nil {
						return err
					}
				} else if !errors.Is(err, sql.ErrNoRows) {
					return err
				}
				if requestID != "" {
					existingIDs = append(existingIDs, requestID)
				}
				idsJSON, err := json.Marshal(existingIDs)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, `
					INSERT INTO token_ledger (provider, granularity, window_start, tokens_used, request_count, seen_request_ids)
					VALUES ($1, $2, $3, $4, 1, $5)
					ON CONFLICT (provider, granularity, window_start) DO UPDATE
					SET tokens_used = token_ledger.tokens_used + EXCLUDED.tokens_used,
						request_count = token_ledger.request_count + 1,
						seen_request_ids = EXCLUDED.seen_request_ids
				`, string(provider), granularity, windowStart, total, idsJSON); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ArchiveAndRollMonth implements store.Store.
func (s *Store) ArchiveAndRollMonth(ctx context.Context, month time.Time) error {
	monthStart := domain.TruncateToWindow(month, domain.WindowMonth)
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			rows, err := s.query(ctx, `
				SELECT provider, tokens_used, request_count FROM token_ledger
				WHERE granularity = $1 AND window_start = $2
			`, string(domain.WindowMonth), monthStart)
			if err != nil {
				return err
			}
			defer rows.Close()

			type row struct {
				provider string
				used     int64
				count    int64
			}
			var found []row
			for rows.Next() {
				var r row
				if err := rows.Scan(&r.provider, &r.used, &r.count); err != nil {
					return err
				}
				found = append(found, r)
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for _, r := range found {
				var already int
				if err := s.queryRow(ctx, `
					SELECT COUNT(*) FROM token_ledger_archive
					WHERE (snapshot->>'WindowStart') = $1 AND (snapshot->>'Provider') = $2
				`, monthStart.Format(time.RFC3339), r.provider).Scan(&already); err != nil {
					return err
				}
				if already > 0 {
					continue
				}
				snapshot := domain.TokenLedger{
					Provider:     domain.Provider(r.provider),
					Granularity:  domain.WindowMonth,
					WindowStart:  monthStart,
					TokensUsed:   r.used,
					RequestCount: r.count,
				}
				snap, err := json.Marshal(snapshot)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, `
					INSERT INTO token_ledger_archive (archived_at, snapshot) VALUES (now(), $1)
				`, snap); err != nil {
					return err
				}
			}

			_, err = s.exec(ctx, `DELETE FROM token_ledger WHERE granularity = $1 AND window_start = $2`, string(domain.WindowMonth), monthStart)
			return err
		})
	})
}

// ResetTokenUsage implements store.Store.
func (s *Store) ResetTokenUsage(ctx context.Context, granularity domain.WindowGranularity, instant time.Time) error {
	windowStart := domain.TruncateToWindow(instant, granularity)
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			rows, err := s.query(ctx, `
				SELECT provider, tokens_used, request_count FROM token_ledger
				WHERE granularity = $1 AND window_start = $2
			`, string(granularity), windowStart)
			if err != nil {
				return err
			}
			type row struct {
				provider string
				used     int64
				count    int64
			}
			var found []row
			for rows.Next() {
				var r row
				if err := rows.Scan(&r.provider, &r.used, &r.count); err != nil {
					rows.Close()
					return err
				}
				found = append(found, r)
			}
			rows.Close()

			for _, r := range found {
				snapshot := domain.TokenLedger{
					Provider:     domain.Provider(r.provider),
					Granularity:  granularity,
					WindowStart:  windowStart,
					TokensUsed:   r.used,
					RequestCount: r.count,
				}
				snap, err := json.Marshal(snapshot)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, `
					INSERT INTO token_ledger_archive (archived_at, snapshot) VALUES (now(), $1)
				`, snap); err != nil {
					return err
				}
			}

			_, err = s.exec(ctx, `DELETE FROM token_ledger WHERE granularity = $1 AND window_start = $2`, string(granularity), windowStart)
			return err
		})
	})
}
