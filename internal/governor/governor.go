// Package governor implements TokenGovernor: the process-wide
// admission controller that enforces per-request/hour/day/month token caps
// shared across all agents, with primary→secondary fallback and
// warning/critical/emergency alerting, backed by internal/store.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/pkg/logger"
	"github.com/r3e-network/agentcustody/internal/store"
)

// AlertLevel mirrors the four-stage budget health a provider can be in.
type AlertLevel string

const (
	AlertActive   AlertLevel = "active"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

// DenyReason is the sealed set of admission refusal reasons.
type DenyReason string

const (
	ReasonNone                 DenyReason = ""
	ReasonRequestTooLarge      DenyReason = "request_too_large"
	ReasonHourlyExhausted      DenyReason = "hourly_exhausted"
	ReasonDailyExhausted       DenyReason = "daily_exhausted"
	ReasonMonthlyExhausted     DenyReason = "monthly_exhausted"
	ReasonBothProvidersExhausted DenyReason = "both_providers_exhausted"
	ReasonEmergencyShutdown    DenyReason = "emergency_shutdown"
)

// Config is fixed at boot, overridable via environment.
type Config struct {
	MonthlyLimitPrimary   int64
	MonthlyLimitSecondary int64
	PerRequestLimit       int64
	WarningThreshold      float64
	CriticalThreshold     float64
	EmergencyThreshold    float64
	FallbackThreshold     float64
}

// DefaultConfig returns the canonical limits (the 70%-of-200,000 = 140,000
// variant; see DESIGN.md Ambiguous Source Behavior #2).
func DefaultConfig() Config {
	return Config{
		MonthlyLimitPrimary:   140_000,
		MonthlyLimitSecondary: 140_000,
		PerRequestLimit:       1_000,
		WarningThreshold:      0.80,
		CriticalThreshold:     0.95,
		EmergencyThreshold:    0.98,
		FallbackThreshold:     0.95,
	}
}

func (c Config) monthlyLimit(p domain.Provider) int64 {
	if p == domain.ProviderSecondary {
		return c.MonthlyLimitSecondary
	}
	return c.MonthlyLimitPrimary
}

func (c Config) dailyLimit(p domain.Provider) int64  { return c.monthlyLimit(p) / 30 }
func (c Config) hourlyLimit(p domain.Provider) int64 { return c.dailyLimit(p) / 24 }

// WindowSnapshot reports the hour/day/month usage observed for a provider at
// decision time.
type WindowSnapshot struct {
	Provider    domain.Provider
	HourUsed    int64
	DayUsed     int64
	MonthUsed   int64
	HourLimit   int64
	DayLimit    int64
	MonthLimit  int64
}

// AdmitDecision is a sum type: an exception-for-control-flow is replaced by
// an explicit result callers cannot forget to branch on.
type AdmitDecision struct {
	Allow    bool
	Provider domain.Provider
	Reason   DenyReason
	Snapshot WindowSnapshot
}

// Governor is the TokenGovernor (C2).
type Governor struct {
	store store.Store
	cfg   Config
	log   *logger.Logger

	// mu guards alerts and pending, both mutated by concurrent Admit/Record
	// callers.
	mu      sync.Mutex
	alerts  map[domain.Provider]AlertLevel
	pending map[domain.Provider]int64
}

// New constructs a Governor backed by st.
func New(st store.Store, cfg Config, log *logger.Logger) *Governor {
	return &Governor{
		store: st,
		cfg:   cfg,
		log:   log,
		alerts: map[domain.Provider]AlertLevel{
			domain.ProviderPrimary:   AlertActive,
			domain.ProviderSecondary: AlertActive,
		},
		pending: make(map[domain.Provider]int64),
	}
}

func (g *Governor) pendingFor(provider domain.Provider) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[provider]
}

// release returns a reservation once the matching usage has been recorded
// (or the call that held it has failed and won't retry).
func (g *Governor) release(provider domain.Provider, tokens int64) {
	g.mu.Lock()
	if g.pending[provider] < tokens {
		g.pending[provider] = 0
	} else {
		g.pending[provider] -= tokens
	}
	g.mu.Unlock()
}

func (g *Governor) snapshot(ctx context.Context, provider domain.Provider, now time.Time) (WindowSnapshot, error) {
	hour, err := g.store.ReadTokenWindow(ctx, provider, domain.WindowHour, now)
	if err != nil {
		return WindowSnapshot{}, err
	}
	day, err := g.store.ReadTokenWindow(ctx, provider, domain.WindowDay, now)
	if err != nil {
		return WindowSnapshot{}, err
	}
	month, err := g.store.ReadTokenWindow(ctx, provider, domain.WindowMonth, now)
	if err != nil {
		return WindowSnapshot{}, err
	}
	return WindowSnapshot{
		Provider:   provider,
		HourUsed:   hour.TokensUsed,
		DayUsed:    day.TokensUsed,
		MonthUsed:  month.TokensUsed,
		HourLimit:  g.cfg.hourlyLimit(provider),
		DayLimit:   g.cfg.dailyLimit(provider),
		MonthLimit: g.cfg.monthlyLimit(provider),
	}, nil
}

// withReserved folds provider's in-flight reservation into a raw store
// snapshot so a reader sees committed-plus-promised usage.
func (g *Governor) withReserved(provider domain.Provider, snap WindowSnapshot) WindowSnapshot {
	reserved := g.pendingFor(provider)
	snap.HourUsed += reserved
	snap.DayUsed += reserved
	snap.MonthUsed += reserved
	return snap
}

// tryReserve re-checks fits against the freshest reservation state and, if
// it still fits, reserves estimatedTokens — both under a single lock, so
// two goroutines racing past an identical raw store snapshot cannot both
// believe the same headroom is theirs to spend.
func (g *Governor) tryReserve(provider domain.Provider, rawSnap WindowSnapshot, estimatedTokens int64) (WindowSnapshot, bool, DenyReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	reserved := g.pending[provider]
	adjusted := rawSnap
	adjusted.HourUsed += reserved
	adjusted.DayUsed += reserved
	adjusted.MonthUsed += reserved
	ok, reason := fits(adjusted, estimatedTokens)
	if ok {
		g.pending[provider] += estimatedTokens
	}
	return adjusted, ok, reason
}

// fits reports whether adding estimatedTokens keeps every window within cap,
// and the most binding reason if not (monthly > daily > hourly).
func fits(snap WindowSnapshot, estimatedTokens int64) (bool, DenyReason) {
	if snap.MonthUsed+estimatedTokens > snap.MonthLimit {
		return false, ReasonMonthlyExhausted
	}
	if snap.DayUsed+estimatedTokens > snap.DayLimit {
		return false, ReasonDailyExhausted
	}
	if snap.HourUsed+estimatedTokens > snap.HourLimit {
		return false, ReasonHourlyExhausted
	}
	return true, ReasonNone
}

func usageRatio(snap WindowSnapshot) float64 {
	if snap.MonthLimit == 0 {
		return 1
	}
	return float64(snap.MonthUsed) / float64(snap.MonthLimit)
}

// Admit runs the admission algorithm: bound the request size, snapshot
// both providers, update alert levels, check for a global emergency, prefer
// the caller's provider unless it is near its monthly cap, fall back to the
// other provider if the preferred one doesn't fit, and otherwise deny with
// the most binding reason.
func (g *Governor) Admit(ctx context.Context, agentType domain.AgentType, estimatedTokens int64, preferred domain.Provider) (AdmitDecision, error) {
	now := time.Now().UTC()

	// Step 1.
	if estimatedTokens > g.cfg.PerRequestLimit {
		snap, err := g.snapshot(ctx, preferred, now)
		if err != nil {
			return AdmitDecision{}, err
		}
		return AdmitDecision{Allow: false, Reason: ReasonRequestTooLarge, Snapshot: snap}, nil
	}

	// Step 4: fallback preference when primary is near its monthly cap.
	primaryRaw, err := g.snapshot(ctx, domain.ProviderPrimary, now)
	if err != nil {
		return AdmitDecision{}, err
	}
	secondaryRaw, err := g.snapshot(ctx, domain.ProviderSecondary, now)
	if err != nil {
		return AdmitDecision{}, err
	}
	primarySnap := g.withReserved(domain.ProviderPrimary, primaryRaw)
	secondarySnap := g.withReserved(domain.ProviderSecondary, secondaryRaw)
	g.updateAlertLevel(domain.ProviderPrimary, usageRatio(primarySnap))
	g.updateAlertLevel(domain.ProviderSecondary, usageRatio(secondarySnap))

	// Step 7: global emergency shutdown overrides everything.
	if g.alertLevel(domain.ProviderPrimary) == AlertEmergency && g.alertLevel(domain.ProviderSecondary) == AlertEmergency {
		return AdmitDecision{Allow: false, Reason: ReasonEmergencyShutdown, Snapshot: primarySnap}, nil
	}

	effectivePreferred := preferred
	if effectivePreferred == domain.ProviderPrimary && usageRatio(primarySnap) >= g.cfg.FallbackThreshold {
		effectivePreferred = domain.ProviderSecondary
	}

	// Steps 2-3: does the preferred provider fit? tryReserve re-checks
	// against the freshest reservation state and commits atomically, so a
	// concurrent Admit racing in between can't also claim the same headroom.
	preferredRaw := primaryRaw
	if effectivePreferred == domain.ProviderSecondary {
		preferredRaw = secondaryRaw
	}
	if adjusted, ok, _ := g.tryReserve(effectivePreferred, preferredRaw, estimatedTokens); ok {
		return AdmitDecision{Allow: true, Provider: effectivePreferred, Snapshot: adjusted}, nil
	}

	// Step 5: the other provider may still fit.
	other := domain.ProviderSecondary
	otherRaw := secondaryRaw
	if effectivePreferred == domain.ProviderSecondary {
		other = domain.ProviderPrimary
		otherRaw = primaryRaw
	}
	if adjusted, ok, _ := g.tryReserve(other, otherRaw, estimatedTokens); ok {
		return AdmitDecision{Allow: true, Provider: other, Snapshot: adjusted}, nil
	}

	// Step 6: neither fits — report the most binding reason across both.
	preferredAdjusted := g.withReserved(effectivePreferred, preferredRaw)
	otherAdjusted := g.withReserved(other, otherRaw)
	_, preferredReason := fits(preferredAdjusted, estimatedTokens)
	_, otherReason := fits(otherAdjusted, estimatedTokens)
	reason := mostBinding(preferredReason, otherReason)
	if reason == ReasonNone {
		reason = ReasonBothProvidersExhausted
	}
	return AdmitDecision{Allow: false, Reason: reason, Snapshot: preferredAdjusted}, nil
}

func mostBinding(a, b DenyReason) DenyReason {
	rank := map[DenyReason]int{ReasonMonthlyExhausted: 3, ReasonDailyExhausted: 2, ReasonHourlyExhausted: 1}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

func (g *Governor) alertLevel(provider domain.Provider) AlertLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alerts[provider]
}

// updateAlertLevel transitions the alert level and emits an observability
// event on first crossing; it re-arms on
// dropping below a threshold.
func (g *Governor) updateAlertLevel(provider domain.Provider, ratio float64) {
	var next AlertLevel
	switch {
	case ratio >= g.cfg.EmergencyThreshold:
		next = AlertEmergency
	case ratio >= g.cfg.CriticalThreshold:
		next = AlertCritical
	case ratio >= g.cfg.WarningThreshold:
		next = AlertWarning
	default:
		next = AlertActive
	}
	g.mu.Lock()
	prev := g.alerts[provider]
	changed := prev != next
	if changed {
		g.alerts[provider] = next
	}
	g.mu.Unlock()
	if changed {
		if g.log != nil {
			g.log.WithFields(map[string]interface{}{
				"provider":   string(provider),
				"prev_level": string(prev),
				"next_level": string(next),
				"usage_ratio": ratio,
			}).Warn("token budget alert level changed")
		}
	}
}

// Record commits actual usage to the ledger. Errors
// from the store surface unchanged; callers MUST NOT retry the external
// call on CONFLICT.
func (g *Governor) Record(ctx context.Context, agentType domain.AgentType, provider domain.Provider, tokensIn, tokensOut int64, success bool, requestID string) error {
	if !agentType.Valid() {
		return svcerrors.InvariantViolation("unknown agent_type")
	}
	defer g.release(provider, tokensIn+tokensOut)
	return g.store.AddTokenUsage(ctx, provider, time.Now().UTC(), tokensIn, tokensOut, success, requestID)
}

// ProviderStatus is one row of Status()'s per-provider report.
type ProviderStatus struct {
	Provider     domain.Provider
	UsedPercent  float64
	Remaining    int64
	AlertLevel   AlertLevel
}

// Status implements TokenGovernor.Status.
func (g *Governor) Status(ctx context.Context) ([]ProviderStatus, error) {
	now := time.Now().UTC()
	out := make([]ProviderStatus, 0, 2)
	for _, p := range []domain.Provider{domain.ProviderPrimary, domain.ProviderSecondary} {
		raw, err := g.snapshot(ctx, p, now)
		if err != nil {
			return nil, err
		}
		snap := g.withReserved(p, raw)
		ratio := usageRatio(snap)
		g.updateAlertLevel(p, ratio)
		out = append(out, ProviderStatus{
			Provider:    p,
			UsedPercent: ratio * 100,
			Remaining:   snap.MonthLimit - snap.MonthUsed,
			AlertLevel:  g.alertLevel(p),
		})
	}
	return out, nil
}
