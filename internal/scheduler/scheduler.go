// Package scheduler implements AgentScheduler: the
// cooperative, cadence-driven per-agent run loop that couples each learning
// cycle completion with a custody test under strict single-agent-at-a-time
// semantics, running four independently-cadenced agent loops behind a
// worker-pool concurrency cap.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/lifecycle"
	"github.com/r3e-network/agentcustody/internal/store"
	"github.com/r3e-network/agentcustody/pkg/logger"
)

// LearningRunner performs one learning cycle's external work (internet
// fetchers, proposal drafting, ...); concrete fetchers are external
// collaborators injected at composition time.
type LearningRunner interface {
	RunLearningCycle(ctx context.Context, agentType domain.AgentType) error
}

// AgentConfig is one row of the per-agent schedule table.
type AgentConfig struct {
	Interval   time.Duration
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DefaultAgentConfigs returns the table's defaults.
func DefaultAgentConfigs() map[domain.AgentType]AgentConfig {
	return map[domain.AgentType]AgentConfig{
		domain.Imperium: {Interval: 2 * time.Hour, Timeout: 45 * time.Minute, Retries: 3, RetryDelay: 5 * time.Minute},
		domain.Guardian: {Interval: 3 * time.Hour, Timeout: 30 * time.Minute, Retries: 3, RetryDelay: 5 * time.Minute},
		domain.Sandbox:  {Interval: 4 * time.Hour, Timeout: 20 * time.Minute, Retries: 2, RetryDelay: 3 * time.Minute},
		domain.Conquest: {Interval: 6 * time.Hour, Timeout: 60 * time.Minute, Retries: 2, RetryDelay: 10 * time.Minute},
	}
}

const (
	// DefaultMaxConcurrentAgents bounds simultaneous learning runs.
	DefaultMaxConcurrentAgents = 2
	// DefaultCustodyDelay is the bounded delay before a custody trigger fires
	// after a learning run completes.
	DefaultCustodyDelay = 60 * time.Second
	// DefaultCooldownTimeout bounds how long an agent may remain in cooldown
	// before the scheduler forces it back to idle.
	DefaultCooldownTimeout = 15 * time.Minute
	// DefaultGracefulShutdownTimeout bounds Stop's wait for in-flight units
	// before forcing them back to idle.
	DefaultGracefulShutdownTimeout = 30 * time.Second
	// pollInterval is the scheduler's own tick resolution for due-checks;
	// cron.Schedule computes the actual per-agent cadence against it.
	pollInterval = 1 * time.Second
)

// agentState is the scheduler's in-memory lease for one agent: the single
// point of truth for "is a run in flight", checkpointed to MetricsStore on
// every transition for crash recovery.
type agentState struct {
	mu          sync.Mutex
	status      domain.AgentStatus
	retryCount  int
	schedule    cron.Schedule
	lastChecked time.Time
}

// Scheduler is AgentScheduler (C5).
type Scheduler struct {
	store    store.Store
	custody  *custody.Engine
	runner   LearningRunner
	log      *logger.Logger
	configs  map[domain.AgentType]AgentConfig

	globalSem chan struct{}
	custodySem chan struct{}

	states map[domain.AgentType]*agentState

	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	running bool

	custodyDelay     time.Duration
	cooldownTimeout  time.Duration
	shutdownTimeout  time.Duration
}

var _ lifecycle.Service = (*Scheduler)(nil)

// New constructs a Scheduler. A nil configs map uses DefaultAgentConfigs.
func New(st store.Store, engine *custody.Engine, runner LearningRunner, log *logger.Logger, configs map[domain.AgentType]AgentConfig, maxConcurrentAgents int) *Scheduler {
	if log == nil {
		log = logger.NewDefault("agent-scheduler")
	}
	if configs == nil {
		configs = DefaultAgentConfigs()
	}
	if maxConcurrentAgents <= 0 {
		maxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	states := make(map[domain.AgentType]*agentState, len(domain.AllAgentTypes()))
	for _, at := range domain.AllAgentTypes() {
		cfg := configs[at]
		states[at] = &agentState{
			status:   domain.StatusIdle,
			schedule: cron.ConstantDelaySchedule{Delay: cfg.Interval},
		}
	}
	return &Scheduler{
		store:           st,
		custody:         engine,
		runner:          runner,
		log:             log,
		configs:         configs,
		globalSem:       make(chan struct{}, maxConcurrentAgents),
		custodySem:      make(chan struct{}, 2),
		states:          states,
		custodyDelay:    DefaultCustodyDelay,
		cooldownTimeout: DefaultCooldownTimeout,
		shutdownTimeout: DefaultGracefulShutdownTimeout,
	}
}

// Name implements lifecycle.Service.
func (s *Scheduler) Name() string { return "agent-scheduler" }

// Descriptor implements lifecycle.DescriptorProvider.
func (s *Scheduler) Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{Name: s.Name(), Capabilities: []string{"schedule", "custody-trigger"}}
}

// Start begins the four per-agent poll loops and performs the
// crash-recovery sweep ("Custody trigger").
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.running = true
	s.runMu.Unlock()

	s.recoverCrashedCooldowns(runCtx)

	for _, at := range domain.AllAgentTypes() {
		agentType := at
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(runCtx, agentType)
		}()
	}

	s.log.WithField("agents", len(domain.AllAgentTypes())).Info("agent scheduler started")
	return nil
}

// Stop performs a graceful shutdown: stop admitting new runs, wait up to
// shutdownTimeout for in-flight units, then force any remainder back to
// idle.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.forceIdleAll(context.Background())
	}

	s.log.Info("agent scheduler stopped")
	return nil
}

func (s *Scheduler) forceIdleAll(ctx context.Context) {
	for _, at := range domain.AllAgentTypes() {
		st := s.states[at]
		st.mu.Lock()
		if st.status != domain.StatusIdle {
			st.status = domain.StatusIdle
			s.checkpoint(ctx, at, domain.StatusIdle)
		}
		st.mu.Unlock()
	}
}

// recoverCrashedCooldowns re-issues a custody trigger for any agent whose
// status is cooldown but whose last test is stale.
func (s *Scheduler) recoverCrashedCooldowns(ctx context.Context) {
	for _, at := range domain.AllAgentTypes() {
		metrics, err := s.store.GetAgentMetrics(ctx, at)
		if err != nil {
			continue
		}
		if metrics.Status != domain.StatusCooldown {
			continue
		}
		stale := metrics.LastTestAt == nil || time.Since(*metrics.LastTestAt) > s.cooldownTimeout
		if !stale {
			continue
		}
		agentType := at
		var nonce string
		if metrics.LastFinishedAt != nil {
			nonce = metrics.LastFinishedAt.Format(time.RFC3339Nano)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runCustody(ctx, agentType, nonce, false)
			s.transitionToIdle(ctx, agentType)
		}()
	}
}

func (s *Scheduler) loop(ctx context.Context, agentType domain.AgentType) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRun(ctx, agentType)
		}
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, agentType domain.AgentType) {
	st := s.states[agentType]
	st.mu.Lock()
	if st.status != domain.StatusIdle {
		st.mu.Unlock()
		return
	}
	metrics, err := s.store.GetAgentMetrics(ctx, agentType)
	if err != nil && !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		st.mu.Unlock()
		return
	}
	var lastFinished time.Time
	if metrics.LastFinishedAt != nil {
		lastFinished = *metrics.LastFinishedAt
	}
	due := lastFinished.IsZero() || !st.schedule.Next(lastFinished).After(time.Now())
	if !due {
		st.mu.Unlock()
		return
	}
	st.status = domain.StatusRunning
	st.mu.Unlock()

	s.checkpoint(ctx, agentType, domain.StatusRunning)

	select {
	case s.globalSem <- struct{}{}:
	case <-ctx.Done():
		s.revertToIdle(ctx, agentType)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.globalSem }()
		s.runLearningWithRetry(ctx, agentType)
	}()
}

func (s *Scheduler) revertToIdle(ctx context.Context, agentType domain.AgentType) {
	st := s.states[agentType]
	st.mu.Lock()
	st.status = domain.StatusIdle
	st.mu.Unlock()
	s.checkpoint(ctx, agentType, domain.StatusIdle)
}

// TriggerNow forces idle→due immediately (ExternalFacade command). Returns
// AlreadyRunning/NotDue as a ServiceError when the agent is not currently
// idle, so concurrent triggers yield exactly one winner.
func (s *Scheduler) TriggerNow(ctx context.Context, agentType domain.AgentType) (time.Time, error) {
	st, ok := s.states[agentType]
	if !ok {
		return time.Time{}, svcerrors.InvariantViolation("unknown agent_type")
	}
	st.mu.Lock()
	if st.status != domain.StatusIdle {
		st.mu.Unlock()
		return time.Time{}, svcerrors.AlreadyRunning(string(agentType))
	}
	st.status = domain.StatusRunning
	st.mu.Unlock()

	s.checkpoint(ctx, agentType, domain.StatusRunning)

	select {
	case s.globalSem <- struct{}{}:
	default:
		s.revertToIdle(ctx, agentType)
		return time.Time{}, svcerrors.AlreadyRunning(string(agentType))
	}

	scheduledAt := time.Now().UTC()
	s.runMu.Lock()
	runCtx := s.runCtx
	s.runMu.Unlock()
	if runCtx == nil {
		// Start has not been called (unit tests construct a Scheduler and
		// drive TriggerNow directly); fall back to the caller's context so
		// the run still has something to select on.
		runCtx = ctx
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.globalSem }()
		s.runLearningWithRetry(runCtx, agentType)
	}()
	return scheduledAt, nil
}

func (s *Scheduler) checkpoint(ctx context.Context, agentType domain.AgentType, status domain.AgentStatus) {
	st := status
	if _, err := s.store.UpsertAgentMetrics(ctx, agentType, store.Patch{Status: &st}); err != nil {
		s.log.WithError(err).WithField("agent_type", string(agentType)).Warn("checkpoint failed")
	}
}

// runLearningWithRetry executes one learning cycle under the agent's
// configured timeout, retrying on failure within the retry budget before
// transitioning to cooldown and firing the custody trigger.
func (s *Scheduler) runLearningWithRetry(ctx context.Context, agentType domain.AgentType) {
	cfg := s.configs[agentType]
	st := s.states[agentType]

	startedAt := time.Now().UTC()
	s.checkpointStart(ctx, agentType, startedAt)

	failedRun := false
retryLoop:
	for attempt := 0; ; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := s.runner.RunLearningCycle(runCtx, agentType)
		cancel()
		if err == nil {
			failedRun = false
			break
		}
		failedRun = true
		if attempt >= cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			break retryLoop
		case <-time.After(cfg.RetryDelay):
		}
	}

	finishedAt := time.Now().UTC()
	s.transitionToCooldown(ctx, agentType, finishedAt)

	st.mu.Lock()
	nonce := finishedAt.Format(time.RFC3339Nano)
	st.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.custodyDelay):
		case <-ctx.Done():
		}
		s.runCustody(ctx, agentType, nonce, failedRun)
		s.transitionToIdle(ctx, agentType)
	}()
}

func (s *Scheduler) checkpointStart(ctx context.Context, agentType domain.AgentType, startedAt time.Time) {
	started := startedAt
	if _, err := s.store.UpsertAgentMetrics(ctx, agentType, store.Patch{LastStartedAt: &started}); err != nil {
		s.log.WithError(err).Warn("checkpoint start failed")
	}
}

func (s *Scheduler) transitionToCooldown(ctx context.Context, agentType domain.AgentType, finishedAt time.Time) {
	st := s.states[agentType]
	st.mu.Lock()
	st.status = domain.StatusCooldown
	st.mu.Unlock()

	status := domain.StatusCooldown
	finished := finishedAt
	if _, err := s.store.UpsertAgentMetrics(ctx, agentType, store.Patch{
		Status:                  &status,
		LastFinishedAt:          &finished,
		IncrementLearningCycles: true,
	}); err != nil {
		s.log.WithError(err).Warn("checkpoint cooldown failed")
	}
}

func (s *Scheduler) transitionToIdle(ctx context.Context, agentType domain.AgentType) {
	s.revertToIdle(ctx, agentType)
}

// runCustody executes the dependent custody test under the custody worker
// pool, bounded to two concurrent slots.
func (s *Scheduler) runCustody(ctx context.Context, agentType domain.AgentType, nonce string, failedRun bool) {
	select {
	case s.custodySem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.custodySem }()

	custodyCtx, cancel := context.WithTimeout(ctx, s.cooldownTimeout)
	defer cancel()

	if _, err := s.custody.AdministerTest(custodyCtx, agentType, nonce, failedRun); err != nil {
		if !svcerrors.IsCode(err, svcerrors.CodeConflict) {
			s.log.WithError(err).WithField("agent_type", string(agentType)).Warn("custody test failed")
		}
	}
}

// Status reports the scheduler's in-memory view of an agent, consulted by
// ExternalFacade.GetAgentStatus.
func (s *Scheduler) Status(agentType domain.AgentType) (domain.AgentStatus, time.Time) {
	st, ok := s.states[agentType]
	if !ok {
		return domain.StatusIdle, time.Time{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.schedule.Next(time.Now())
}
