// Package app is the composition root. Application wires MetricsStore,
// TokenGovernor, LLMBroker, CustodyEngine, AgentScheduler, ExternalFacade,
// and the telemetry server together and manages their combined lifecycle,
// delegated to internal/lifecycle.Manager.
package app

import (
	"context"
	"fmt"

	"github.com/r3e-network/agentcustody/internal/broker"
	"github.com/r3e-network/agentcustody/internal/config"
	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
	"github.com/r3e-network/agentcustody/internal/facade"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/lifecycle"
	"github.com/r3e-network/agentcustody/internal/scheduler"
	"github.com/r3e-network/agentcustody/internal/store"
	"github.com/r3e-network/agentcustody/internal/store/memory"
	"github.com/r3e-network/agentcustody/internal/store/postgres"
	"github.com/r3e-network/agentcustody/internal/telemetry"
	"github.com/r3e-network/agentcustody/pkg/logger"
)

// Application ties the six core components together.
type Application struct {
	manager *lifecycle.Manager
	log     *logger.Logger

	Store     store.Store
	Governor  *governor.Governor
	Broker    *broker.Broker
	Custody   *custody.Engine
	Scheduler *scheduler.Scheduler
	Facade    *facade.Facade

	closeStore func() error
}

// New builds a fully-wired Application from cfg. A nil/empty
// cfg.DatabaseURL selects the in-memory store (development/testing
// default); otherwise Postgres is opened and migrated.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("agentcustody")
	}

	var (
		st         store.Store
		closeStore func() error
	)
	if cfg.DatabaseURL == "" {
		st = memory.New()
		closeStore = func() error { return nil }
	} else {
		pg, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := postgres.Migrate(context.Background(), pg.BaseStore); err != nil {
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		st = pg
		closeStore = func() error { return pg.DB().Close() }
	}

	governorCfg := governor.DefaultConfig()
	governorCfg.MonthlyLimitPrimary = cfg.MonthlyLimitPrimary
	governorCfg.MonthlyLimitSecondary = cfg.MonthlyLimitSecondary
	gov := governor.New(st, governorCfg, log)

	providers := map[domain.Provider]broker.Provider{}
	if cfg.PrimaryProviderURL != "" {
		providers[domain.ProviderPrimary] = broker.NewHTTPProvider(domain.ProviderPrimary, cfg.PrimaryProviderURL, cfg.PrimaryProviderKey)
	} else {
		providers[domain.ProviderPrimary] = broker.StaticProvider{ProviderName: domain.ProviderPrimary, Response: "(static provider: no PRIMARY_PROVIDER_URL configured)"}
	}
	if cfg.SecondaryProviderURL != "" {
		providers[domain.ProviderSecondary] = broker.NewHTTPProvider(domain.ProviderSecondary, cfg.SecondaryProviderURL, cfg.SecondaryProviderKey)
	} else {
		providers[domain.ProviderSecondary] = broker.StaticProvider{ProviderName: domain.ProviderSecondary, Response: "(static provider: no SECONDARY_PROVIDER_URL configured)"}
	}
	br := broker.New(gov, providers)

	engine := custody.New(st, br, nil)

	agentConfigs, err := scheduler.LoadAgentConfigs(cfg.SchedulerConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load scheduler config: %w", err)
	}

	runner := scheduler.DefaultLearningRunner{Broker: br}
	sched := scheduler.New(st, engine, runner, log, agentConfigs, cfg.MaxConcurrentAgents)

	manager := lifecycle.NewManager()
	if err := manager.Register(sched); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled {
		telemetrySrv := telemetry.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), log)
		if err := manager.Register(telemetrySrv); err != nil {
			return nil, err
		}
	}

	fac := facade.New(st, gov, engine, sched, manager)

	return &Application{
		manager:    manager,
		log:        log,
		Store:      st,
		Governor:   gov,
		Broker:     br,
		Custody:    engine,
		Scheduler:  sched,
		Facade:     fac,
		closeStore: closeStore,
	}, nil
}

// Start begins every registered lifecycle service (AgentScheduler, and the
// telemetry server when enabled).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every registered service, then releases the store connection.
func (a *Application) Stop(ctx context.Context) error {
	stopErr := a.manager.Stop(ctx)
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("close store: %w", err)
		}
	}
	return stopErr
}
