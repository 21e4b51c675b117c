// Command orchestratord is the AgentCustody process entry point: it loads
// configuration, wires the composition root, and runs until signalled —
// load config, build service, Start, wait on signal, Stop. No HTTP router
// lives here; ops surface is the bare telemetry mux started inside the
// composition root.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/r3e-network/agentcustody/internal/app"
	"github.com/r3e-network/agentcustody/internal/config"
	"github.com/r3e-network/agentcustody/pkg/logger"
)

// Exit codes.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitStoreUnreachable = 2
	exitFatalRuntime   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewDefault("orchestratord")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("load configuration")
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("validate configuration")
		return exitConfigError
	}
	log = logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("build application")
		return exitStoreUnreachable
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		return exitFatalRuntime
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := application.Stop(context.Background()); err != nil {
		log.WithError(err).Error("stop application")
		return exitFatalRuntime
	}
	return exitOK
}
