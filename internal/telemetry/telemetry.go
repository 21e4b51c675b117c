// Package telemetry exposes the ambient operational surface this system
// carries even with no agent-facing API: a Prometheus registry and a bare
// net/http mux serving /metrics and /healthz. It defines counters and
// histograms for learning cycles, custody tests, broker calls and budget
// denials; no component in this repository calls the Record* helpers, so
// those series stay at zero.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/agentcustody/pkg/logger"
)

// Registry holds every collector this process registers.
var Registry = prometheus.NewRegistry()

var (
	learningCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcustody",
			Subsystem: "scheduler",
			Name:      "learning_cycles_total",
			Help:      "Total learning cycle attempts per agent and outcome.",
		},
		[]string{"agent_type", "outcome"},
	)

	custodyTests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcustody",
			Subsystem: "custody",
			Name:      "tests_total",
			Help:      "Total custody tests administered per agent and outcome.",
		},
		[]string{"agent_type", "outcome"},
	)

	custodyTestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcustody",
			Subsystem: "custody",
			Name:      "test_duration_seconds",
			Help:      "Duration of custody test administration.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"agent_type"},
	)

	brokerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcustody",
			Subsystem: "broker",
			Name:      "calls_total",
			Help:      "Total LLMBroker completion calls per provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	brokerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcustody",
			Subsystem: "broker",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLMBroker completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)

	budgetDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcustody",
			Subsystem: "governor",
			Name:      "budget_denials_total",
			Help:      "Total TokenGovernor Admit denials per provider and reason.",
		},
		[]string{"provider", "reason"},
	)
)

func init() {
	Registry.MustRegister(
		learningCycles,
		custodyTests,
		custodyTestDuration,
		brokerCalls,
		brokerCallDuration,
		budgetDenials,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// RecordLearningCycle records one scheduler learning-cycle attempt.
func RecordLearningCycle(agentType string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failed"
	}
	learningCycles.WithLabelValues(agentType, outcome).Inc()
}

// RecordCustodyTest records one custody test administration.
func RecordCustodyTest(agentType string, passed bool, duration time.Duration) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	custodyTests.WithLabelValues(agentType, outcome).Inc()
	custodyTestDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

// RecordBrokerCall records one LLMBroker completion call.
func RecordBrokerCall(provider string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	brokerCalls.WithLabelValues(provider, outcome).Inc()
	brokerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordBudgetDenial records one TokenGovernor Admit denial.
func RecordBudgetDenial(provider, reason string) {
	budgetDenials.WithLabelValues(provider, reason).Inc()
}

// Server serves /metrics and /healthz on a dedicated mux — ops surface
// only, no agent-facing API.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds a Server bound to addr.
func NewServer(addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("telemetry")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}, log: log}
}

// Name implements lifecycle.Service.
func (s *Server) Name() string { return "telemetry" }

// Start implements lifecycle.Service, serving until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("telemetry server stopped unexpectedly")
		}
	}()
	return nil
}

// Stop implements lifecycle.Service.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
