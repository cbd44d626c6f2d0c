// Package metrics is the gateway's counters/gauges/histograms sink, keyed
// by provider and error kind. The promauto CounterVec/HistogramVec/
// GaugeVec pattern backs the Prometheus registry and the JSON snapshot
// endpoint, while the OTel tracer in tracing.go backs per-request spans.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Sink is the gateway's metrics registry.
type Sink struct {
	logger *zap.Logger

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec

	circuitOpensTotal          *prometheus.CounterVec
	circuitAdminTransitions    *prometheus.CounterVec
	healCommitTotal            *prometheus.CounterVec
	healRollbackTotal          *prometheus.CounterVec
	healCycleTotal             *prometheus.CounterVec
	fallbackTotal              *prometheus.CounterVec
	routerExhaustedTotal       *prometheus.CounterVec
	adapterErrorTotal          *prometheus.CounterVec
}

// New creates a Sink, registering every collector under namespace (e.g.
// "scri_gateway").
func New(namespace string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{logger: logger}

	s.requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total chat/embed requests by provider, model, and outcome.",
	}, []string{"provider", "model", "status"})

	s.requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Request duration in seconds by provider.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	s.tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_total",
		Help:      "Tokens consumed by provider and kind (input/output).",
	}, []string{"provider", "kind"})

	s.circuitOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_opens_total",
		Help:      "Natural closed->open circuit transitions by provider.",
	}, []string{"provider"})

	s.circuitAdminTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_admin_transitions_total",
		Help:      "Administrative circuit transitions (force_open/force_close/reset) by provider.",
	}, []string{"provider", "to"})

	s.healCommitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heal_commit_total",
		Help:      "Adapter reload commits by provider.",
	}, []string{"provider"})

	s.healRollbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heal_rollback_total",
		Help:      "Adapter reload rollbacks by provider.",
	}, []string{"provider"})

	s.healCycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heal_cycle_total",
		Help:      "Completed heal cycles by provider and outcome (committed/pending/rollback/noise/cancelled/error).",
	}, []string{"provider", "outcome"})

	s.fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_total",
		Help:      "Requests that succeeded via a non-primary candidate, by logical model.",
	}, []string{"model"})

	s.routerExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_exhausted_total",
		Help:      "Requests where every candidate failed, by logical model.",
	}, []string{"model"})

	s.adapterErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adapter_error_total",
		Help:      "Adapter errors by provider and classified kind.",
	}, []string{"provider", "kind"})

	return s
}

// RecordRequest records one completed request's outcome and duration.
func (s *Sink) RecordRequest(provider, model, status string, durationSeconds float64) {
	s.requestsTotal.WithLabelValues(provider, model, status).Inc()
	s.requestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordTokens records token usage for a request.
func (s *Sink) RecordTokens(provider string, input, output int) {
	if input > 0 {
		s.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		s.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}

// RecordCircuitOpen records a natural circuit-open transition.
func (s *Sink) RecordCircuitOpen(provider string) {
	s.circuitOpensTotal.WithLabelValues(provider).Inc()
}

// RecordCircuitAdminTransition records an administrative transition.
func (s *Sink) RecordCircuitAdminTransition(provider, to string) {
	s.circuitAdminTransitions.WithLabelValues(provider, to).Inc()
}

// RecordHealCommit records a successful reload commit.
func (s *Sink) RecordHealCommit(provider string) { s.healCommitTotal.WithLabelValues(provider).Inc() }

// RecordHealRollback records a reload rollback.
func (s *Sink) RecordHealRollback(provider string) {
	s.healRollbackTotal.WithLabelValues(provider).Inc()
}

// RecordHealCycle records a heal cycle's terminal outcome.
func (s *Sink) RecordHealCycle(provider, outcome string) {
	s.healCycleTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFallback records a request that succeeded via a non-primary
// candidate.
func (s *Sink) RecordFallback(model string) { s.fallbackTotal.WithLabelValues(model).Inc() }

// RecordRouterExhausted records an all_providers_failed outcome.
func (s *Sink) RecordRouterExhausted(model string) {
	s.routerExhaustedTotal.WithLabelValues(model).Inc()
}

// RecordAdapterError records a classified adapter error.
func (s *Sink) RecordAdapterError(provider, kind string) {
	s.adapterErrorTotal.WithLabelValues(provider, kind).Inc()
}
