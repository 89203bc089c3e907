// Package observability collects metrics and alert signals for the
// authentication gateway.
package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics tracks authentication outcomes on a private registry.
type AuthMetrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	stale    prometheus.Counter
}

var (
	authMetricsOnce sync.Once
	authRegistry    *AuthMetrics
)

// Auth returns the process-wide authentication metrics registry.
func Auth() *AuthMetrics {
	authMetricsOnce.Do(func() {
		registry := prometheus.NewRegistry()
		outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ntbl",
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Authentication decisions segmented by outcome.",
		}, []string{"outcome"})
		stale := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntbl",
			Subsystem: "auth",
			Name:      "stale_timestamps_total",
			Help:      "Requests refused for a timestamp outside the freshness window.",
		})
		registry.MustRegister(outcomes, stale)
		authRegistry = &AuthMetrics{registry: registry, outcomes: outcomes, stale: stale}
	})
	return authRegistry
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *AuthMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordOutcome counts one authentication decision.
func (m *AuthMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordStale counts one stale-timestamp refusal.
func (m *AuthMetrics) RecordStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// StaleAlertSink reports stale-timestamp events at elevated severity and
// feeds the stale counter. It satisfies the gate's alerting collaborator.
type StaleAlertSink struct {
	logger  *slog.Logger
	metrics *AuthMetrics
}

// NewStaleAlertSink builds the sink; a nil logger falls back to the default.
func NewStaleAlertSink(logger *slog.Logger, metrics *AuthMetrics) *StaleAlertSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleAlertSink{logger: logger, metrics: metrics}
}

// StaleTimestamp emits the structured diagnostic event for one stale request.
func (s *StaleAlertSink) StaleTimestamp(ctx context.Context, userRef string, serverTimeMs, clientTimeMs int64) {
	s.metrics.RecordStale()
	s.logger.ErrorContext(ctx, "stale timestamp alert",
		"ref", userRef,
		"server_ms", serverTimeMs,
		"client_ms", clientTimeMs,
		"skew_ms", serverTimeMs-clientTimeMs,
	)
}
