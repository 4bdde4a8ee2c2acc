// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the forge
// pipeline.
//
// # Description
//
// Metrics cover both generation phases, the code-phase queue, conversation
// compaction, the deployment retry loop and rate limiting. They are
// exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *Metrics so collaborators can be
// built without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian"

const forgeSubsystem = "forge"

// Phase labels a generation phase.
type Phase string

const (
	PhasePlan Phase = "plan"
	PhaseCode Phase = "code"
)

// Outcome labels where a phase's content came from.
type Outcome string

const (
	// OutcomeModel means the first reply was usable.
	OutcomeModel Outcome = "model"

	// OutcomeRetry means the stricter retry was usable.
	OutcomeRetry Outcome = "retry"

	// OutcomeFallback means the deterministic fallback was used.
	OutcomeFallback Outcome = "fallback"

	// OutcomeError means the phase failed before committing.
	OutcomeError Outcome = "error"
)

// Metrics holds the forge Prometheus collectors.
//
// # Fields
//
//   - GenerationsTotal: Phases by outcome.
//   - PhaseDurationSeconds: Wall time of each phase.
//   - QueueDepth: Code-phase tasks waiting.
//   - QueueRejectedTotal: Submissions refused by reason (full, closed).
//   - CompactionsTotal: Compaction runs by status.
//   - DeploymentsTotal: Finished deployment runs by final state.
//   - DeployAttempts: Attempts used per run.
//   - FixesTotal: Fixer suggestions by source.
//   - RateLimitedTotal: Requests refused by the per-user limiter.
type Metrics struct {
	GenerationsTotal     *prometheus.CounterVec
	PhaseDurationSeconds *prometheus.HistogramVec
	QueueDepth           prometheus.Gauge
	QueueRejectedTotal   *prometheus.CounterVec
	CompactionsTotal     *prometheus.CounterVec
	DeploymentsTotal     *prometheus.CounterVec
	DeployAttempts       prometheus.Histogram
	FixesTotal           *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Tests pass prometheus.NewRegistry()
//     so instances never collide.
//
// # Limitations
//
//   - Panics if the same registry is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GenerationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "generations_total",
				Help:      "Generation phases by phase and content outcome",
			},
			[]string{"phase", "outcome"},
		),

		PhaseDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Generation phase duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"phase"},
		),

		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "code_queue_depth",
				Help:      "Code-phase tasks waiting for a worker",
			},
		),

		QueueRejectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "code_queue_rejected_total",
				Help:      "Code-phase submissions refused by reason",
			},
			[]string{"reason"},
		),

		CompactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "compactions_total",
				Help:      "Conversation compaction runs by status",
			},
			[]string{"status"},
		),

		DeploymentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "deployments_total",
				Help:      "Deployment runs by final project status",
			},
			[]string{"state"},
		),

		DeployAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "deploy_attempts",
				Help:      "Hosting attempts used per deployment run",
				Buckets:   []float64{1, 2, 3},
			},
		),

		FixesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "fixes_total",
				Help:      "Fixer suggestions by source",
			},
			[]string{"source"},
		),

		RateLimitedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests refused by the per-user rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordGeneration records one finished phase.
func (m *Metrics) RecordGeneration(phase Phase, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(string(phase), string(outcome)).Inc()
	m.PhaseDurationSeconds.WithLabelValues(string(phase)).Observe(seconds)
}

// QueueChanged sets the queue depth gauge.
func (m *Metrics) QueueChanged(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueRejected counts a refused submission.
func (m *Metrics) RecordQueueRejected(reason string) {
	if m == nil {
		return
	}
	m.QueueRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordCompaction counts a compaction run. status is one of
// "compacted", "skipped" or "error".
func (m *Metrics) RecordCompaction(status string) {
	if m == nil {
		return
	}
	m.CompactionsTotal.WithLabelValues(status).Inc()
}

// RecordDeployment records a finished deployment run.
func (m *Metrics) RecordDeployment(state string, attempts int) {
	if m == nil {
		return
	}
	m.DeploymentsTotal.WithLabelValues(state).Inc()
	m.DeployAttempts.Observe(float64(attempts))
}

// RecordFix counts a fixer suggestion. source is "model" or "heuristic".
func (m *Metrics) RecordFix(source string) {
	if m == nil {
		return
	}
	m.FixesTotal.WithLabelValues(source).Inc()
}

// RecordRateLimited counts a refused request.
func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(endpoint).Inc()
}
