// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics of the design agent.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "designagent"

// =============================================================================
// Prometheus Metrics for the Design Pipeline
// =============================================================================

// Metrics groups every collector the service exports.
//
// # Description
//
// Collectors are registered on the registerer passed to NewMetrics so tests
// can use a private prometheus.NewRegistry. All methods are safe on a nil
// *Metrics, which records nothing.
type Metrics struct {
	// sessionsStarted counts pipelines launched by Start.
	sessionsStarted prometheus.Counter

	// sessionsFinished counts pipelines that ended.
	// Labels: status (completed, error, cancelled)
	sessionsFinished *prometheus.CounterVec

	// stageDuration measures wall time per stage.
	// Labels: stage, outcome (success, validation, external_service, timeout, cancelled)
	stageDuration *prometheus.HistogramVec

	// stageAttempts counts upstream calls made by stages.
	// Labels: stage, outcome
	stageAttempts *prometheus.CounterVec

	// itemFailures counts furniture items the shop stage could not resolve.
	itemFailures prometheus.Counter

	// activeTasks is the number of running pipeline goroutines.
	activeTasks prometheus.Gauge

	// ttlExpired counts sessions removed by the TTL sweep.
	ttlExpired prometheus.Counter

	// sessionsLive is the number of sessions held by the store.
	sessionsLive prometheus.Gauge

	// uploads counts upload requests.
	// Labels: outcome (accepted, rejected, rate_limited)
	uploads *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sessions_started_total",
			Help:      "Total design pipelines started",
		}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sessions_finished_total",
			Help:      "Total design pipelines finished by final status",
		}, []string{"status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"stage", "outcome"}),
		stageAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_attempts_total",
			Help:      "Upstream calls made by pipeline stages",
		}, []string{"stage", "outcome"}),
		itemFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "item_failures_total",
			Help:      "Furniture items the shop stage could not resolve",
		}),
		activeTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "active_tasks",
			Help:      "Pipeline tasks currently running",
		}),
		ttlExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "ttl_sessions_expired_total",
			Help:      "Sessions removed by the TTL sweep",
		}),
		sessionsLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sessions_live",
			Help:      "Sessions currently held by the session store",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "uploads_total",
			Help:      "Upload requests by outcome",
		}, []string{"outcome"}),
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// SessionStarted records a pipeline launch and bumps the active gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeTasks.Inc()
}

// SessionFinished records the end of a pipeline.
//
// Inputs:
//
//	status - "completed", "error" or "cancelled".
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(status).Inc()
	m.activeTasks.Dec()
}

// ObserveStage records one stage run.
//
// Inputs:
//
//	stage - Stage name.
//	outcome - "success" or the error kind.
//	d - Stage wall time.
//	attempts - Upstream calls made.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
	if attempts > 0 {
		m.stageAttempts.WithLabelValues(stage, outcome).Add(float64(attempts))
	}
}

// ItemFailures records n unresolved furniture items.
func (m *Metrics) ItemFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemFailures.Add(float64(n))
}

// SessionsExpired records sessions removed by the TTL sweep.
func (m *Metrics) SessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ttlExpired.Add(float64(n))
}

// SetLiveSessions sets the live session gauge.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsLive.Set(float64(n))
}

// Upload records an upload request outcome.
func (m *Metrics) Upload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}
