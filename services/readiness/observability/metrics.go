// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the model readiness engine.
//
// # Description
//
// Metrics cover artifact installs (attempts by outcome and failure code,
// bytes transferred, duration) and the lifecycle state machine (transitions
// and the current state). They are exposed by the serve command on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics so callers can run without
// instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "modelkeeper"
	installerSubsystem = "installer"
	lifecycleSubsystem = "lifecycle"
)

// Metrics holds every Prometheus collector used by the engine.
type Metrics struct {
	// InstallsTotal counts install attempts.
	// Labels: artifact, outcome (success, failure), code (failure code or "")
	InstallsTotal *prometheus.CounterVec

	// BytesDownloadedTotal counts body bytes written to partial files.
	// Labels: artifact
	BytesDownloadedTotal *prometheus.CounterVec

	// ResumesTotal counts resume decisions.
	// Labels: artifact, result (resumed, restarted)
	ResumesTotal *prometheus.CounterVec

	// InstallDurationSeconds measures one install attempt end to end.
	// Labels: artifact, outcome
	InstallDurationSeconds *prometheus.HistogramVec

	// TransitionsTotal counts published lifecycle snapshots by state.
	// Labels: state
	TransitionsTotal *prometheus.CounterVec

	// State is 1 for the current lifecycle state and 0 for every other.
	// Labels: state
	State *prometheus.GaugeVec

	// CheckDurationSeconds measures a full readiness check.
	CheckDurationSeconds prometheus.Histogram
}

// NewMetrics creates and registers all collectors on reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InstallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: installerSubsystem,
				Name:      "installs_total",
				Help:      "Artifact install attempts by outcome and failure code",
			},
			[]string{"artifact", "outcome", "code"},
		),
		BytesDownloadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: installerSubsystem,
				Name:      "bytes_downloaded_total",
				Help:      "Bytes written to partial files",
			},
			[]string{"artifact"},
		),
		ResumesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: installerSubsystem,
				Name:      "resumes_total",
				Help:      "Ranged download attempts by result",
			},
			[]string{"artifact", "result"},
		),
		InstallDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: installerSubsystem,
				Name:      "install_duration_seconds",
				Help:      "Duration of one install attempt in seconds",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"artifact", "outcome"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "transitions_total",
				Help:      "Published lifecycle snapshots by state",
			},
			[]string{"state"},
		),
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "state",
				Help:      "1 for the current lifecycle state",
			},
			[]string{"state"},
		),
		CheckDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "check_duration_seconds",
				Help:      "Duration of a readiness check in seconds",
				Buckets:   []float64{0.01, 0.1, 1, 10, 60, 600, 3600},
			},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordInstall records one finished install attempt. code is empty on success.
func (m *Metrics) RecordInstall(artifact, code string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != "" {
		outcome = "failure"
	}
	m.InstallsTotal.WithLabelValues(artifact, outcome, code).Inc()
	m.InstallDurationSeconds.WithLabelValues(artifact, outcome).Observe(d.Seconds())
}

// AddBytes adds n downloaded bytes for artifact.
func (m *Metrics) AddBytes(artifact string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesDownloadedTotal.WithLabelValues(artifact).Add(float64(n))
}

// RecordResume records whether a ranged request resumed or restarted.
func (m *Metrics) RecordResume(artifact string, restarted bool) {
	if m == nil {
		return
	}
	result := "resumed"
	if restarted {
		result = "restarted"
	}
	m.ResumesTotal.WithLabelValues(artifact, result).Inc()
}

// RecordTransition counts a published snapshot and flips the state gauge.
// states is the full state list so that stale states are reset to 0.
func (m *Metrics) RecordTransition(state string, states []string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(state).Inc()
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// ObserveCheck records the duration of a readiness check.
func (m *Metrics) ObserveCheck(d time.Duration) {
	if m == nil {
		return
	}
	m.CheckDurationSeconds.Observe(d.Seconds())
}
