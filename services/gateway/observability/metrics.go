// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the full invocation pipeline:
//   - Invocation counters (by overlay, phase, outcome)
//   - Invocation latency histograms
//   - Admission rejections and policy violations
//   - Current smoothed RAM stress
//
// # Integration
//
// Metrics are exposed via the gateway's /metrics endpoint. Use with
// Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "wardstone"
	gatewaySubsystem = "gateway"
)

// Outcome label values for InvocationsTotal.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeViolation = "policy_violation"
)

// Metrics holds the gateway's Prometheus metrics. Construct one per
// registry via NewMetrics; each gateway instance owns its metrics rather
// than sharing package state, so tests can run isolated gateways.
type Metrics struct {
	// InvocationsTotal counts invocation requests.
	// Labels: overlay, phase, outcome (ok, failed, rejected, policy_violation)
	InvocationsTotal *prometheus.CounterVec

	// InvokeDurationSeconds measures end-to-end invocation latency.
	// Labels: overlay, phase
	InvokeDurationSeconds *prometheus.HistogramVec

	// AdmissionRejectionsTotal counts scheduler admission rejections.
	// Labels: overlay
	AdmissionRejectionsTotal *prometheus.CounterVec

	// PolicyViolationsTotal counts phase policy denials.
	// Labels: rule
	PolicyViolationsTotal *prometheus.CounterVec

	// DegradedInvocationsTotal counts invocations that ran with
	// degradation directives applied.
	DegradedInvocationsTotal prometheus.Counter

	// RAMStress exports the monitor's current smoothed stress value.
	RAMStress prometheus.GaugeFunc
}

// NewMetrics creates and registers the gateway metrics.
//
// # Inputs
//
//   - reg: the Prometheus registerer to register against
//   - stress: sampled for the RAM stress gauge on every scrape
func NewMetrics(reg prometheus.Registerer, stress func() float64) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "invocations_total",
				Help:      "Total overlay invocation requests by overlay, phase, and outcome",
			},
			[]string{"overlay", "phase", "outcome"},
		),

		InvokeDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "invoke_duration_seconds",
				Help:      "End-to-end invocation latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
			},
			[]string{"overlay", "phase"},
		),

		AdmissionRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "admission_rejections_total",
				Help:      "Jobs refused by admission control under memory stress",
			},
			[]string{"overlay"},
		),

		PolicyViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "policy_violations_total",
				Help:      "Invocations denied by the phase policy engine, by rule",
			},
			[]string{"rule"},
		),

		DegradedInvocationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "degraded_invocations_total",
				Help:      "Invocations that ran with degradation directives applied",
			},
		),

		RAMStress: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "ram_stress",
				Help:      "Current smoothed RAM stress in [0,1]",
			},
			stress,
		),
	}
}
