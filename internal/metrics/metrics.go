/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the orchestration engine.
//
// Metric naming follows Prometheus conventions:
//   - swarm1_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is this process's metrics registry. Unlike the teacher, there is
// no controller-runtime manager to register against, so Swarm1 keeps its
// own registry and exposes it via Handler.
var Registry = prometheus.NewRegistry()

var (
	// NodeRunsTotal counts graph node executions by node kind and terminal status.
	NodeRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_node_runs_total",
			Help: "Total number of graph node runs by node kind and status.",
		},
		[]string{"kind", "status"},
	)

	// NodeDurationSeconds is a histogram of node execution duration.
	NodeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm1_node_duration_seconds",
			Help:    "Duration of graph node executions in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"kind"},
	)

	// JobAttemptsTotal counts job queue attempts by terminal status.
	JobAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_job_attempts_total",
			Help: "Total job queue attempts by status.",
		},
		[]string{"status"},
	)

	// JobRetriesTotal counts job retry scheduling events.
	JobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_job_retries_total",
			Help: "Total number of job retries scheduled.",
		},
		[]string{"job"},
	)

	// RouterDecisionsTotal counts capability router decisions by outcome.
	RouterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_router_decisions_total",
			Help: "Total capability router decisions by outcome (allow/deny reason).",
		},
		[]string{"capability", "outcome"},
	)

	// CvfFailuresTotal counts evidence-gate failures by domain.
	CvfFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_cvf_failures_total",
			Help: "Total CVF validation failures by domain.",
		},
		[]string{"domain"},
	)

	// SpendUSDTotal tracks cumulative tool spend by tenant.
	SpendUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm1_spend_usd_total",
			Help: "Total USD spend recorded by tenant.",
		},
		[]string{"tenant"},
	)

	// ActiveRuns is the number of currently executing graph runs.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm1_active_runs",
			Help: "Number of graph runs currently executing.",
		},
	)

	// QueueDepth is the current number of queued (not yet running) jobs.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm1_queue_depth",
			Help: "Number of jobs currently queued.",
		},
	)
)

func init() {
	Registry.MustRegister(
		NodeRunsTotal,
		NodeDurationSeconds,
		JobAttemptsTotal,
		JobRetriesTotal,
		RouterDecisionsTotal,
		CvfFailuresTotal,
		SpendUSDTotal,
		ActiveRuns,
		QueueDepth,
	)
}

// Handler returns the HTTP handler serving this registry's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordNodeComplete records metrics for a completed graph node run.
func RecordNodeComplete(kind, status string, duration time.Duration) {
	NodeRunsTotal.WithLabelValues(kind, status).Inc()
	NodeDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordJobAttempt records a single job queue attempt outcome.
func RecordJobAttempt(status string) {
	JobAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordJobRetry records a single job retry scheduling event.
func RecordJobRetry(job string) {
	JobRetriesTotal.WithLabelValues(job).Inc()
}

// RecordRouterDecision records a single capability router decision.
func RecordRouterDecision(capability, outcome string) {
	RouterDecisionsTotal.WithLabelValues(capability, outcome).Inc()
}

// RecordCvfFailure records a single evidence-gate validator failure.
func RecordCvfFailure(domain string) {
	CvfFailuresTotal.WithLabelValues(domain).Inc()
}

// RecordSpend records tool spend attributed to a tenant.
func RecordSpend(tenant string, usd float64) {
	SpendUSDTotal.WithLabelValues(tenant).Add(usd)
}
