// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query
// orchestration engine.
//
// # Description
//
// Metrics are package-level promauto collectors registered on the default
// registry and exposed through /metrics. Components record through the
// RecordXxx helpers rather than touching collectors directly, which keeps
// label values consistent.
//
// # Thread Safety
//
// All helpers are safe for concurrent use.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian_query"

var (
	// workflowDuration measures end-to-end request time.
	// Labels: approach (sql_only, crew_only, both, none), stage (final, error)
	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "workflow",
		Name:      "duration_seconds",
		Help:      "End-to-end query orchestration latency",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"approach", "stage"})

	// workflowTransitions counts state machine transitions.
	// Labels: to (target stage)
	workflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Workflow state transitions by target stage",
	}, []string{"to"})

	// pathOutcomes counts terminal path results.
	// Labels: path (sql, crew), status (ok, degraded, failed)
	pathOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "path",
		Name:      "results_total",
		Help:      "Analysis path results by status",
	}, []string{"path", "status"})

	pathDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "path",
		Name:      "duration_seconds",
		Help:      "Analysis path latency",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"path"})

	pathTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "path",
		Name:      "timeouts_total",
		Help:      "Analysis paths cancelled by the per-path timeout",
	}, []string{"path"})

	// intentClassifications counts classifications.
	// Labels: analysis_type, source (llm, fallback, cache)
	intentClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "intent",
		Name:      "classifications_total",
		Help:      "Intent classifications by analysis type and source",
	}, []string{"analysis_type", "source"})

	// intentFallbacks counts fallback records.
	// Labels: reason (llm_error, parse_error)
	intentFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "intent",
		Name:      "fallback_total",
		Help:      "Intent classifications that used the fallback record",
	}, []string{"reason"})

	intentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "intent",
		Name:      "latency_seconds",
		Help:      "Intent classification latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// routingDecisions counts plans. Labels: approach, rule (1-4)
	routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Routing decisions by approach and matched rule",
	}, []string{"approach", "rule"})

	// sqlValidationFailures counts rejected queries. Labels: check
	sqlValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sql",
		Name:      "validation_failures_total",
		Help:      "Generated SQL rejected by static validation, by check",
	}, []string{"check"})

	sqlRegenerations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sql",
		Name:      "regenerations_total",
		Help:      "SQL regenerations after a validation failure",
	})

	sqlRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "sql",
		Name:      "result_rows",
		Help:      "Rows returned by executed queries",
		Buckets:   []float64{0, 1, 10, 100, 1000, 10000},
	})

	// crewStages counts stage outcomes. Labels: stage, outcome (ok, placeholder)
	crewStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "crew",
		Name:      "stages_total",
		Help:      "Crew stage outcomes",
	}, []string{"stage", "outcome"})

	synthesisConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "synthesis",
		Name:      "confidence",
		Help:      "Distribution of final answer confidence",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	synthesisConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "synthesis",
		Name:      "conflicts_total",
		Help:      "Numeric conflicts resolved in favour of the SQL path",
	})

	// promptResolutions counts prompt lookups. Labels: tier (dynamic, static, hardcoded, generic)
	promptResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "prompts",
		Name:      "resolutions_total",
		Help:      "Prompt resolutions by the tier that answered",
	}, []string{"tier"})

	// historyWrites counts history store writes.
	// Labels: kind (message, query, audit, clear), outcome (ok, error)
	historyWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "history",
		Name:      "writes_total",
		Help:      "History store writes by record kind",
	}, []string{"kind", "outcome"})

	// httpRequests counts API requests. Labels: route, code
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP API requests by route template and status code",
	}, []string{"route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP API latency by route template",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordWorkflow records a finished request.
func RecordWorkflow(approach, stage string, d time.Duration) {
	if approach == "" {
		approach = "none"
	}
	workflowDuration.WithLabelValues(approach, stage).Observe(d.Seconds())
}

// RecordTransition records a state machine transition.
func RecordTransition(to string) {
	workflowTransitions.WithLabelValues(to).Inc()
}

// RecordPathResult records a terminal path result.
func RecordPathResult(path, status string, d time.Duration) {
	pathOutcomes.WithLabelValues(path, status).Inc()
	pathDuration.WithLabelValues(path).Observe(d.Seconds())
}

// RecordPathTimeout records a path cancelled by its timeout.
func RecordPathTimeout(path string) {
	pathTimeouts.WithLabelValues(path).Inc()
}

// RecordIntent records a classification and its source.
func RecordIntent(analysisType, source string, d time.Duration) {
	intentClassifications.WithLabelValues(analysisType, source).Inc()
	if source != "cache" {
		intentLatency.Observe(d.Seconds())
	}
}

// RecordIntentFallback records a fallback intent record.
func RecordIntentFallback(reason string) {
	intentFallbacks.WithLabelValues(reason).Inc()
}

// RecordRoutingDecision records the chosen approach and matched rule.
func RecordRoutingDecision(approach, rule string) {
	routingDecisions.WithLabelValues(approach, rule).Inc()
}

// RecordSQLValidationFailure records a failed static check.
func RecordSQLValidationFailure(check string) {
	sqlValidationFailures.WithLabelValues(check).Inc()
}

// RecordSQLRegeneration records a regenerate attempt.
func RecordSQLRegeneration() {
	sqlRegenerations.Inc()
}

// RecordSQLRows records the size of an executed query result.
func RecordSQLRows(n int) {
	sqlRows.Observe(float64(n))
}

// RecordCrewStage records a stage outcome ("ok" or "placeholder").
func RecordCrewStage(stage, outcome string) {
	crewStages.WithLabelValues(stage, outcome).Inc()
}

// RecordSynthesis records the final confidence and conflict count.
func RecordSynthesis(confidence float64, conflicts int) {
	synthesisConfidence.Observe(confidence)
	synthesisConflicts.Add(float64(conflicts))
}

// RecordPromptResolution records which tier answered a prompt lookup.
func RecordPromptResolution(tier string) {
	promptResolutions.WithLabelValues(tier).Inc()
}

// RecordHistoryWrite records a history store write.
func RecordHistoryWrite(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	historyWrites.WithLabelValues(kind, outcome).Inc()
}

// RecordHTTPRequest records a served API request.
func RecordHTTPRequest(route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
