// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Answering Pipeline
// =============================================================================

var (
	// requestsTotal counts completed requests by terminal outcome.
	// Labels: outcome (accepted, exhausted, rejected, error, incomplete)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secureqa",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Total answered requests by terminal outcome",
	}, []string{"outcome"})

	// faithfulnessScore tracks the distribution of composite faithfulness
	// scores of returned answers.
	faithfulnessScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "secureqa",
		Subsystem: "pipeline",
		Name:      "faithfulness_score",
		Help:      "Distribution of composite faithfulness scores",
		Buckets:   []float64{0.0, 0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
	})

	// activeRequests gauges requests currently inside the pipeline.
	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureqa",
		Subsystem: "pipeline",
		Name:      "active_requests",
		Help:      "Requests currently being processed",
	})

	// stageDuration measures per-stage latency.
	// Labels: stage (sanitize, guard, retrieve, filter, generate, score)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "secureqa",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"stage"})

	// retriesTotal counts generation retries across all requests.
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secureqa",
		Subsystem: "pipeline",
		Name:      "retries_total",
		Help:      "Total generation retries triggered by failed faithfulness checks",
	})

	// securityBlocks counts injection-guard rejections by rule.
	// Labels: rule_id
	securityBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secureqa",
		Subsystem: "security",
		Name:      "blocks_total",
		Help:      "Total requests blocked by the injection guard, by matched rule",
	}, []string{"rule_id"})
)

// RecordRequest records a terminal outcome.
func RecordRequest(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordFaithfulness records the composite score of a returned answer.
func RecordFaithfulness(score float64) {
	faithfulnessScore.Observe(score)
}

// RequestStarted and RequestFinished bracket the active-request gauge.
func RequestStarted()  { activeRequests.Inc() }
func RequestFinished() { activeRequests.Dec() }

// ObserveStage records a stage duration.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRetry counts one generation retry.
func RecordRetry() {
	retriesTotal.Inc()
}

// RecordSecurityBlock counts a guard rejection attributed to ruleID.
func RecordSecurityBlock(ruleID string) {
	securityBlocks.WithLabelValues(ruleID).Inc()
}
