// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes Prometheus instrumentation for the query pipeline.
// See docs/ARCHITECTURE.md § Observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCalls counts tool invocations by tool name and terminal status.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "research_assistant",
		Name:      "tool_calls_total",
		Help:      "Tool invocations against the data service by terminal status.",
	}, []string{"tool", "status"})

	// ConnectAttempts counts data-service connection attempts, including
	// reconnects after degraded states.
	ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "research_assistant",
		Name:      "connect_attempts_total",
		Help:      "Subprocess connection attempts to the data service.",
	})

	// DegradedResponses counts answers produced with partial data or the
	// templated fallback.
	DegradedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "research_assistant",
		Name:      "degraded_responses_total",
		Help:      "Responses served in degraded mode.",
	})

	// QueryDuration observes end-to-end pipeline latency per query.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "research_assistant",
		Name:      "query_duration_seconds",
		Help:      "End-to-end query processing latency.",
		Buckets:   prometheus.DefBuckets,
	})
)
