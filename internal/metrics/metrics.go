package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "booksage"

// Outcome labels for oracle calls.
const (
	OutcomeOK        = "ok"
	OutcomeCacheHit  = "cache_hit"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

var (
	// oracleCalls counts oracle calls by task, provider and outcome.
	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Total oracle calls by task, provider and outcome",
	}, []string{"task", "provider", "outcome"})

	oracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "call_seconds",
		Help:      "Oracle call latency in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"task"})

	// reasoningDepth records the depth at which each session finished.
	reasoningDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reasoning",
		Name:      "depth",
		Help:      "Depth reached by finished reasoning sessions",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	reasoningChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reasoning",
		Name:      "chunks_total",
		Help:      "Total chunks sent to evidence extraction",
	})
)

// ObserveOracleCall records one oracle call attempt.
func ObserveOracleCall(task, provider, outcome string, d time.Duration) {
	oracleCalls.WithLabelValues(task, provider, outcome).Inc()
	if outcome == OutcomeOK {
		oracleLatency.WithLabelValues(task).Observe(d.Seconds())
	}
}

// ObserveSessionDepth records the final depth of a session.
func ObserveSessionDepth(depth int) {
	reasoningDepth.Observe(float64(depth))
}

// AddChunks counts chunks queued for evidence extraction.
func AddChunks(n int) {
	if n > 0 {
		reasoningChunks.Add(float64(n))
	}
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpLatency.WithLabelValues(route).Observe(d.Seconds())
}
