// Package metrics defines the Prometheus collectors the Executor and
// Tool Client record into. The HTTP /metrics scrape endpoint itself is
// out of scope; Metrics exists so that surface has something real to
// expose once it's built.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the orchestrator's core records into.
// Register against a dedicated *prometheus.Registry rather than the
// global default registry, so each Executor instance (and each test)
// gets its own collector set.
type Metrics struct {
	NodesDispatched  *prometheus.CounterVec
	CacheHits        prometheus.Counter
	Retries          prometheus.Counter
	ToolCallDuration *prometheus.HistogramVec
}

// New builds and registers a Metrics against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		NodesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocomet",
			Subsystem: "executor",
			Name:      "nodes_dispatched_total",
			Help:      "Total node dispatches by node kind and terminal outcome.",
		}, []string{"kind", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocomet",
			Subsystem: "executor",
			Name:      "cache_hits_total",
			Help:      "Total node dispatches short-circuited by an idempotency-key cache hit.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocomet",
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Total retried node dispatch attempts.",
		}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gocomet",
			Subsystem: "toolclient",
			Name:      "call_duration_seconds",
			Help:      "Tool Client call latency by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	reg.MustRegister(m.NodesDispatched, m.CacheHits, m.Retries, m.ToolCallDuration)
	return m
}

// Noop returns a Metrics registered against a fresh, unexposed registry —
// for callers (tests, and any Executor built without WithMetrics) that want the
// Executor's metrics hooks satisfied without wiring a real scrape
// endpoint.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
