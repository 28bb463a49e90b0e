// Package metrics exposes Prometheus instrumentation for the
// generation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	CacheRequests  *prometheus.CounterVec
	ArtifactsTotal *prometheus.CounterVec
	GuardFailures  *prometheus.CounterVec
}

// New registers the pipeline collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgen",
			Name:      "runs_total",
			Help:      "Generation runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semgen",
			Name:      "stage_duration_seconds",
			Help:      "Elapsed time per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgen",
			Name:      "query_cache_requests_total",
			Help:      "Query cache lookups by result.",
		}, []string{"result"}),
		ArtifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgen",
			Name:      "artifacts_total",
			Help:      "Artifacts by final status.",
		}, []string{"status"}),
		GuardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgen",
			Name:      "guard_failures_total",
			Help:      "Guard failures by guard name.",
		}, []string{"guard"}),
	}

	reg.MustRegister(m.RunsTotal, m.StageDuration, m.CacheRequests, m.ArtifactsTotal, m.GuardFailures)
	return m
}

// ObserveCache records one cache lookup outcome.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheRequests.WithLabelValues("hit").Inc()
	} else {
		m.CacheRequests.WithLabelValues("miss").Inc()
	}
}
