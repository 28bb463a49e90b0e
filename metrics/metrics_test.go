package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunsTotal.WithLabelValues("apply", "success").Inc()
	m.ObserveCache(false)
	m.ObserveCache(true)
	m.ObserveCache(true)
	m.ArtifactsTotal.WithLabelValues("written").Add(3)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("apply", "success")); got != 1 {
		t.Errorf("runs_total = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")); got != 2 {
		t.Errorf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")); got != 1 {
		t.Errorf("cache misses = %v", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCache(true)
}
