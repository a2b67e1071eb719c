package lexguard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricSignInSuccess)
	m.ObserveAuthorize(time.Millisecond)

	if m.Value(MetricSignInSuccess) != 0 || m.LatencyEnabled() {
		t.Fatal("disabled metrics recorded something")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || snap.Latency != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricAccessAllowed)
	m.Add(MetricAccessAllowed, 4)
	m.ObserveAuthorize(time.Millisecond)
	if m.Value(MetricAccessAllowed) != 0 || m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics should be inert")
	}
	if snap := m.Snapshot(); snap.Counters == nil || snap.Latency != nil {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricAccessForbidden)
	m.Add(MetricAccessForbidden, 2)
	m.Inc(metricIDCount)

	if got := m.Value(MetricAccessForbidden); got != 3 {
		t.Fatalf("forbidden = %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != int(metricIDCount) {
		t.Fatalf("snapshot has %d counters", len(snap.Counters))
	}
	if snap.Latency != nil {
		t.Fatal("latency present without EnableLatencyHistograms")
	}
}

func TestMetricsConcurrentIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 16, 5000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Go(func() {
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricRateLimitAllowed)
			}
		})
	}
	wg.Wait()

	if got := m.Value(MetricRateLimitAllowed); got != workers*perWorker {
		t.Fatalf("allowed = %d", got)
	}
}

func TestAuthorizeLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	// One observation per bucket; bounds are inclusive.
	observations := []time.Duration{
		500 * time.Microsecond,
		2 * time.Millisecond,
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		700 * time.Millisecond,
	}
	var total time.Duration
	for _, d := range observations {
		m.ObserveAuthorize(d)
		total += d
	}
	m.ObserveAuthorize(-time.Second)

	l := m.Snapshot().Latency
	if l == nil {
		t.Fatal("latency snapshot missing")
	}
	if len(l.Bounds) != 7 || len(l.Buckets) != 8 {
		t.Fatalf("bounds %d buckets %d", len(l.Bounds), len(l.Buckets))
	}
	if l.Buckets[0] != 2 {
		t.Fatalf("first bucket = %d, want 2 with the clamped negative", l.Buckets[0])
	}
	for i, n := range l.Buckets[1:] {
		if n != 1 {
			t.Fatalf("bucket %d = %d", i+1, n)
		}
	}
	if l.Count != 9 || l.Sum != total {
		t.Fatalf("count %d sum %v, want 9 and %v", l.Count, l.Sum, total)
	}

	l.Bounds[0] = time.Hour
	if LatencyBounds()[0] != time.Millisecond {
		t.Fatal("snapshot bounds alias the package table")
	}
}
