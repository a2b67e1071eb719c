package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.Mutex
	counters map[lexguard.MetricID]uint64
	latency  *lexguard.LatencySnapshot
	audit    lexguard.AuditStats
}

func (f *fakeSource) MetricsSnapshot() lexguard.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := lexguard.MetricsSnapshot{Counters: make(map[lexguard.MetricID]uint64, len(f.counters)), Latency: f.latency}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	return out
}

func (f *fakeSource) AuditStats() lexguard.AuditStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audit
}

type keyedSource struct{ *fakeSource }

func (keyedSource) RateLimitTrackedKeys() (int, bool) { return 9, true }

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricNamed(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// intPoint returns the value of name's data point whose attributes include
// want (or the only point when want is empty).
func intPoint(rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) (int64, bool) {
	m, ok := metricNamed(rm, name)
	if !ok {
		return 0, false
	}
	var points []metricdata.DataPoint[int64]
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		points = data.DataPoints
	case metricdata.Gauge[int64]:
		points = data.DataPoints
	}
	set := attribute.NewSet(want...)
	for _, p := range points {
		if len(want) == 0 || p.Attributes.Equals(&set) {
			return p.Value, true
		}
	}
	return 0, false
}

func TestExporterCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("lexguard-test")

	src := &fakeSource{
		counters: map[lexguard.MetricID]uint64{lexguard.MetricAccessForbidden: 3},
		latency: &lexguard.LatencySnapshot{
			Bounds:  lexguard.LatencyBounds(),
			Buckets: []uint64{1, 1, 1, 1, 1, 1, 1, 1},
			Count:   8,
			Sum:     500 * time.Millisecond,
		},
		audit: lexguard.AuditStats{Dropped: 1},
	}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	rm := collect(t, reader)
	checks := []struct {
		name string
		attr []attribute.KeyValue
		want int64
	}{
		{"lexguard_access_forbidden_total", nil, 3},
		{"lexguard_audit_dropped_total", nil, 1},
		{"lexguard_authorize_latency_seconds_count", nil, 8},
		{"lexguard_authorize_latency_seconds_bucket", []attribute.KeyValue{attribute.String("le", "0.001")}, 1},
		{"lexguard_authorize_latency_seconds_bucket", []attribute.KeyValue{attribute.String("le", "0.1")}, 7},
		{"lexguard_authorize_latency_seconds_bucket", []attribute.KeyValue{attribute.String("le", "+Inf")}, 8},
	}
	for _, c := range checks {
		if v, ok := intPoint(rm, c.name, c.attr...); !ok || v != c.want {
			t.Fatalf("%s %v = %d (found %v), want %d", c.name, c.attr, v, ok, c.want)
		}
	}

	m, ok := metricNamed(rm, "lexguard_authorize_latency_seconds_sum")
	if !ok {
		t.Fatal("latency sum missing")
	}
	g, ok := m.Data.(metricdata.Gauge[float64])
	if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 0.5 {
		t.Fatalf("latency sum = %+v", m.Data)
	}

	if _, ok := metricNamed(rm, "lexguard_rate_limit_tracked_keys"); ok {
		t.Fatal("tracked keys registered for a source without a key counter")
	}
}

func TestExporterTrackedKeys(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("lexguard-test")

	exp, err := NewOTelExporterFromSource(meter, keyedSource{&fakeSource{}})
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	if v, ok := intPoint(rm, "lexguard_rate_limit_tracked_keys"); !ok || v != 9 {
		t.Fatalf("tracked keys = %d (found %v)", v, ok)
	}
	if _, ok := metricNamed(rm, "lexguard_authorize_latency_seconds_count"); ok {
		t.Fatal("latency reported while the source has none")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("lexguard-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("nil source err = %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter err = %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("nil engine err = %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("lexguard-test")

	src := &fakeSource{counters: map[lexguard.MetricID]uint64{lexguard.MetricAccessAllowed: 1}}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		v := uint64(i + 1)
		wg.Go(func() {
			src.mu.Lock()
			src.counters[lexguard.MetricAccessAllowed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		})
	}
	wg.Wait()
}

func TestExporterWithEngineSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("lexguard-test")

	m := lexguard.NewMetrics(lexguard.MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(lexguard.MetricSignInSuccess)
	m.ObserveAuthorize(3 * time.Millisecond)
	src := &fakeSource{counters: m.Snapshot().Counters, latency: m.Snapshot().Latency}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	if v, _ := intPoint(rm, "lexguard_signin_success_total"); v != 1 {
		t.Fatalf("signin success = %d", v)
	}
	if v, _ := intPoint(rm, "lexguard_authorize_latency_seconds_bucket", attribute.String("le", "0.002")); v != 0 {
		t.Fatalf("le=0.002 = %d", v)
	}
	if v, _ := intPoint(rm, "lexguard_authorize_latency_seconds_bucket", attribute.String("le", "0.005")); v != 1 {
		t.Fatalf("le=0.005 = %d", v)
	}
}
