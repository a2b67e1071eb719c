package lexguard

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricAccessAllowed MetricID = iota
	MetricAccessUnauthenticated
	MetricAccessForbidden
	// MetricAccessError counts requests whose session could not be resolved.
	MetricAccessError
	MetricRateLimitAllowed
	MetricRateLimitRejected
	MetricRateLimitStoreError
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignInRateLimited
	MetricSessionCreated
	MetricSessionRevoked
	MetricSignOutAll
	// MetricPasswordRehashed counts stored hashes upgraded at sign-in.
	MetricPasswordRehashed
	metricIDCount
)

// Upper bounds of the Authorize latency buckets. Authorization costs one
// store round-trip at most, so the scale stops at 100ms.
var latencyBounds = [...]time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

// LatencyBounds returns the bucket upper bounds used by Authorize latency
// snapshots. The last bucket of a snapshot is the overflow (+Inf) bucket.
func LatencyBounds() []time.Duration {
	return append([]time.Duration(nil), latencyBounds[:]...)
}

// counterSlot keeps each counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

type latencyHistogram struct {
	buckets  [len(latencyBounds) + 1]atomic.Uint64
	sumNanos atomic.Uint64
}

func (h *latencyHistogram) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i := 0
	for i < len(latencyBounds) && d > latencyBounds[i] {
		i++
	}
	h.buckets[i].Add(1)
	h.sumNanos.Add(uint64(d))
}

// Metrics is a fixed set of lock-free counters plus the Authorize latency
// histogram. A nil or disabled *Metrics ignores every call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]counterSlot
	// latency is nil when latency histograms are off.
	latency *latencyHistogram
}

// LatencySnapshot is a copy of the Authorize latency histogram. Buckets
// are per-bucket (not cumulative) counts aligned with Bounds plus one
// overflow bucket.
type LatencySnapshot struct {
	Bounds  []time.Duration
	Buckets []uint64
	Count   uint64
	Sum     time.Duration
}

// MetricsSnapshot is a point-in-time copy of the engine counters. Latency is
// nil when latency histograms are disabled.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
	Latency  *LatencySnapshot
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	m := &Metrics{enabled: cfg.Enabled}
	if cfg.Enabled && cfg.EnableLatencyHistograms {
		m.latency = &latencyHistogram{}
	}
	return m
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether ObserveAuthorize records anything.
func (m *Metrics) LatencyEnabled() bool {
	return m.Enabled() && m.latency != nil
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(n)
}

// ObserveAuthorize records one Authorize duration.
func (m *Metrics) ObserveAuthorize(d time.Duration) {
	if m.LatencyEnabled() {
		m.latency.observe(d)
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies the counters. A disabled instance returns an empty map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if !m.Enabled() {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}

	if m.latency != nil {
		l := &LatencySnapshot{
			Bounds:  LatencyBounds(),
			Buckets: make([]uint64, len(m.latency.buckets)),
			Sum:     time.Duration(m.latency.sumNanos.Load()),
		}
		for i := range m.latency.buckets {
			l.Buckets[i] = m.latency.buckets[i].Load()
			l.Count += l.Buckets[i]
		}
		s.Latency = l
	}
	return s
}
