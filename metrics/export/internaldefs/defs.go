package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/lexguard"
)

// Kind is the exposition type of a family.
type Kind string

const (
	Counter   Kind = "counter"
	Gauge     Kind = "gauge"
	Histogram Kind = "histogram"
)

// Desc describes one exported metric family.
type Desc struct {
	Name string
	Help string
	Kind Kind
}

// Sample is one value of a family. Suffix is appended to the family name
// ("_bucket", "_sum", "_count" for histograms). LE is the bucket bound
// label and is empty for everything but buckets.
type Sample struct {
	Suffix string
	LE     string
	Value  float64
}

// Family is a described metric with its current samples.
type Family struct {
	Desc
	Samples []Sample
}

// Source is what exporters read from. *lexguard.Engine satisfies it.
type Source interface {
	MetricsSnapshot() lexguard.MetricsSnapshot
	AuditStats() lexguard.AuditStats
}

// KeyCounter is implemented by sources whose rate-limit store can report
// how many identifiers it holds.
type KeyCounter interface {
	RateLimitTrackedKeys() (int, bool)
}

type counterDef struct {
	id lexguard.MetricID
	Desc
}

func counter(id lexguard.MetricID, name, help string) counterDef {
	return counterDef{id: id, Desc: Desc{Name: name, Help: help, Kind: Counter}}
}

var engineCounters = []counterDef{
	counter(lexguard.MetricAccessAllowed, "lexguard_access_allowed_total", "Requests admitted by the route policy."),
	counter(lexguard.MetricAccessUnauthenticated, "lexguard_access_unauthenticated_total", "Protected requests without a valid session."),
	counter(lexguard.MetricAccessForbidden, "lexguard_access_forbidden_total", "Requests whose role is not allowed on the path."),
	counter(lexguard.MetricAccessError, "lexguard_access_error_total", "Requests whose session could not be resolved."),
	counter(lexguard.MetricRateLimitAllowed, "lexguard_rate_limit_allowed_total", "Requests admitted by the sliding-window limiter."),
	counter(lexguard.MetricRateLimitRejected, "lexguard_rate_limit_rejected_total", "Requests rejected by the sliding-window limiter."),
	counter(lexguard.MetricRateLimitStoreError, "lexguard_rate_limit_store_error_total", "Rate-limit store failures."),
	counter(lexguard.MetricSignInSuccess, "lexguard_signin_success_total", "Successful sign-ins."),
	counter(lexguard.MetricSignInFailure, "lexguard_signin_failure_total", "Failed sign-ins."),
	counter(lexguard.MetricSignInRateLimited, "lexguard_signin_rate_limited_total", "Sign-ins rejected by attempt throttling."),
	counter(lexguard.MetricSessionCreated, "lexguard_session_created_total", "Created sessions."),
	counter(lexguard.MetricSessionRevoked, "lexguard_session_revoked_total", "Sessions removed by sign-out."),
	counter(lexguard.MetricSignOutAll, "lexguard_signout_all_total", "Sign-out-everywhere operations."),
	counter(lexguard.MetricPasswordRehashed, "lexguard_password_rehashed_total", "Stored password hashes upgraded at sign-in."),
}

var (
	AuthorizeLatency = Desc{Name: "lexguard_authorize_latency_seconds", Help: "Time spent deciding protected requests.", Kind: Histogram}
	AuditDelivered   = Desc{Name: "lexguard_audit_delivered_total", Help: "Audit events handed to the sink.", Kind: Counter}
	AuditDropped     = Desc{Name: "lexguard_audit_dropped_total", Help: "Audit events dropped because the queue was full.", Kind: Counter}
	AuditSinkPanics  = Desc{Name: "lexguard_audit_sink_panics_total", Help: "Audit sink calls that panicked.", Kind: Counter}
	TrackedKeys      = Desc{Name: "lexguard_rate_limit_tracked_keys", Help: "Identifiers held by the in-process rate-limit store.", Kind: Gauge}
)

// Describe lists every family src can produce, in output order.
func Describe(src Source) []Desc {
	out := make([]Desc, 0, len(engineCounters)+5)
	for _, c := range engineCounters {
		out = append(out, c.Desc)
	}
	out = append(out, AuthorizeLatency, AuditDelivered, AuditDropped, AuditSinkPanics)
	if _, ok := src.(KeyCounter); ok {
		out = append(out, TrackedKeys)
	}
	return out
}

// Collect reads src once. Engine counters and the latency histogram are
// omitted when engine metrics are disabled; audit counters always appear.
func Collect(src Source) []Family {
	snap := src.MetricsSnapshot()
	out := make([]Family, 0, len(engineCounters)+5)

	for _, c := range engineCounters {
		v, ok := snap.Counters[c.id]
		if !ok {
			continue
		}
		out = append(out, single(c.Desc, float64(v)))
	}
	if snap.Latency != nil {
		out = append(out, latencyFamily(snap.Latency))
	}

	audit := src.AuditStats()
	out = append(out,
		single(AuditDelivered, float64(audit.Delivered)),
		single(AuditDropped, float64(audit.Dropped)),
		single(AuditSinkPanics, float64(audit.SinkPanics)),
	)

	if kc, ok := src.(KeyCounter); ok {
		if n, ok := kc.RateLimitTrackedKeys(); ok {
			out = append(out, single(TrackedKeys, float64(n)))
		}
	}
	return out
}

func single(d Desc, v float64) Family {
	return Family{Desc: d, Samples: []Sample{{Value: v}}}
}

// latencyFamily converts per-bucket counts into cumulative Prometheus
// buckets with le labels in seconds.
func latencyFamily(l *lexguard.LatencySnapshot) Family {
	f := Family{Desc: AuthorizeLatency, Samples: make([]Sample, 0, len(l.Buckets)+2)}
	var running uint64
	for i, n := range l.Buckets {
		running += n
		le := "+Inf"
		if i < len(l.Bounds) {
			le = strconv.FormatFloat(l.Bounds[i].Seconds(), 'g', -1, 64)
		}
		f.Samples = append(f.Samples, Sample{Suffix: "_bucket", LE: le, Value: float64(running)})
	}
	f.Samples = append(f.Samples,
		Sample{Suffix: "_sum", Value: l.Sum.Seconds()},
		Sample{Suffix: "_count", Value: float64(l.Count)},
	)
	return f
}
