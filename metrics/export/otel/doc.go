// Package otel publishes lexguard engine metrics through OpenTelemetry
// observable instruments.
//
// Counters become Int64ObservableCounters and gauges Int64ObservableGauges.
// The Authorize latency histogram is exposed as a "_bucket" gauge carrying
// an "le" attribute plus "_count" and "_sum" gauges, since the metric API
// has no observable histogram. One callback reads the engine per
// collection.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
