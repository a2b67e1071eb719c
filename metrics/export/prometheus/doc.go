// Package prometheus renders lexguard engine metrics in the Prometheus text
// format and serves them from an [http.Handler].
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
