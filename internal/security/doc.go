// Package security summarizes an engine configuration into a posture
// report: which protections are active and with what parameters.
//
// # What this package must NOT do
//
//   - Import the root package. The root converts its Config into a
//     [ReportInput] so the dependency only runs one way.
package security
