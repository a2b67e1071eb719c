// Package internaldefs turns an engine snapshot into named metric families
// so the Prometheus and OTel exporters publish identical series.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
