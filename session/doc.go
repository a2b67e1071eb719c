// Package session provides the session model, its compact binary encoding,
// a Redis-backed store and the request-level session provider.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations), the [Session] model and
// [Provider]. It does NOT sign or verify tokens itself; a [TokenParser]
// is injected. It does not evaluate capabilities or route policy.
//
// # What this package must NOT do
//
//   - Import lexguard, jwt, access, or middleware (no upward imports).
//   - Make authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
