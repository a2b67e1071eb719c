// Package lexguard is the access-control and rate-limit engine of a legal-practice
// portal. It decides whether a request may reach a route from the caller's session
// role, answers capability checks from declarative permission bundles, and throttles
// identifiers with an exact sliding-window log.
//
// An [Engine] is assembled once through [Builder.Build] and is then safe to call
// from many goroutines.
//
// # Architecture boundaries
//
// lexguard is the public surface: [Engine], [Builder], [Config] and value types.
// Capability tables live in permission, route rules and decisions in access,
// sliding windows in ratelimit and its stores, sessions in session and jwt.
// The HTTP boundary (redirects, JSON errors, hardening headers) is middleware.
//
// # What this package must NOT do
//
//   - Write HTTP responses; Authorize returns a decision and the caller acts on it.
//   - Expose Redis clients or store internals.
//   - Import middleware (middleware imports lexguard).
package lexguard
