// Package middleware adapts an Engine to net/http.
//
// # Handlers
//
//   - [Guard] enforces the engine's route policy on every request.
//   - [RequireRoles] and [RequirePermission] guard single handlers.
//   - [RateLimit] applies a sliding-window [Policy] keyed by [KeyFunc].
//   - [SecurityHeaders] sets the response hardening headers.
//   - [RequestContext] stamps the client IP and a request ID into the context.
//   - [Logging] writes one structured record per request.
//
// Denials under the configured API prefix get a JSON body and a 401, 403 or
// 429 status. Page requests are redirected instead: unauthenticated users to
// the sign-in page with the original path in the callback parameter,
// forbidden users to the unauthorized page.
//
// # Architecture boundaries
//
// This package translates Engine decisions into HTTP. It does NOT decide
// access or count requests itself; [lexguard.Engine.Authorize] and the
// engine's limiter do.
//
// # What this package must NOT do
//
//   - Parse or sign tokens.
//   - Talk to Redis.
//   - Put raw error text in responses.
package middleware
