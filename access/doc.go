// Package access decides whether a session may reach a resource.
//
// [Decide] is the single decision function: no session is Unauthenticated,
// a role outside a non-empty allowed set is Forbidden, everything else is
// Allowed. [RoutePolicy] is the data table that supplies the allowed set for
// a request path.
//
// The package only decides. Redirects, status codes and headers are applied
// by package middleware.
package access
