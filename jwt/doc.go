// Package jwt signs and verifies session tokens. A token names a session
// (sid), its user (uid) and role, and expires together with the session.
//
// Verification is strict: the algorithm is pinned, exp is required and
// issuer, audience, kid and leeway are checked when configured.
package jwt
