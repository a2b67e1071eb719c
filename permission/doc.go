// Package permission defines the portal's roles, the capability registry and
// the catalog that binds each role to a bundle of capabilities.
//
// # Bundles
//
// A bundle is a named set of capability strings compiled into a [CapSet]
// with 64 or 128 usable bits. The highest bit is reserved for the wildcard
// capability "*", which satisfies every check. Roles never carry
// capabilities directly: a role is bound to one bundle, so widening what a
// role can do is a data change in the catalog, not a code change.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O beyond decoding
// a catalog from an [io.Reader]. A frozen [Catalog] is immutable and safe for
// concurrent reads.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import lexguard, session, or access.
//   - Grant a capability to an unknown role.
package permission
