// Package ratelimit implements a per-identifier sliding-window log limiter.
//
// For every identifier the store keeps the timestamps of admitted requests.
// A check at time now drops timestamps at or before now-window, rejects
// when the remaining count is already at the limit, and otherwise records
// now. Rejected requests are not recorded, so a caller that keeps hammering
// a full window does not extend its own lockout.
//
// # Stores
//
// The limiter is storage-agnostic. package memstore keeps windows in process with
// LRU capacity and idle eviction; package redisstore keeps one sorted set per
// identifier so several processes share the same budget.
//
// # What this package must NOT do
//
//   - Consult the wall clock directly; time comes from [Clock].
//   - Know about HTTP. Request-to-identifier mapping lives in middleware.
package ratelimit
