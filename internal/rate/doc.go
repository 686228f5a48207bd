// Package rate provides the Redis-backed fixed-window counter used to throttle
// protected endpoints.
//
// # Window semantics
//
// One key per (endpoint, client): arl:<endpoint>:<client>. The window opens on
// the first allowed hit, which sets the key TTL to the full window; the key
// expires exactly one window later and the next hit starts a fresh count.
// The read, the limit check, and the increment run in one Lua script so
// concurrent callers can never push the count past the limit, and a rejected
// call never touches the counter.
//
// # What this package must NOT do
//
//   - Decide fail-open versus fail-closed. Store failures surface as
//     [ErrRedisUnavailable] and the engine applies its policy.
//   - Know about HTTP requests or endpoint tables.
package rate
