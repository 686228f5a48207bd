// Package stores provides the Redis-backed passcode record store.
//
// # Design
//
// One key per (purpose, user) holds a versioned, binary-encoded record with a
// TTL of the passcode lifetime plus a retention window, so expired and
// exhausted records keep answering with their terminal outcome until Redis
// evicts them. Issuing a new passcode is a single SET that overwrites the
// previous record. Verification uses WATCH/MULTI optimistic transactions with
// automatic retry on contention; the state transition itself is
// internal/otp.Evaluate. Code comparison is constant-time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for passcode records.
// It does NOT generate codes, send notifications, or enforce rate limits.
//
// # What this package must NOT do
//
//   - Import authguard.
//   - Log or store plaintext codes.
package stores
