// Package postgres is a PostgreSQL implementation of authguard.RecordStore.
//
// One row per (user_id, purpose) holds the current passcode; Replace upserts
// it. Attempt runs SELECT ... FOR UPDATE, evaluates the attempt and writes
// the new state in one transaction, so concurrent attempts serialize on the
// row. The schema ships as embedded goose migrations applied by Migrate.
//
// Unlike the Redis store, expired rows are not removed automatically; call
// Prune periodically.
package postgres
