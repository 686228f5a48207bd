// Package otp holds the one-time passcode domain kernel: purposes, record
// states, verification outcomes, code generation, and the pure state
// transition applied on every verification attempt.
//
// # State machine
//
//	Pending --correct code--------------> Verified
//	Pending --wrong code, budget left---> Pending (Attempts+1)
//	Pending --wrong code, budget spent--> Exhausted
//	Pending --now > ExpiresAt-----------> Expired
//
// Verified, Expired and Exhausted are terminal. [Evaluate] is the only
// function that moves a record between states; stores call it inside their
// own atomic section (WATCH/MULTI or SELECT ... FOR UPDATE).
//
// # What this package must NOT do
//
//   - Perform I/O. Persistence belongs to internal/stores and store/postgres.
//   - Import authguard or any sibling package.
//   - Keep plaintext codes. Only [HashCode] output is stored.
package otp
