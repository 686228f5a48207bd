// Package authguard guards authentication endpoints with a Redis-backed
// fixed-window rate limiter and manages the lifecycle of one-time passcodes:
// issue, deliver, verify, resend.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. The engine keeps no per-request
// state; counters and passcode records live in the configured stores.
//
// # Architecture boundaries
//
// authguard is the public surface. It exposes [Engine], [Builder], [Config],
// [Pipeline], and value types (IssueResult, VerifyResult, RateDecision).
// Counter scripts, record encoding, and audit dispatch live under internal/.
// Transports (middleware, notify, store/postgres, metrics/export) import this
// package; it imports none of them.
//
// # Verification outcomes
//
// VerifyOTP reports Verified, InvalidCode, Expired, AttemptsExhausted,
// AlreadyVerified, or NotFound as an [OTPOutcome] value. Only infrastructure
// failures are returned as errors.
package authguard
