// Package middleware adapts the authguard filter pipeline and verification
// grants to net/http.
//
// # Guards
//
//   - [Guard] runs an [authguard.Pipeline] before the wrapped handler.
//   - [RequireGrant] admits requests carrying a verification grant for a purpose.
//
// [ClientID] derives the client identity used for rate limiting: the first
// X-Forwarded-For entry, else the host part of RemoteAddr.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Rate limit and
// grant decisions are made by the pipeline filters and Engine.ParseGrant.
//
// # What this package must NOT do
//
//   - Access Redis (Engine handles I/O).
//   - Parse or create JWTs directly (delegates to Engine).
//   - Decide anything beyond mapping a verdict to a status code.
package middleware
