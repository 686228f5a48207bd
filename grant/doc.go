// Package grant mints and verifies short-lived signed verification grants:
// JWTs proving that a user completed a passcode check for a given purpose.
package grant
