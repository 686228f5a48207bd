// Package audit implements async event dispatching for throttling and
// passcode lifecycle events.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines writer, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, purpose, client and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authguard or any sibling internal package.
//   - Carry plaintext passcodes in events.
package audit
