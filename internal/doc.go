// Package internal holds the private building blocks of authguard.
//
// # Sub-packages
//
//   - appconfig: YAML, .env, and environment loading for the server
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - httpapi: chi routes for the passcode API
//   - otp: code generation, hashing, and the pure attempt evaluator
//   - rate: fixed-window counter script
//   - stores: Redis passcode record store
//
// Nothing here appears in the public authguard API.
package internal
