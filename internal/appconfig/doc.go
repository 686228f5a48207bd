// Package appconfig loads the server configuration: a YAML file, an optional
// .env file, then AUTHGUARD_* and TWILIO_* environment variables, in that
// order of increasing precedence. [Settings.EngineConfig] merges the result
// over authguard.DefaultConfig and validates it.
package appconfig
