// Package prometheus renders authguard metrics in the Prometheus text
// exposition format.
//
// Counter names are prefixed authguard_ and end in _total. The two latency
// histograms are authguard_rate_limit_latency_seconds and
// authguard_otp_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
