package internaldefs

import (
	"github.com/storefront/authguard"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for authguard.Engine.AuditDropped.
const AuditDroppedName = "authguard_audit_dropped_total"

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: authguard.MetricRateLimitAllowed, Name: "authguard_rate_limit_allowed_total", Help: "Requests admitted by the rate limiter."},
	{ID: authguard.MetricRateLimitRejected, Name: "authguard_rate_limit_rejected_total", Help: "Requests rejected by the rate limiter."},
	{ID: authguard.MetricRateLimitFailOpen, Name: "authguard_rate_limit_fail_open_total", Help: "Requests admitted while the counter store was unavailable."},
	{ID: authguard.MetricRateLimitUnavailable, Name: "authguard_rate_limit_unavailable_total", Help: "Rate limit checks failed closed."},
	{ID: authguard.MetricOTPIssued, Name: "authguard_otp_issued_total", Help: "Passcodes persisted."},
	{ID: authguard.MetricOTPResent, Name: "authguard_otp_resent_total", Help: "Passcodes issued by resend."},
	{ID: authguard.MetricOTPDeliveryFailure, Name: "authguard_otp_delivery_failure_total", Help: "Passcode notifications that failed or timed out."},
	{ID: authguard.MetricOTPVerified, Name: "authguard_otp_verified_total", Help: "Successful passcode verifications."},
	{ID: authguard.MetricOTPInvalid, Name: "authguard_otp_invalid_total", Help: "Wrong passcode submissions."},
	{ID: authguard.MetricOTPExpired, Name: "authguard_otp_expired_total", Help: "Submissions against expired passcodes."},
	{ID: authguard.MetricOTPAttemptsExhausted, Name: "authguard_otp_attempts_exhausted_total", Help: "Submissions against exhausted passcodes."},
	{ID: authguard.MetricOTPNotFound, Name: "authguard_otp_not_found_total", Help: "Submissions with no current passcode."},
	{ID: authguard.MetricOTPAlreadyVerified, Name: "authguard_otp_already_verified_total", Help: "Submissions against consumed passcodes."},
	{ID: authguard.MetricOTPUnavailable, Name: "authguard_otp_unavailable_total", Help: "Passcode store failures."},
	{ID: authguard.MetricGrantIssued, Name: "authguard_grant_issued_total", Help: "Verification grants minted."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authguard.MetricRateLimitLatency, Name: "authguard_rate_limit_latency_seconds", Help: "Rate limit check latency."},
	{ID: authguard.MetricOTPVerifyLatency, Name: "authguard_otp_verify_latency_seconds", Help: "Passcode verification latency."},
}

// HistogramBounds are the upper bounds of the engine's eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as metric name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies up to eight raw bucket counts, zero-filling the rest.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
