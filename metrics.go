package authguard

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by authguard APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricRateLimitAllowed counts requests admitted by the limiter.
	MetricRateLimitAllowed MetricID = iota
	// MetricRateLimitRejected counts requests rejected by the limiter.
	MetricRateLimitRejected
	// MetricRateLimitFailOpen counts requests admitted because the counter store was down.
	MetricRateLimitFailOpen
	// MetricRateLimitUnavailable counts fail-closed errors.
	MetricRateLimitUnavailable
	// MetricOTPIssued counts persisted passcodes.
	MetricOTPIssued
	// MetricOTPResent counts passcodes issued through resend.
	MetricOTPResent
	// MetricOTPDeliveryFailure counts notifications that failed or timed out.
	MetricOTPDeliveryFailure
	// MetricOTPVerified counts successful verifications.
	MetricOTPVerified
	// MetricOTPInvalid counts wrong codes.
	MetricOTPInvalid
	// MetricOTPExpired counts attempts on expired records.
	MetricOTPExpired
	// MetricOTPAttemptsExhausted counts attempts on exhausted records.
	MetricOTPAttemptsExhausted
	// MetricOTPNotFound counts attempts with no record.
	MetricOTPNotFound
	// MetricOTPAlreadyVerified counts attempts on consumed records.
	MetricOTPAlreadyVerified
	// MetricOTPUnavailable counts record store failures.
	MetricOTPUnavailable
	// MetricGrantIssued counts minted verification grants.
	MetricGrantIssued
	// MetricRateLimitLatency is the latency histogram of rate limit checks.
	MetricRateLimitLatency
	// MetricOTPVerifyLatency is the latency histogram of verification attempts.
	MetricOTPVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and fixed-bucket latency histograms.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by authguard APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a metrics set honoring cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not allocate and is safe for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for a latency metric. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isLatencyMetric(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot returns empty maps when metrics are disabled. Latency histograms
// are included only when latency collection is on.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRateLimitLatency, MetricOTPVerifyLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isLatencyMetric(id MetricID) bool {
	return id == MetricRateLimitLatency || id == MetricOTPVerifyLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
