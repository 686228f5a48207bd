package authguard

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricOTPVerified)

	if got := m.Value(MetricOTPVerified); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricOTPVerified)
	m.Inc(MetricOTPVerified)
	m.Inc(MetricOTPVerified)

	if got := m.Value(MetricOTPVerified); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricOTPIssued)
	m.Observe(MetricOTPVerifyLatency, time.Millisecond)
	if m.Value(MetricOTPIssued) != 0 || m.Enabled() {
		t.Fatal("nil metrics must record nothing")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRateLimitAllowed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRateLimitAllowed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricRateLimitLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRateLimitLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounterIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Observe(MetricOTPIssued, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricOTPIssued]; ok {
		t.Fatal("counter id must not get a histogram")
	}
	if _, ok := snap.Counters[MetricOTPVerifyLatency]; ok {
		t.Fatal("latency id must not appear among counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricOTPVerified)
	m.Inc(MetricOTPInvalid)
	m.Inc(MetricOTPInvalid)
	m.Observe(MetricOTPVerifyLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricOTPVerified] != 1 {
		t.Fatalf("expected MetricOTPVerified=1 got %d", snap.Counters[MetricOTPVerified])
	}
	if snap.Counters[MetricOTPInvalid] != 2 {
		t.Fatalf("expected MetricOTPInvalid=2 got %d", snap.Counters[MetricOTPInvalid])
	}
	if len(snap.Histograms[MetricOTPVerifyLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricOTPVerifyLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricOTPVerifyLatency][0])
	}
}

func TestEngineRecordsVerifyLatency(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true

	n := &recordingNotifier{}
	engine, _ := newTestEngine(t, cfg, n)

	_, code := issueEmail(t, engine, n, "u1")
	if _, err := engine.VerifyOTP(context.Background(), VerifyRequest{
		UserID:  "u1",
		Purpose: PurposeEmailVerification,
		Code:    code,
	}); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	var total uint64
	for _, v := range engine.MetricsSnapshot().Histograms[MetricOTPVerifyLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
}
