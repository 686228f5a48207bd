package authguard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, n Notifier) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	if n == nil {
		n = &recordingNotifier{}
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(n).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

func TestCheckRateLimitRejectsRequestAfterLimit(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := engine.CheckRateLimit(ctx, "203.0.113.7", EndpointLogin)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := engine.CheckRateLimit(ctx, "203.0.113.7", EndpointLogin)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("sixth login should be rate limited")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("expected retry after 15m, got %s", d.RetryAfter)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRateLimitAllowed] != 5 || snap.Counters[MetricRateLimitRejected] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestCheckRateLimitWindowResets(t *testing.T) {
	engine, mr := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := engine.CheckRateLimit(ctx, "c1", EndpointOTPResend); err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
	}
	if d, _ := engine.CheckRateLimit(ctx, "c1", EndpointOTPResend); d.Allowed {
		t.Fatal("fourth resend should be limited")
	}

	mr.FastForward(10*time.Minute + time.Second)

	d, err := engine.CheckRateLimit(ctx, "c1", EndpointOTPResend)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestCheckRateLimitConcurrentAllowsExactlyLimit(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)

	const callers = 10
	var allowed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := engine.CheckRateLimit(context.Background(), "198.51.100.1", EndpointLogin)
			if err != nil {
				t.Errorf("CheckRateLimit failed: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected exactly 5 allowed, got %d", got)
	}
}

func TestCheckRateLimitKeysAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = engine.CheckRateLimit(ctx, "a", EndpointOTPResend)
	}
	if d, _ := engine.CheckRateLimit(ctx, "b", EndpointOTPResend); !d.Allowed {
		t.Fatal("other client should not share the counter")
	}
	if d, _ := engine.CheckRateLimit(ctx, "a", EndpointOTPVerify); !d.Allowed {
		t.Fatal("other endpoint should not share the counter")
	}
}

func TestCheckRateLimitInvalidInput(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := engine.CheckRateLimit(ctx, "  ", EndpointLogin); !errors.Is(err, ErrInvalidClientID) {
		t.Fatalf("expected ErrInvalidClientID, got %v", err)
	}
	if _, err := engine.CheckRateLimit(ctx, "c", "unknown"); !errors.Is(err, ErrEndpointNotProtected) {
		t.Fatalf("expected ErrEndpointNotProtected, got %v", err)
	}
}

func TestCheckRateLimitFailsOpenWhenRedisDown(t *testing.T) {
	engine, mr := newTestEngine(t, testConfig(), nil)
	mr.Close()

	d, err := engine.CheckRateLimit(context.Background(), "c", EndpointLogin)
	if err != nil {
		t.Fatalf("fail-open should not return an error, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("fail-open should admit the request")
	}
	if got := engine.MetricsSnapshot().Counters[MetricRateLimitFailOpen]; got != 1 {
		t.Fatalf("expected fail-open counter 1, got %d", got)
	}
}

func TestCheckRateLimitFailsClosedWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.FailOpen = false
	engine, mr := newTestEngine(t, cfg, nil)
	mr.Close()

	d, err := engine.CheckRateLimit(context.Background(), "c", EndpointLogin)
	if !errors.Is(err, ErrRateLimitUnavailable) {
		t.Fatalf("expected ErrRateLimitUnavailable, got %v", err)
	}
	if d.Allowed {
		t.Fatal("fail-closed must not admit the request")
	}
}

func TestResetRateLimitClearsCounter(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = engine.CheckRateLimit(ctx, "c", EndpointOTPResend)
	}
	if err := engine.ResetRateLimit(ctx, "c", EndpointOTPResend); err != nil {
		t.Fatalf("ResetRateLimit failed: %v", err)
	}
	if d, _ := engine.CheckRateLimit(ctx, "c", EndpointOTPResend); !d.Allowed {
		t.Fatal("expected request to pass after reset")
	}
}

func TestRateLimitEmitsAuditEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(16)

	_, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(&recordingNotifier{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	for i := 0; i < 4; i++ {
		_, _ = engine.CheckRateLimit(ctx, "c", EndpointOTPResend)
	}
	engine.Close()

	var found bool
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != "rate_limit_triggered" {
				continue
			}
			found = true
			if ev.ClientID != "c" || ev.Endpoint != EndpointOTPResend {
				t.Fatalf("unexpected subject: %+v", ev)
			}
			if ev.Metadata["request_id"] != "req-1" || ev.Metadata["limit"] != "3" {
				t.Fatalf("unexpected metadata: %+v", ev.Metadata)
			}
		default:
			if !found {
				t.Fatal("expected rate_limit_triggered event")
			}
			return
		}
	}
}

func TestEndpointForPath(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)

	id, ok := engine.EndpointForPath("/v1/otp/verify")
	if !ok || id != EndpointOTPVerify {
		t.Fatalf("expected otp_verify, got %q %v", id, ok)
	}
	if _, ok := engine.EndpointForPath("/healthz"); ok {
		t.Fatal("unprotected path should not resolve")
	}
}
