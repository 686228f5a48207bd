package rate

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

func TestCheckAndIncrementBoundary(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	const max = 5
	for i := 1; i <= max; i++ {
		d, err := l.CheckAndIncrement(ctx, "10.0.0.1", "login", time.Minute, max)
		if err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, d.Count)
		}
	}

	d, err := l.CheckAndIncrement(ctx, "10.0.0.1", "login", time.Minute, max)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("request N+1 should be rate limited")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("expected retry after one window, got %s", d.RetryAfter)
	}
}

func TestRejectedRequestDoesNotMutateCounter(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.CheckAndIncrement(ctx, "c", "otp_request", time.Minute, 2); err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
	}
	mr.FastForward(10 * time.Second)
	ttlBefore := mr.TTL("arl:otp_request:c")

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndIncrement(ctx, "c", "otp_request", time.Minute, 2)
		if err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
		if d.Allowed {
			t.Fatal("expected rejection")
		}
	}

	count, err := l.Count(ctx, "c", "otp_request")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected counter to stay at 2, got %d", count)
	}
	if ttl := mr.TTL("arl:otp_request:c"); ttl != ttlBefore {
		t.Fatalf("expected TTL untouched by rejections, before=%s after=%s", ttlBefore, ttl)
	}
}

func TestWindowResetAfterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.CheckAndIncrement(ctx, "c", "login", 30*time.Second, 3); err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
	}
	d, _ := l.CheckAndIncrement(ctx, "c", "login", 30*time.Second, 3)
	if d.Allowed {
		t.Fatal("expected limit reached inside window")
	}

	mr.FastForward(31 * time.Second)

	d, err := l.CheckAndIncrement(ctx, "c", "login", 30*time.Second, 3)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh window starting at 1, got allowed=%v count=%d", d.Allowed, d.Count)
	}
}

func TestWindowMeasuredFromFirstHit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	if _, err := l.CheckAndIncrement(ctx, "c", "login", 30*time.Second, 10); err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	mr.FastForward(20 * time.Second)
	if _, err := l.CheckAndIncrement(ctx, "c", "login", 30*time.Second, 10); err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	mr.FastForward(11 * time.Second)

	count, err := l.Count(ctx, "c", "login")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected window to close 30s after the first hit, count=%d", count)
	}
}

func TestConcurrentIncrementExact(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	const max = 20
	const total = max + 5

	var allowed, limited atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.CheckAndIncrement(ctx, "burst", "register", time.Minute, max)
			if err != nil {
				t.Errorf("CheckAndIncrement failed: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			} else {
				limited.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if allowed.Load() != max || limited.Load() != 5 {
		t.Fatalf("expected %d allowed and 5 limited, got %d/%d", max, allowed.Load(), limited.Load())
	}
}

func TestKeysAreIsolatedPerClientAndEndpoint(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	if _, err := l.CheckAndIncrement(ctx, "a", "login", time.Minute, 1); err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	for _, pair := range [][2]string{{"b", "login"}, {"a", "register"}} {
		d, err := l.CheckAndIncrement(ctx, pair[0], pair[1], time.Minute, 1)
		if err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("expected %v to have its own budget", pair)
		}
	}
}

func TestResetOpensNewWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	_, _ = l.CheckAndIncrement(ctx, "c", "login", time.Minute, 1)
	if err := l.Reset(ctx, "c", "login"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	d, err := l.CheckAndIncrement(ctx, "c", "login", time.Minute, 1)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected allow after reset")
	}
}

func TestInvalidInputs(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, "")
	ctx := context.Background()

	if _, err := l.CheckAndIncrement(ctx, "", "login", time.Minute, 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := l.CheckAndIncrement(ctx, "c", "login", 0, 1); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
	if _, err := l.CheckAndIncrement(ctx, "c", "login", time.Minute, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestRedisDownSurfacesUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, "")
	mr.Close()

	_, err := l.CheckAndIncrement(context.Background(), "c", "login", time.Minute, 1)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
