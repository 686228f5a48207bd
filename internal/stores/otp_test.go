package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/storefront/authguard/internal/otp"
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

func testRecord(id, code string, maxAttempts uint16) *otp.Record {
	now := time.Now()
	return &otp.Record{
		ID:          id,
		UserID:      "user-1",
		Purpose:     otp.PurposePasswordReset,
		Destination: "user@example.com",
		CodeHash:    otp.HashCode("user-1", otp.PurposePasswordReset, code),
		State:       otp.StatePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestOTPStoreReplaceAndCurrent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", 0)
	ctx := context.Background()

	rec := testRecord("r1", "111111", 5)
	if err := store.Replace(ctx, rec); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.Current(ctx, "user-1", otp.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if got.ID != "r1" || got.Destination != "user@example.com" || got.CodeHash != rec.CodeHash {
		t.Fatalf("decoded record mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) || got.MaxAttempts != 5 || got.State != otp.StatePending {
		t.Fatalf("decoded record mismatch: %+v", got)
	}

	missing, err := store.Current(ctx, "user-2", otp.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing record, got %+v", missing)
	}
}

func TestOTPStoreReplaceSupersedes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", 0)
	ctx := context.Background()

	if err := store.Replace(ctx, testRecord("r1", "111111", 5)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if err := store.Replace(ctx, testRecord("r2", "222222", 5)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	_, outcome, err := store.Attempt(ctx, "user-1", otp.PurposePasswordReset,
		otp.HashCode("user-1", otp.PurposePasswordReset, "111111"), time.Now())
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if outcome == otp.OutcomeVerified {
		t.Fatal("superseded code must not verify")
	}

	rec, outcome, err := store.Attempt(ctx, "user-1", otp.PurposePasswordReset,
		otp.HashCode("user-1", otp.PurposePasswordReset, "222222"), time.Now())
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if outcome != otp.OutcomeVerified || rec.ID != "r2" {
		t.Fatalf("expected r2 verified, got %s on %+v", outcome, rec)
	}
}

func TestOTPStoreAttemptNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", 0)

	rec, outcome, err := store.Attempt(context.Background(), "nobody", otp.PurposeLoginVerification, [32]byte{}, time.Now())
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if rec != nil || outcome != otp.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s %+v", outcome, rec)
	}
}

func TestOTPStoreAttemptPersistsAndKeepsTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", time.Hour)
	ctx := context.Background()

	if err := store.Replace(ctx, testRecord("r1", "111111", 5)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	key := "aotp:password_reset:user-1"
	if ttl := mr.TTL(key); ttl != 10*time.Minute+time.Hour {
		t.Fatalf("expected ttl of lifetime plus retention, got %s", ttl)
	}

	mr.FastForward(time.Minute)
	_, outcome, err := store.Attempt(ctx, "user-1", otp.PurposePasswordReset, [32]byte{1}, time.Now())
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if outcome != otp.OutcomeInvalidCode {
		t.Fatalf("expected invalid_code, got %s", outcome)
	}
	if ttl := mr.TTL(key); ttl != 9*time.Minute+time.Hour {
		t.Fatalf("expected ttl preserved across update, got %s", ttl)
	}

	got, err := store.Current(ctx, "user-1", otp.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected persisted attempt count 1, got %d", got.Attempts)
	}
}

func TestOTPStoreConcurrentAttemptsRespectCeiling(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", 0)
	ctx := context.Background()

	const maxAttempts = 3
	if err := store.Replace(ctx, testRecord("r1", "111111", maxAttempts)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[otp.Outcome]int{}
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := store.Attempt(ctx, "user-1", otp.PurposePasswordReset, [32]byte{9}, time.Now())
			if err != nil && !errors.Is(err, ErrOTPContention) {
				t.Errorf("Attempt failed: %v", err)
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	got, err := store.Current(ctx, "user-1", otp.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got.Attempts > maxAttempts {
		t.Fatalf("attempts %d exceeded ceiling %d", got.Attempts, maxAttempts)
	}
	if got.State != otp.StateExhausted {
		t.Fatalf("expected exhausted state, got %s", got.State)
	}
	if outcomes[otp.OutcomeInvalidCode] > maxAttempts-1 {
		t.Fatalf("too many invalid_code outcomes: %v", outcomes)
	}
}

func TestOTPStoreRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, "", 0)
	mr.Close()

	if err := store.Replace(context.Background(), testRecord("r1", "111111", 5)); !errors.Is(err, ErrOTPRedisUnavailable) {
		t.Fatalf("expected ErrOTPRedisUnavailable, got %v", err)
	}
	if _, _, err := store.Attempt(context.Background(), "user-1", otp.PurposePasswordReset, [32]byte{}, time.Now()); !errors.Is(err, ErrOTPRedisUnavailable) {
		t.Fatalf("expected ErrOTPRedisUnavailable, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, err := encodeOTPRecord(testRecord("r1", "111111", 5))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	data[0] = 9
	if _, err := decodeOTPRecord(data); err == nil {
		t.Fatal("expected version error")
	}
}
