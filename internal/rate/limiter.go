package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "arl"

// checkAndIncrementLua performs GET -> compare -> INCR/PEXPIRE atomically.
// KEYS[1] = counter key
// ARGV[1] = max requests
// ARGV[2] = window in milliseconds
//
// Returns {allowed(0|1), count, pttl}.
var checkAndIncrementLua = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end

local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {1, count, ttl}
`)

// Decision is the result of one CheckAndIncrement call.
type Decision struct {
	Allowed bool
	// Count is the counter value after the call (unchanged on reject).
	Count int64
	Limit int
	// RetryAfter is the full window on reject, zero otherwise.
	RetryAfter time.Duration
	// ResetIn is the remaining lifetime of the current window.
	ResetIn time.Duration
}

// Limiter enforces fixed-window request ceilings with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(endpointID, clientID string) string {
	return l.prefix + ":" + endpointID + ":" + clientID
}

// CheckAndIncrement admits the call and bumps the counter when the window
// still has budget, or rejects it without touching the counter.
func (l *Limiter) CheckAndIncrement(
	ctx context.Context,
	clientID, endpointID string,
	window time.Duration,
	maxRequests int,
) (Decision, error) {
	if clientID == "" || endpointID == "" {
		return Decision{}, ErrInvalidKey
	}
	if window < time.Millisecond || maxRequests <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	res, err := checkAndIncrementLua.Run(ctx, l.redis,
		[]string{l.key(endpointID, clientID)},
		maxRequests,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected lua result length %d", ErrRedisUnavailable, len(res))
	}

	d := Decision{
		Allowed: res[0] == 1,
		Count:   res[1],
		Limit:   maxRequests,
	}
	if res[2] > 0 {
		d.ResetIn = time.Duration(res[2]) * time.Millisecond
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}

// Count returns the current counter without mutating it. Missing keys read as zero.
func (l *Limiter) Count(ctx context.Context, clientID, endpointID string) (int64, error) {
	count, err := l.redis.Get(ctx, l.key(endpointID, clientID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Reset clears the counter for the pair, opening a fresh window.
func (l *Limiter) Reset(ctx context.Context, clientID, endpointID string) error {
	if err := l.redis.Del(ctx, l.key(endpointID, clientID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
