package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/storefront/authguard"
)

func main() {
	var (
		clients     = flag.Int("clients", 1000, "distinct client ids in the rate limit phase")
		users       = flag.Int("users", 10000, "passcodes to seed for the verify phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (rate limit + verify)")
		wrongRatio  = flag.Float64("wrong-ratio", 0.5, "share of verify submissions using a wrong code")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *clients <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	var codes sync.Map
	capture := authguard.NotifierFunc(func(_ context.Context, n authguard.Notification) error {
		codes.Store(n.Destination, n.Code)
		return nil
	})

	cfg := authguard.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := authguard.New().WithConfig(cfg).WithRedis(client).WithNotifier(capture).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d passcodes...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		if _, err := engine.IssueOTP(ctx, authguard.IssueRequest{
			UserID:      userID(i),
			Purpose:     authguard.PurposeEmailVerification,
			Destination: destination(i),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	limit, _ := engine.EndpointLimit(authguard.EndpointOTPVerify)
	rateStats, allowed := runRateLimitPhase(ctx, engine, *clients, *ops, *concurrency)
	verifyStats, outcomes := runVerifyPhase(ctx, engine, &codes, *users, *ops, *concurrency, *wrongRatio)

	fmt.Println("---- results ----")
	printStats("rate_limit", rateStats)
	fmt.Printf("rate_limit: allowed=%d ceiling=%d\n", allowed, int64(*clients)*int64(limit.MaxRequests))
	printStats("verify", verifyStats)
	printOutcomes(outcomes)
}

func runRateLimitPhase(ctx context.Context, engine *authguard.Engine, clients, ops, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		allowed   int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				n := r.Intn(clients)
				clientID := fmt.Sprintf("10.%d.%d.%d", n>>16&0xFF, n>>8&0xFF, n&0xFF)
				t0 := time.Now()
				d, err := engine.CheckRateLimit(ctx, clientID, authguard.EndpointOTPVerify)
				lat := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case d.Allowed:
					atomic.AddInt64(&allowed, 1)
				}
				mu.Lock()
				latencies = append(latencies, lat)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), allowed
}

func runVerifyPhase(ctx context.Context, engine *authguard.Engine, codes *sync.Map, users, ops, concurrency int, wrongRatio float64) (phaseStats, map[authguard.OTPOutcome]int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		outcomes  = make(map[authguard.OTPOutcome]int64)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(users)
				v, _ := codes.Load(destination(idx))
				code, _ := v.(string)
				if r.Float64() < wrongRatio {
					code = flip(code)
				}

				t0 := time.Now()
				res, err := engine.VerifyOTP(ctx, authguard.VerifyRequest{
					UserID:  userID(idx),
					Purpose: authguard.PurposeEmailVerification,
					Code:    code,
				})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				if err == nil {
					outcomes[res.Outcome]++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), outcomes
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printOutcomes(outcomes map[authguard.OTPOutcome]int64) {
	keys := make([]authguard.OTPOutcome, 0, len(outcomes))
	for o := range outcomes {
		keys = append(keys, o)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, o := range keys {
		fmt.Printf("verify: %-18s %d\n", o.String(), outcomes[o])
	}
}

func userID(i int) string {
	return fmt.Sprintf("load-user-%d", i)
}

func destination(i int) string {
	return fmt.Sprintf("load-user-%d@example.test", i)
}

// flip returns a same-length code that cannot match.
func flip(code string) string {
	if code == "" {
		return "000000"
	}
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}
