package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestProviderRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newProviderRateLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "twilio")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "TWILIO")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call in the same window should be rejected")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(context.Background(), "twilio")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new window should admit")
	}
}

func TestProviderRateLimiterAllowPerProvider(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newProviderRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "twilio"); !allowed {
		t.Fatal("twilio should be admitted first")
	}
	if allowed, _ := limiter.Allow(context.Background(), "emailjs"); !allowed {
		t.Fatal("emailjs has its own window")
	}
	if allowed, _ := limiter.Allow(context.Background(), "twilio"); allowed {
		t.Fatal("twilio second send should be rejected")
	}
	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty provider")
	}
}

func TestProviderRateLimiterKeepsOneHashPerProvider(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newProviderRateLimiter(rdb, 5, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "Twilio"); err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
	}

	sent, err := rdb.HGet(ctx, "dispatch:throttle:{twilio}", "1700000000").Result()
	if err != nil {
		t.Fatalf("HGet() error = %v", err)
	}
	if sent != "2" {
		t.Fatalf("sends in window = %s, want 2", sent)
	}
	if ttl := rdb.PTTL(ctx, "dispatch:throttle:{twilio}").Val(); ttl <= 0 || ttl > throttleTTL {
		t.Fatalf("ttl = %v, want within %v", ttl, throttleTTL)
	}

	now = now.Add(time.Second)
	if _, err := limiter.Allow(ctx, "twilio"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	fields, err := rdb.HGetAll(ctx, "dispatch:throttle:{twilio}").Result()
	if err != nil {
		t.Fatalf("HGetAll() error = %v", err)
	}
	if len(fields) != 1 || fields["1700000001"] != "1" {
		t.Fatalf("windows = %v, want only the current one", fields)
	}
}

func TestProviderRateLimiterWait(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	limiter, err := newProviderRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			if len(slept) == 2 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "ses"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first Wait() slept %d times, want 0", len(slept))
	}

	if err := limiter.Wait(context.Background(), "ses"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(slept))
	}
	if slept[1] != 2*backoffStep {
		t.Fatalf("second backoff = %v, want %v", slept[1], 2*backoffStep)
	}
}

func TestProviderRateLimiterWaitStopsAtWindowBoundary(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_250, 0).Add(990 * time.Millisecond)
	var slept []time.Duration
	limiter, err := newProviderRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "emailjs"); !allowed {
		t.Fatal("expected first call to be allowed")
	}
	if err := limiter.Wait(context.Background(), "emailjs"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 10*time.Millisecond {
		t.Fatalf("slept = %v, want [10ms]", slept)
	}
}

func TestProviderRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newProviderRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newProviderRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "twilio"); !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "twilio")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
