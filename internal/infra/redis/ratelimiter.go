package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 10
	backoffStep              = 25 * time.Millisecond
	backoffMax               = 250 * time.Millisecond
	windowSeconds            = 1
	throttleTTL              = 2 * windowSeconds * time.Second
)

// throttleScript keeps one hash per provider whose fields are window start seconds and
// whose values are the sends counted in that window. Opening a window drops the previous
// field, so the hash never holds more than the current and last second. The script
// returns the count after this send.
var throttleScript = goredis.NewScript(`
local sent = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
if sent == 1 then
  redis.call("HDEL", KEYS[1], ARGV[2])
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return sent
`)

// throttleKey is the per-provider hash. The braces make it a cluster hash tag so every
// window of one provider lives on the same slot.
func throttleKey(provider string) string {
	return "dispatch:throttle:{" + provider + "}"
}

var _ ratelimit.RateLimiter = (*ProviderRateLimiter)(nil)

// ProviderRateLimiter caps sends per provider per second across every process sharing
// the Redis instance, so overlapping runs on the same credentials stay under the quota.
type ProviderRateLimiter struct {
	client      *goredis.Client
	sendsPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewProviderRateLimiter(client *goredis.Client, sendsPerSec int) (*ProviderRateLimiter, error) {
	return newProviderRateLimiter(client, int64(sendsPerSec), time.Now, sleepWithContext)
}

func newProviderRateLimiter(
	client *goredis.Client,
	sendsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*ProviderRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &ProviderRateLimiter{
		client:      client,
		sendsPerSec: sendsPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *ProviderRateLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key := strings.ToLower(strings.TrimSpace(provider))
	if key == "" {
		return false, fmt.Errorf("provider is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	window := r.now().UTC().Unix()
	sent, err := throttleScript.Run(ctx, r.client,
		[]string{throttleKey(key)},
		window, window-windowSeconds, throttleTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %s send quota: %w", key, err)
	}

	return sent <= r.sendsPerSec, nil
}

func (r *ProviderRateLimiter) Wait(ctx context.Context, provider string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, provider)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, min(backoff, r.untilNextWindow())); err != nil {
			return err
		}

		backoff = min(backoff*2, backoffMax)
	}
}

// untilNextWindow is the time left before the current one-second window closes. A
// rejected caller never needs to wait past it.
func (r *ProviderRateLimiter) untilNextWindow() time.Duration {
	now := r.now()
	left := now.Truncate(time.Second).Add(windowSeconds * time.Second).Sub(now)
	if left <= 0 {
		return time.Millisecond
	}
	return left
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
