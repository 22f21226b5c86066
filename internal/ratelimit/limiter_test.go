package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalRateLimiterAllowPerProvider(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(2)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "twilio")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed within burst", i+1)
		}
	}

	allowed, _ := limiter.Allow(context.Background(), "TWILIO")
	if allowed {
		t.Fatal("third call should be rejected; provider keys are case-insensitive")
	}

	allowed, _ = limiter.Allow(context.Background(), "emailjs")
	if !allowed {
		t.Fatal("other provider should have its own bucket")
	}
}

func TestLocalRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(1)
	if err := limiter.Wait(context.Background(), "ses"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// rate.Limiter fails fast when the next token lands after the deadline
	if err := limiter.Wait(ctx, "ses"); err == nil {
		t.Fatal("expected Wait() to fail before the next token")
	}
}
