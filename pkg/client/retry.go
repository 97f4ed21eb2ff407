package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds the retry policy for transient errors.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry policy: five retries with
// doubling backoff from one second, capped at thirty seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoffFor returns the sleep before retry number attempt (0-based),
// with ±20% jitter to avoid synchronized retries from concurrent fetches.
func (rc RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := float64(rc.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= rc.BackoffMultiplier
		if backoff >= float64(rc.MaxBackoff) {
			backoff = float64(rc.MaxBackoff)
			break
		}
	}
	jittered := time.Duration(backoff * (0.8 + rand.Float64()*0.4))
	if jittered > rc.MaxBackoff {
		jittered = rc.MaxBackoff
	}
	return jittered
}

// sleep waits for d, honoring context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
