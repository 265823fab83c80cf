// Package retry is a generic exponential-backoff retry primitive:
// exponential backoff with jitter, capped at a max delay, generalized
// here to arbitrary retryable operations.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy bounds how many attempts a retryable operation gets and how long
// to wait between them.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Network is the default policy for transfer/verification-ack failures.
var Network = Policy{MaxAttempts: 3, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2}

// Local is the default policy for snapshot/checksum local I/O failures.
var Local = Policy{MaxAttempts: 2, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := d * 0.1 * rand.Float64()
	return time.Duration(d + jitter)
}

// Do runs fn up to p.MaxAttempts times, sleeping with exponential backoff
// and jitter between attempts. It stops early if ctx is canceled or fn
// returns a nil error. The last error is returned if every attempt fails.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}
