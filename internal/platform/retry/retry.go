package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration // default 100ms
	MaxBackoff  time.Duration // default 5s
	JitterFrac  float64       // default 0.20, negative disables jitter
	// Retryable decides whether err deserves another attempt. Nil retries everything.
	Retryable func(err error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unchanged; ctx cancellation during a backoff wait returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !shouldRetry(p, attempt, maxAttempts, err) {
			return err
		}
		t := time.NewTimer(Backoff(p, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func shouldRetry(p Policy, attempt, maxAttempts int, err error) bool {
	if attempt >= maxAttempts {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Backoff is exponential in attempt, capped at MaxBackoff, with +/- JitterFrac jitter.
func Backoff(p Policy, attempt int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = 100 * time.Millisecond
	}
	if maxB <= 0 {
		maxB = 5 * time.Second
	}
	switch {
	case j < 0:
		j = 0
	case j == 0:
		j = 0.20
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempt-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
