package lookup

import (
	"context"
	"math"
	"time"

	"github.com/teranos/upilookup/am"
)

// RetryPolicy bounds retries of transient outcomes.
// Delay before retry n (1-indexed) is min(Base * 2^(n-1), Max).
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// PolicyFromConfig builds a RetryPolicy from lookup config.
func PolicyFromConfig(cfg am.LookupConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		Max:         time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

// Delay returns how long to wait before retry attempt n.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(float64(p.Base) * math.Pow(2, float64(n-1)))
	// Overflow on large n lands negative
	if p.Max > 0 && (d > p.Max || d < 0) {
		return p.Max
	}
	return d
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs attempt until it returns a non-transient outcome or the policy
// is exhausted. attempt receives the 1-indexed attempt number. The returned
// outcome's Attempts is the number of attempts made. If ctx ends during a
// backoff wait the last transient outcome is returned.
func Retry(ctx context.Context, p RetryPolicy, sleep Sleeper, attempt func(ctx context.Context, n int) Outcome) Outcome {
	if sleep == nil {
		sleep = SleepContext
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var out Outcome
	for n := 1; n <= maxAttempts; n++ {
		out = attempt(ctx, n)
		out.Attempts = n
		if !out.Kind.Retryable() || n == maxAttempts {
			return out
		}
		if err := sleep(ctx, p.Delay(n)); err != nil {
			return out
		}
	}
	return out
}
