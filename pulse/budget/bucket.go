package budget

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/upilookup/errors"
)

// TokenBucket is the smoothing alternative to Limiter. Grants are spaced evenly
// at window/maxCalls with a burst of one.
type TokenBucket struct {
	limiter *rate.Limiter
	window  time.Duration
	max     atomic.Int64
}

// NewTokenBucket creates a token bucket allowing maxCalls per window.
func NewTokenBucket(maxCalls int, window time.Duration) *TokenBucket {
	if window <= 0 {
		window = DefaultWindow
	}
	b := &TokenBucket{
		limiter: rate.NewLimiter(every(maxCalls, window), 1),
		window:  window,
	}
	b.max.Store(int64(maxCalls))
	return b
}

func every(maxCalls int, window time.Duration) rate.Limit {
	if maxCalls <= 0 {
		return 0
	}
	return rate.Every(window / time.Duration(maxCalls))
}

// Acquire blocks until a token is available or ctx ends.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait fails early when the deadline cannot be met
		return errors.Wrap(err, "token bucket wait")
	}
	return nil
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (b *TokenBucket) Allow() error {
	if !b.limiter.Allow() {
		return errors.Newf("rate limit exceeded: %d calls per %s", b.max.Load(), b.window)
	}
	return nil
}

// SetLimit changes the ceiling.
func (b *TokenBucket) SetLimit(maxCalls int) {
	b.max.Store(int64(maxCalls))
	b.limiter.SetLimit(every(maxCalls, b.window))
}

// Limit returns the current ceiling.
func (b *TokenBucket) Limit() int {
	return int(b.max.Load())
}

// Window returns the span the ceiling applies to.
func (b *TokenBucket) Window() time.Duration {
	return b.window
}
