// Package budget enforces the outbound call ceiling shared by all lookup workers.
package budget

import (
	"context"
	"time"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
)

// Acquirer grants permission for one outbound call.
// Implementations are safe for concurrent use.
type Acquirer interface {
	// Acquire blocks until the call may proceed or ctx ends.
	Acquire(ctx context.Context) error
	// Allow is the non-blocking variant of Acquire.
	Allow() error
	// SetLimit changes the ceiling for subsequent grants.
	SetLimit(maxCalls int)
	Limit() int
	Window() time.Duration
}

var (
	_ Acquirer = (*Limiter)(nil)
	_ Acquirer = (*TokenBucket)(nil)
)

// New builds the limiter selected by cfg.Policy.
func New(cfg am.RateLimitConfig) (Acquirer, error) {
	if cfg.CallsPerSecond <= 0 {
		return nil, errors.Newf("calls_per_second must be positive, got %d", cfg.CallsPerSecond)
	}
	window := time.Duration(cfg.WindowMS) * time.Millisecond

	switch cfg.Policy {
	case "", am.PolicySlidingWindow:
		return NewLimiter(cfg.CallsPerSecond, window), nil
	case am.PolicyTokenBucket:
		return NewTokenBucket(cfg.CallsPerSecond, window), nil
	default:
		return nil, errors.WithHint(
			errors.Newf("unknown rate limit policy %q", cfg.Policy),
			"use sliding_window or token_bucket")
	}
}
