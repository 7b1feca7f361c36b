package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/upilookup/errors"
)

// DefaultWindow is the span over which the call ceiling applies.
const DefaultWindow = time.Second

// Limiter enforces max calls per time window using sliding window algorithm.
// Blocking callers are granted in arrival order.
type Limiter struct {
	maxCalls  int
	window    time.Duration
	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time // Injectable for testing

	// FIFO ticketing for Acquire
	nextTicket uint64
	serving    uint64
	abandoned  map[uint64]struct{}
	changed    chan struct{}
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return NewLimiterWithClock(maxCalls, window, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCalls int, window time.Duration, timeNow func() time.Time) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxCalls:  maxCalls,
		window:    window,
		callTimes: make([]time.Time, 0, maxCalls),
		timeNow:   timeNow,
		abandoned: make(map[uint64]struct{}),
		changed:   make(chan struct{}),
	}
}

// Allow checks if a call is allowed under rate limits without blocking.
// Returns error if rate limit exceeded or blocked callers are queued ahead.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if r.serving != r.nextTicket {
		return errors.Newf("rate limit queue busy: %d waiting", r.nextTicket-r.serving)
	}

	if len(r.callTimes) >= r.maxCalls {
		err := errors.Newf("rate limit exceeded: %d calls per %s (limit: %d)",
			len(r.callTimes), r.window, r.maxCalls)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Max calls per window: %d", r.maxCalls))
		return err
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// Acquire blocks until a call is granted under the ceiling.
// Grants are issued in arrival order. Returns the context error if ctx ends first;
// an abandoned wait consumes no capacity.
func (r *Limiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	ticket := r.nextTicket
	r.nextTicket++
	r.mu.Unlock()

	for {
		r.mu.Lock()
		now := r.timeNow()
		r.removeExpiredCalls(now)

		var wait time.Duration
		if ticket == r.serving {
			if len(r.callTimes) < r.maxCalls {
				r.callTimes = append(r.callTimes, now)
				r.advanceLocked()
				r.mu.Unlock()
				return nil
			}
			// Oldest grant leaves the window at callTimes[0]+window
			wait = r.callTimes[0].Add(r.window).Sub(now)
			if wait <= 0 {
				wait = time.Millisecond
			}
		}
		changed := r.changed
		r.mu.Unlock()

		var t *time.Timer
		var timer <-chan time.Time
		if wait > 0 {
			t = time.NewTimer(wait)
			timer = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			r.abandon(ticket)
			return ctx.Err()
		case <-changed:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Wait blocks until a call is allowed under rate limits
// Returns error if context is cancelled
func (r *Limiter) Wait(ctx context.Context) error {
	return r.Acquire(ctx)
}

// abandon removes ticket from the queue after a cancelled wait.
func (r *Limiter) abandon(ticket uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket == r.serving {
		r.advanceLocked()
		return
	}
	if ticket > r.serving {
		r.abandoned[ticket] = struct{}{}
	}
}

// advanceLocked moves the queue head past served and abandoned tickets and wakes waiters.
// Must be called with lock held
func (r *Limiter) advanceLocked() {
	r.serving++
	for {
		if _, gone := r.abandoned[r.serving]; !gone {
			break
		}
		delete(r.abandoned, r.serving)
		r.serving++
	}
	r.notifyLocked()
}

// notifyLocked wakes every blocked Acquire so it re-evaluates its position.
// Must be called with lock held
func (r *Limiter) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// Count expired calls from front (timestamps are ordered)
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// SetLimit changes the ceiling. Applies to subsequent grants.
func (r *Limiter) SetLimit(maxCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.maxCalls = maxCalls
	r.notifyLocked()
}

// Limit returns the current ceiling.
func (r *Limiter) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxCalls
}

// Window returns the span the ceiling applies to.
func (r *Limiter) Window() time.Duration {
	return r.window
}

// Reset clears the rate limiter state
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
	r.notifyLocked()
}

// Stats returns current rate limiter statistics
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	callsInWindow = len(r.callTimes)
	remaining = r.maxCalls - callsInWindow
	if remaining < 0 {
		remaining = 0
	}

	return callsInWindow, remaining
}
