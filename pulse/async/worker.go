package async

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/sym"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}

// runHandle identifies the run a worker belongs to.
type runHandle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// worker claims items in input order until the run is exhausted or cancelled.
// Each item: gate → claim → rate limit grant → gate → lookup → record.
func (c *Controller) worker(run *runHandle, id int) error {
	log := c.logger.With(logger.FieldRunID, run.id, logger.FieldWorkerID, id)
	// Lookups outlive Cancel but not process shutdown; Cancel stops further
	// handle probes
	lookupCtx := lookup.WithStopSignal(logger.WithRunID(c.baseCtx, run.id), run.ctx)

	for {
		item, ok := c.claim(run)
		if !ok {
			return nil
		}

		if reason, ok := c.admit(run, item, log); !ok {
			if err := c.settle(run, item, lookup.Cancelled(reason), false); err != nil {
				return err
			}
			continue
		}

		start := c.now()
		out := c.client.Lookup(lookupCtx, item.PhoneNumber)
		log.Debugw(out.Kind.Symbol()+" Lookup settled",
			logger.FieldPhone, item.PhoneNumber,
			logger.FieldOutcome, out.Kind,
			logger.FieldHandle, out.Handle,
			logger.FieldAttempts, out.Attempts,
			logger.FieldDurationMS, c.now().Sub(start).Milliseconds())

		if err := c.settle(run, item, out, true); err != nil {
			return err
		}
	}
}

// admit acquires a rate limit grant and marks the lookup in flight. A grant
// held across a pause is stale: it is dropped and a new one acquired after
// resume. Returns the cancellation reason when the item must not be issued.
func (c *Controller) admit(run *runHandle, item input.WorkItem, log *zap.SugaredLogger) (string, bool) {
	for {
		if err := c.limiter.Acquire(run.ctx); err != nil {
			log.Debugw("Released from rate limit wait", logger.FieldPhone, item.PhoneNumber, logger.FieldReason, err)
			return "cancelled while waiting for rate limit", false
		}

		switch c.beginLookup(run) {
		case gateOpen:
			return "", true
		case gateClosed:
			return "cancelled before dispatch", false
		case gateWaited:
			log.Debugw("Grant held across pause, acquiring a new one", logger.FieldPhone, item.PhoneNumber)
		}
	}
}

// claim hands out the next unclaimed item, blocking while paused.
// Returns false once the run is cancelled, completed or exhausted.
func (c *Controller) claim(run *runHandle) (input.WorkItem, bool) {
	for {
		c.mu.Lock()
		if c.state.RunID != run.id {
			c.mu.Unlock()
			return input.WorkItem{}, false
		}

		switch c.state.Status {
		case StatusRunning:
			if c.next >= len(c.items) {
				c.mu.Unlock()
				return input.WorkItem{}, false
			}
			item := c.items[c.next]
			c.next++
			c.mu.Unlock()
			return item, true

		case StatusPaused:
			resumed := c.resumed
			c.mu.Unlock()
			select {
			case <-resumed:
			case <-run.ctx.Done():
			}

		default:
			c.mu.Unlock()
			return input.WorkItem{}, false
		}
	}
}

type gate int

const (
	gateOpen   gate = iota // in flight, send now
	gateClosed             // run cancelled or replaced
	gateWaited             // blocked on a pause; the grant is stale
)

// beginLookup is the gate between a rate limit grant and the outbound call.
// While running it marks the lookup in flight. While paused it blocks until
// resume or cancel and reports gateWaited, never admitting the lookup on a
// grant taken before the pause.
func (c *Controller) beginLookup(run *runHandle) gate {
	c.mu.Lock()
	if c.state.RunID != run.id {
		c.mu.Unlock()
		return gateClosed
	}

	switch c.state.Status {
	case StatusRunning:
		c.state.InFlight++
		c.mu.Unlock()
		return gateOpen

	case StatusPaused:
		resumed := c.resumed
		c.mu.Unlock()
		select {
		case <-resumed:
			return gateWaited
		case <-run.ctx.Done():
			return gateClosed
		}

	default:
		c.mu.Unlock()
		return gateClosed
	}
}

// settle records the outcome for item and completes the run when it was the last.
func (c *Controller) settle(run *runHandle, item input.WorkItem, out lookup.Outcome, issued bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.RunID != run.id {
		return errors.AssertionFailedf("outcome for %s arrived after run %s was replaced", item.PhoneNumber, run.id)
	}

	if issued {
		c.state.InFlight--
	}
	if err := c.recordLocked(item, out); err != nil {
		return err
	}

	if c.state.Status == StatusRunning && c.state.Settled() == c.state.TotalItems {
		c.completeLocked()
	}
	return nil
}

// recordLocked stores one outcome and updates the counters.
// Must be called with lock held
func (c *Controller) recordLocked(item input.WorkItem, out lookup.Outcome) error {
	if err := c.store.Record(item, out); err != nil {
		return errors.Wrapf(err, "run %s", c.state.RunID)
	}

	switch {
	case out.Kind == lookup.KindCancelled:
		c.state.CancelledCount++
	case out.Kind == lookup.KindSuccess:
		c.state.ProcessedCount++
		c.state.SuccessCount++
	default:
		c.state.ProcessedCount++
		c.state.FailureCount++
	}
	c.state.LastUpdatedAt = c.now()

	outcome := out
	c.publishLocked(Event{Kind: EventItemSettled, Phone: item.PhoneNumber, Outcome: &outcome})
	return nil
}
