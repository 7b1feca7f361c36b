package async

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/budget"
	"github.com/teranos/upilookup/results"
)

// Controller owns one batch run at a time: the state machine, the worker
// pool, and the counters. Start may be called again once a run is terminal.
//
// Lock order: Controller.mu, then results.Store's own lock.
type Controller struct {
	client  lookup.Client
	limiter budget.Acquirer
	store   *results.Store
	workers int
	logger  pulseLogger
	baseCtx context.Context // process lifetime; bounds lookups
	now     func() time.Time
	events  *eventHub

	mu      sync.Mutex
	state   JobState
	items   []input.WorkItem
	next    int                // index of the next unclaimed item
	resumed chan struct{}      // closed while not paused
	runCtx  context.Context    // cancelled by Cancel; releases rate limit waiters
	cancel  context.CancelFunc // cancels runCtx
	done    chan struct{}      // closed when the run's workers have exited
}

// Option configures a Controller.
type Option func(*Controller)

// WithContext bounds every lookup by ctx. Cancelling ctx cancels the active run.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) { c.baseCtx = ctx }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates an idle controller.
func NewController(client lookup.Client, limiter budget.Acquirer, store *results.Store, cfg am.PoolConfig, log *zap.SugaredLogger, opts ...Option) *Controller {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > am.MaxWorkers {
		workers = am.MaxWorkers
	}

	c := &Controller{
		client:  client,
		limiter: limiter,
		store:   store,
		workers: workers,
		logger:  pulseLogger{log.Named("pulse")},
		baseCtx: context.Background(),
		now:     time.Now,
		events:  newEventHub(),
		state:   JobState{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}

	context.AfterFunc(c.baseCtx, func() {
		if err := c.Cancel(); err == nil {
			c.logger.Closing("Shutdown cancelled active run")
		}
	})

	return c
}

// Start begins a run over items. Valid from idle or a terminal state once the
// previous run's workers have exited. Clears the store and counters.
// A batch that repeats a phone number is rejected before any state changes.
func (c *Controller) Start(items []input.WorkItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.IsActive() {
		return rejected("start", c.state.Status)
	}
	if c.drainingLocked() {
		return &ControlError{Op: "start", From: c.state.Status, Reason: "previous run still draining"}
	}
	if err := c.baseCtx.Err(); err != nil {
		return errors.Wrap(err, "controller is shut down")
	}
	if err := checkUnique(items); err != nil {
		return err
	}

	now := c.now()
	c.store.Reset()
	c.state = JobState{
		RunID:         uuid.NewString(),
		Status:        StatusRunning,
		TotalItems:    len(items),
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	c.items = append([]input.WorkItem(nil), items...)
	c.next = 0
	c.resumed = closedChan()
	c.runCtx, c.cancel = context.WithCancel(c.baseCtx)
	c.done = make(chan struct{})

	c.logger.Starting("Run started",
		logger.FieldRunID, c.state.RunID,
		logger.FieldTotalCount, len(items),
		"workers", c.workers)
	c.publishLocked(Event{Kind: EventRunStarted})

	if len(items) == 0 {
		c.completeLocked()
		c.cancel()
		close(c.done)
		return nil
	}

	workers := min(c.workers, len(items))
	run := &runHandle{id: c.state.RunID, ctx: c.runCtx, cancel: c.cancel}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error { return c.worker(run, id) })
	}

	done := c.done
	go func() {
		if err := g.Wait(); err != nil {
			c.logger.Errorw("Worker pool stopped with error", logger.FieldRunID, run.id, logger.FieldError, err)
		}
		run.cancel()
		c.logger.Pulse("Workers drained", logger.FieldRunID, run.id)
		close(done)
	}()

	return nil
}

// Pause stops new lookups from starting. In-flight lookups finish and are
// recorded. Only valid while running; a second Pause is rejected.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusRunning {
		return rejected("pause", c.state.Status)
	}

	c.state.Status = StatusPaused
	c.state.LastUpdatedAt = c.now()
	c.resumed = make(chan struct{})

	c.logger.Pulse("Run paused", logger.FieldRunID, c.state.RunID, logger.FieldCount, c.state.Settled())
	c.publishLocked(Event{Kind: EventRunPaused})
	return nil
}

// Resume continues a paused run. If every item already settled while paused,
// the run completes.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusPaused {
		return rejected("resume", c.state.Status)
	}

	c.state.Status = StatusRunning
	c.state.LastUpdatedAt = c.now()
	close(c.resumed)

	c.logger.Starting("Run resumed", logger.FieldRunID, c.state.RunID)
	c.publishLocked(Event{Kind: EventRunResumed})

	if c.state.Settled() == c.state.TotalItems {
		c.completeLocked()
	}
	return nil
}

// Cancel ends the run. Unclaimed items receive a cancelled outcome
// immediately; items waiting for a rate limit grant are released and also
// cancelled. In-flight lookups finish and are counted.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Status.IsActive() {
		return rejected("cancel", c.state.Status)
	}

	now := c.now()
	c.state.Status = StatusCancelled
	c.state.LastUpdatedAt = now
	c.state.FinishedAt = &now

	for c.next < len(c.items) {
		item := c.items[c.next]
		c.next++
		if err := c.recordLocked(item, lookup.Cancelled("run cancelled before dispatch")); err != nil {
			c.logger.Warnw("Failed to record cancelled item", logger.FieldPhone, item.PhoneNumber, logger.FieldError, err)
		}
	}
	c.cancel()

	c.logger.Closing("Run cancelled",
		logger.FieldRunID, c.state.RunID,
		logger.FieldCount, c.state.ProcessedCount,
		"cancelled", c.state.CancelledCount,
		"in_flight", c.state.InFlight)
	c.publishLocked(Event{Kind: EventRunCancelled})
	return nil
}

// Reset returns a terminal controller to idle and clears the store and the
// activity log.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.IsActive() {
		return rejected("reset", c.state.Status)
	}
	if c.drainingLocked() {
		return &ControlError{Op: "reset", From: c.state.Status, Reason: "previous run still draining"}
	}

	c.store.Reset()
	c.items = nil
	c.next = 0
	c.state = JobState{Status: StatusIdle}
	c.events.clear()
	c.publishLocked(Event{Kind: EventRunReset})
	return nil
}

// Snapshot returns a consistent copy of the run state.
func (c *Controller) Snapshot() JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the current run's workers have exited or ctx ends.
// Returns nil immediately when no run was started.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of run events and a function that unsubscribes
// and closes it. Slow subscribers miss events rather than stalling the run.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns all retained.
func (c *Controller) Recent(n int) []Event {
	return c.events.recent(n)
}

// Store returns the result store the controller records into.
func (c *Controller) Store() *results.Store {
	return c.store
}

// Limiter returns the shared rate limiter.
func (c *Controller) Limiter() budget.Acquirer {
	return c.limiter
}

// checkUnique rejects a batch that names a phone number twice; each number
// gets exactly one outcome per run.
func checkUnique(items []input.WorkItem) error {
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if first, dup := seen[item.PhoneNumber]; dup {
			return errors.WithHint(
				errors.Wrapf(errors.ErrValidation, "phone number %s appears at sequence %d and %d", item.PhoneNumber, first, item.SequenceIndex),
				"normalize the batch before starting a run")
		}
		seen[item.PhoneNumber] = item.SequenceIndex
	}
	return nil
}

// completeLocked marks the run completed. Must be called with lock held
func (c *Controller) completeLocked() {
	now := c.now()
	c.state.Status = StatusCompleted
	c.state.LastUpdatedAt = now
	c.state.FinishedAt = &now

	c.logger.Pulse("Run completed",
		logger.FieldRunID, c.state.RunID,
		logger.FieldCount, c.state.ProcessedCount,
		"success", c.state.SuccessCount,
		"failure", c.state.FailureCount,
		logger.FieldDurationMS, c.state.Elapsed().Milliseconds())
	c.publishLocked(Event{Kind: EventRunCompleted})
}

// drainingLocked reports whether a previous run's workers are still running.
// Must be called with lock held
func (c *Controller) drainingLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// publishLocked stamps e with the current state and fans it out.
// Must be called with lock held
func (c *Controller) publishLocked(e Event) {
	e.RunID = c.state.RunID
	e.At = c.now()
	e.State = c.state
	c.events.publish(e)
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
