// Package pool bounds concurrent unit execution with a weighted semaphore
// and applies the retry policy. Dispatch is asynchronous; progress and
// completion flow back on a single ordered event channel so the caller can
// stay single-writer.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kmorand/ensemble/pkg/models"
)

const (
	// MinWorkers is the lowest allowed concurrency.
	MinWorkers = 1
	// MaxWorkers is the highest allowed concurrency.
	MaxWorkers = 8
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 2 * time.Second

	// eventBuffer sizes the event channel. Completed events are delivered
	// unconditionally, so the buffer only needs to smooth out bursts.
	eventBuffer = 256
)

// Runner executes one attempt for a unit and always returns a result.
// *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context, unit *models.WorkUnit) *models.ExecutionResult
}

// EventKind discriminates pool events.
type EventKind string

const (
	// EventStarted fires when an attempt begins, after a slot is acquired.
	EventStarted EventKind = "started"
	// EventRetrying fires after a failed attempt that will be retried.
	EventRetrying EventKind = "retrying"
	// EventCompleted fires exactly once per dispatched unit, with the
	// final result.
	EventCompleted EventKind = "completed"
)

// Event is one item on the pool's ordered event channel.
type Event struct {
	// Kind is the event kind.
	Kind EventKind
	// UnitID identifies the unit.
	UnitID string
	// Attempt is the 1-based attempt number. Zero means the unit was
	// cancelled while still waiting for a slot.
	Attempt int
	// Result holds the failed attempt on a retry event and the final
	// result on a completed event.
	Result *models.ExecutionResult
}

// Config holds the pool's settings.
type Config struct {
	// Workers is the maximum number of units running at once, clamped to
	// [MinWorkers, MaxWorkers].
	Workers int
	// RetryDelay is the fixed wait between attempts. Defaults to
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// Runner executes individual attempts.
	Runner Runner
}

// Pool dispatches units into a bounded set of slots.
type Pool struct {
	workers    int
	retryDelay time.Duration
	runner     Runner

	sem    *semaphore.Weighted
	events chan Event

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
	wg         sync.WaitGroup
}

// New creates a pool. Cancelling ctx has the same effect as CancelAll.
func New(ctx context.Context, cfg Config) *Pool {
	workers := cfg.Workers
	if workers < MinWorkers {
		workers = MinWorkers
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		workers:    workers,
		retryDelay: retryDelay,
		runner:     cfg.Runner,
		sem:        semaphore.NewWeighted(int64(workers)),
		events:     make(chan Event, eventBuffer),
		ctx:        poolCtx,
		cancel:     cancel,
	}
}

// Workers returns the concurrency bound after clamping.
func (p *Pool) Workers() int { return p.workers }

// Events returns the pool's ordered event channel. The caller must drain it
// until every dispatched unit has completed.
func (p *Pool) Events() <-chan Event { return p.events }

// Dispatch hands a unit to the pool. It returns immediately; the unit waits
// for a free slot, runs with retries, and reports through the event channel.
func (p *Pool) Dispatch(unit *models.WorkUnit) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// Cancelled while queued: no slot was ever consumed.
			p.emit(Event{
				Kind:   EventCompleted,
				UnitID: unit.ID,
				Result: cancelledResult(unit.ID, 0),
			})
			return
		}
		defer p.sem.Release(1)

		p.runAttempts(unit)
	}()
}

// runAttempts runs the unit until it succeeds, exhausts its retries, fails
// terminally, or the pool is cancelled. The slot is held across the retry
// delay; a waiting retry still counts against capacity.
func (p *Pool) runAttempts(unit *models.WorkUnit) {
	maxAttempts := unit.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		p.emit(Event{Kind: EventStarted, UnitID: unit.ID, Attempt: attempt})

		res := p.runOnce(unit)
		res.Attempt = attempt

		if res.Success || !res.Class.Retryable() || attempt >= maxAttempts {
			p.emit(Event{Kind: EventCompleted, UnitID: unit.ID, Attempt: attempt, Result: res})
			return
		}
		if p.ctx.Err() != nil {
			p.emit(Event{Kind: EventCompleted, UnitID: unit.ID, Attempt: attempt, Result: cancelledResult(unit.ID, attempt)})
			return
		}

		p.emit(Event{Kind: EventRetrying, UnitID: unit.ID, Attempt: attempt, Result: res})

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			p.emit(Event{Kind: EventCompleted, UnitID: unit.ID, Attempt: attempt, Result: cancelledResult(unit.ID, attempt)})
			return
		}
	}
}

// runOnce executes a single attempt, converting a panicking runner into a
// failed result so one bad unit cannot take down the pool.
func (p *Pool) runOnce(unit *models.WorkUnit) (res *models.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pool] unit %s: worker panic: %v", unit.ID, r)
			res = &models.ExecutionResult{
				UnitID:  unit.ID,
				Success: false,
				Class:   models.ErrorClassBackendError,
				Error:   fmt.Sprintf("worker panic: %v", r),
			}
		}
	}()
	return p.runner.Run(p.ctx, unit)
}

// emit delivers an event. Completed events block until received because the
// caller drains until all units settle; advisory events drop under
// backpressure instead of stalling a worker.
func (p *Pool) emit(ev Event) {
	if ev.Kind == EventCompleted {
		p.events <- ev
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

// CancelAll stops the pool: queued units abort without ever taking a slot
// and running units are interrupted through their context. Safe to call more
// than once. Callers that need the slots back use Wait after draining the
// event channel.
func (p *Pool) CancelAll() {
	p.cancelOnce.Do(p.cancel)
}

// Wait blocks until every dispatched unit has finished and released its
// slot.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func cancelledResult(unitID string, attempt int) *models.ExecutionResult {
	return &models.ExecutionResult{
		UnitID:  unitID,
		Success: false,
		Class:   models.ErrorClassCancelled,
		Error:   "cancelled",
		Attempt: attempt,
	}
}
