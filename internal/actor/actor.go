// Package actor runs jobs one at a time on a dedicated goroutine. Components
// that own mutable state submit closures instead of taking locks.
package actor

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when submitting to a closed actor.
var ErrClosed = errors.New("actor: closed")

// Actor is a single-goroutine job runner.
type Actor struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	timers map[*time.Timer]struct{}
}

// New starts an actor.
func New() *Actor {
	a := &Actor{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		if len(a.jobs) == 0 {
			if a.closed {
				a.mu.Unlock()
				return
			}
			a.mu.Unlock()
			<-a.wake
			continue
		}
		job := a.jobs[0]
		a.jobs[0] = nil
		a.jobs = a.jobs[1:]
		a.mu.Unlock()
		job()
	}
}

// Submit enqueues job. Jobs run in submission order.
func (a *Actor) Submit(job func()) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.jobs = append(a.jobs, job)
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *Actor) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// RunDelayed submits job after d. The returned function cancels it.
func (a *Actor) RunDelayed(d time.Duration, job func()) (cancel func()) {
	var t *time.Timer
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return func() {}
	}
	t = time.AfterFunc(d, func() {
		a.mu.Lock()
		delete(a.timers, t)
		a.mu.Unlock()
		_ = a.Submit(job)
	})
	a.timers[t] = struct{}{}
	return func() {
		if t.Stop() {
			a.mu.Lock()
			delete(a.timers, t)
			a.mu.Unlock()
		}
	}
}

// Call runs fn on the actor and waits for it.
func (a *Actor) Call(fn func()) error {
	done := make(chan struct{})
	if err := a.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// Close stops accepting jobs, runs the ones already queued and waits for the
// goroutine to exit. Calling Close from a job would deadlock; use CloseAsync.
func (a *Actor) Close() {
	a.CloseAsync()
	<-a.done
}

// CloseAsync stops accepting jobs without waiting.
func (a *Actor) CloseAsync() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		for t := range a.timers {
			t.Stop()
		}
		a.timers = nil
	}
	a.mu.Unlock()
	a.signal()
}

// Done is closed once the actor goroutine exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Condition coalesces signals into at most one queued run of its job.
type Condition struct {
	actor   *Actor
	job     func()
	mu      sync.Mutex
	pending bool
}

// NewCondition returns a condition that runs job on a.
func (a *Actor) NewCondition(job func()) *Condition {
	return &Condition{actor: a, job: job}
}

// Signal schedules the job unless a run is already queued. Safe from any
// goroutine.
func (c *Condition) Signal() {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()
	err := c.actor.Submit(func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		c.job()
	})
	if err != nil {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}
}
