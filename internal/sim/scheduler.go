// Package sim is a single-threaded discrete-event scheduler on a virtual
// clock. Callbacks scheduled for the same instant run in scheduling order.
package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrStopped = errors.New("sim: scheduler stopped")
	ErrPast    = errors.New("sim: event scheduled in the past")
)

type event struct {
	at  time.Duration
	seq uint64
	fn  func()
}

type queue []*event

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*event)) }
func (q *queue) Pop() any {
	old := *q
	ev := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return ev
}

// Scheduler owns the virtual clock. It is not safe for concurrent use; every
// callback runs on the goroutine that called Run.
type Scheduler struct {
	now     time.Duration
	seq     uint64
	events  queue
	stopped bool
	err     error
	// Processed counts executed callbacks.
	Processed uint64
}

func New() *Scheduler {
	return &Scheduler{}
}

// Now returns the current virtual time since the start of the simulation.
func (s *Scheduler) Now() time.Duration { return s.now }

// Schedule runs fn after delay. A negative delay is rejected.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) error {
	if delay < 0 {
		return fmt.Errorf("%w: delay %s", ErrPast, delay)
	}
	return s.At(s.now+delay, fn)
}

// At runs fn at absolute virtual time at.
func (s *Scheduler) At(at time.Duration, fn func()) error {
	if s.stopped {
		return ErrStopped
	}
	if at < s.now {
		return fmt.Errorf("%w: %s before %s", ErrPast, at, s.now)
	}
	s.seq++
	heap.Push(&s.events, &event{at: at, seq: s.seq, fn: fn})
	return nil
}

// Stop ends Run after the current callback. Pending events are dropped.
func (s *Scheduler) Stop() {
	s.stopped = true
}

// Fail stops the scheduler and makes Run return err. The first failure wins.
func (s *Scheduler) Fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.stopped = true
}

// Pending returns the number of queued events.
func (s *Scheduler) Pending() int { return len(s.events) }

// Run executes events in time order until the queue drains, Stop or Fail is
// called, or ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for !s.stopped && len(s.events) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := heap.Pop(&s.events).(*event)
		s.now = ev.at
		ev.fn()
		s.Processed++
	}
	log.Debug().
		Dur("virtual_time", s.now).
		Uint64("events", s.Processed).
		Int("pending", len(s.events)).
		Msg("sim.Run finished")
	if s.err != nil {
		return s.err
	}
	return nil
}
