// Package eventloop provides a single-threaded cooperative dispatcher.
// Every task posted to a Loop runs to completion on one goroutine, in due
// order, so state touched only from tasks needs no further locking.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Handle identifies a scheduled task. The zero Handle is never issued.
type Handle uint64

// ErrStopped is returned by Call when the loop stops before the task runs.
var ErrStopped = errors.New("eventloop: stopped")

type timer struct {
	handle Handle
	due    time.Time
	period time.Duration // 0 for one-shot tasks
	seq    uint64
	fn     func()
	index  int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Loop is a timer-driven task queue.
type Loop struct {
	clock Clock

	mu      sync.Mutex
	timers  timerHeap
	pending map[Handle]*timer
	next    Handle
	seq     uint64

	wake    chan struct{}
	started atomic.Bool
	stopped chan struct{}
}

// New creates a Loop reading time from clock. A nil clock means RealClock.
func New(clock Clock) *Loop {
	if clock == nil {
		clock = RealClock()
	}
	return &Loop{
		clock:   clock,
		pending: make(map[Handle]*timer),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post schedules fn to run as soon as possible, after tasks already due.
func (l *Loop) Post(fn func()) Handle {
	return l.schedule(0, 0, fn)
}

// PostIn schedules fn to run once after d. A non-positive d behaves like Post.
func (l *Loop) PostIn(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	return l.schedule(d, 0, fn)
}

// PostEvery schedules fn to run every period, first after one period.
// Successive due times are computed from the previous due time, not from
// when fn actually ran, so a periodic task does not drift.
func (l *Loop) PostEvery(period time.Duration, fn func()) Handle {
	if period <= 0 {
		panic("eventloop: non-positive period for PostEvery")
	}
	return l.schedule(period, period, fn)
}

func (l *Loop) schedule(delay, period time.Duration, fn func()) Handle {
	l.mu.Lock()
	l.next++
	l.seq++
	t := &timer{
		handle: l.next,
		due:    l.clock.Now().Add(delay),
		period: period,
		seq:    l.seq,
		fn:     fn,
	}
	heap.Push(&l.timers, t)
	l.pending[t.handle] = t
	l.mu.Unlock()

	l.signal()
	return t.handle
}

// Cancel removes a scheduled task. It reports whether the task was still
// pending; cancelling twice, or cancelling the zero Handle, is a no-op.
func (l *Loop) Cancel(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.pending[h]
	if !ok {
		return false
	}
	delete(l.pending, h)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
	return true
}

// Pending returns the number of scheduled tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// popDue removes the earliest task due at or before limit. Periodic tasks
// are re-armed before they run so the task itself can cancel them.
func (l *Loop) popDue(limit time.Time) (*timer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return nil, false
	}
	t := l.timers[0]
	if t.due.After(limit) {
		return nil, false
	}
	heap.Pop(&l.timers)
	run := *t
	if t.period > 0 {
		l.seq++
		t.due = t.due.Add(t.period)
		t.seq = l.seq
		heap.Push(&l.timers, t)
	} else {
		delete(l.pending, t.handle)
	}
	return &run, true
}

func (l *Loop) nextDue() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].due, true
}

// RunDue runs every task that is due at the current clock reading and
// returns how many ran.
func (l *Loop) RunDue() int {
	n := 0
	for {
		t, ok := l.popDue(l.clock.Now())
		if !ok {
			return n
		}
		t.fn()
		n++
	}
}

// Advance moves a ManualClock forward by d, running each task at its due
// time along the way. It panics if the loop was not built on a ManualClock.
func (l *Loop) Advance(d time.Duration) int {
	mc, ok := l.clock.(*ManualClock)
	if !ok {
		panic("eventloop: Advance requires a ManualClock")
	}
	target := mc.Now().Add(d)
	n := 0
	for {
		t, ok := l.popDue(target)
		if !ok {
			break
		}
		mc.Set(t.due)
		t.fn()
		n++
	}
	mc.Set(target)
	return n
}

// Run dispatches tasks on the calling goroutine until ctx is done. A Loop
// is run at most once.
func (l *Loop) Run(ctx context.Context) error {
	l.started.Store(true)
	defer close(l.stopped)

	tm := time.NewTimer(time.Hour)
	defer tm.Stop()

	for {
		l.RunDue()

		wait := time.Hour
		if due, ok := l.nextDue(); ok {
			wait = due.Sub(l.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		tm.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-tm.C:
		}
	}
}

// Call runs fn on the loop goroutine and waits for it to finish. Before
// the first Run (or on a manually driven loop) fn runs inline. Once Run
// has returned Call fails with ErrStopped without running fn. Call must
// not be used from inside a task.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	if !l.started.Load() {
		fn()
		return nil
	}
	done := make(chan struct{})
	h := l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.Cancel(h)
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}
