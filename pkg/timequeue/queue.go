// Package timequeue implements a deadline-ordered min-heap queue used both
// for delayed job starts and for timeout watchdogs: entries become eligible
// for pop once their deadline has passed, and the wait loop recomputes its
// sleep target every time the heap's head changes rather than sleeping for
// a duration fixed at wait-entry time.
package timequeue

import (
	"container/heap"
	"time"

	"github.com/ternarybob/jobsengine/pkg/waitqueue"
)

// Result re-exports waitqueue.Result.
type Result = waitqueue.Result

const (
	ResultElement = waitqueue.ResultElement
	ResultTimeout = waitqueue.ResultTimeout
	ResultExit    = waitqueue.ResultExit
)

type entry[T any] struct {
	deadline time.Time
	seq      uint64
	payload  T
}

type minHeap[T any] []entry[T]

func (h minHeap[T]) Len() int { return len(h) }
func (h minHeap[T]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h minHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap[T]) Push(x any)   { *h = append(*h, x.(entry[T])) }
func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is a cancellable, deadline-ordered queue of T.
type Queue[T any] struct {
	cond *waitqueue.CancelCond
	h    minHeap[T]
	seq  uint64
}

// New returns an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{cond: waitqueue.New()}
}

func (q *Queue[T]) SignalExitForce()    { q.cond.SignalExitForce() }
func (q *Queue[T]) SignalExitWhenDone() { q.cond.SignalExitWhenDone() }
func (q *Queue[T]) IsExitForce() bool   { return q.cond.IsExitForce() }
func (q *Queue[T]) IsExit() bool        { return q.cond.IsExit() }

// Size returns the number of pending (not-yet-matured-and-popped) entries.
func (q *Queue[T]) Size() int {
	q.cond.Lock()
	defer q.cond.Unlock()
	return len(q.h)
}

// PushDeadline schedules v to become eligible at deadline. Returns 0 if the
// queue is no longer accepting work.
func (q *Queue[T]) PushDeadline(deadline time.Time, v T) int {
	q.cond.Lock()
	if q.cond.ExitForceLocked() || q.cond.ExitWhenDoneLocked() {
		q.cond.Unlock()
		return 0
	}
	earlierThanHead := len(q.h) == 0 || deadline.Before(q.h[0].deadline)
	q.seq++
	heap.Push(&q.h, entry[T]{deadline: deadline, seq: q.seq, payload: v})
	q.cond.Unlock()

	if earlierThanHead {
		// A waiter may be asleep until the old (later) head deadline; wake
		// everyone so they recompute against the new, earlier head.
		q.cond.NotifyAll()
	} else {
		q.cond.NotifyOne()
	}
	return 1
}

// PushDelay schedules v to become eligible after d elapses.
func (q *Queue[T]) PushDelay(d time.Duration, v T) int {
	return q.PushDeadline(time.Now().Add(d), v)
}

// WaitPop blocks until at least one entry has matured, or the queue exits.
func (q *Queue[T]) WaitPop() (T, Result) {
	vs, res := q.waitPopBulk(false, time.Time{}, 1)
	var zero T
	if len(vs) == 0 {
		return zero, res
	}
	return vs[0], res
}

func (q *Queue[T]) WaitPopFor(d time.Duration) (T, Result) {
	vs, res := q.waitPopBulk(true, time.Now().Add(d), 1)
	var zero T
	if len(vs) == 0 {
		return zero, res
	}
	return vs[0], res
}

func (q *Queue[T]) WaitPopUntil(deadline time.Time) (T, Result) {
	vs, res := q.waitPopBulk(true, deadline, 1)
	var zero T
	if len(vs) == 0 {
		return zero, res
	}
	return vs[0], res
}

// WaitPopBulk blocks until at least one entry has matured, returning up to
// maxCount matured entries. maxCount <= 0 means "all matured entries".
func (q *Queue[T]) WaitPopBulk(maxCount int) ([]T, Result) {
	return q.waitPopBulk(false, time.Time{}, maxCount)
}

func (q *Queue[T]) WaitPopBulkFor(d time.Duration, maxCount int) ([]T, Result) {
	return q.waitPopBulk(true, time.Now().Add(d), maxCount)
}

func (q *Queue[T]) WaitPopBulkUntil(deadline time.Time, maxCount int) ([]T, Result) {
	return q.waitPopBulk(true, deadline, maxCount)
}

// waitPopBulk drives its own loop rather than CancelCond.WaitPredicate
// because the wait target here isn't fixed at entry: it's min(outer
// deadline, current heap head), and the head can move earlier every time a
// new entry is pushed.
func (q *Queue[T]) waitPopBulk(useOuterDeadline bool, outerDeadline time.Time, maxCount int) ([]T, Result) {
	q.cond.Lock()
	defer q.cond.Unlock()

	for {
		if q.cond.ExitForceLocked() {
			return nil, ResultExit
		}

		now := time.Now()
		var out []T
		for len(q.h) > 0 && !q.h[0].deadline.After(now) {
			if maxCount > 0 && len(out) >= maxCount {
				break
			}
			it := heap.Pop(&q.h).(entry[T])
			out = append(out, it.payload)
		}
		if len(out) > 0 {
			return out, ResultElement
		}

		if q.cond.ExitWhenDoneLocked() && len(q.h) == 0 {
			return nil, ResultExit
		}
		if useOuterDeadline && !outerDeadline.After(now) {
			return nil, ResultTimeout
		}

		wakeDeadline := outerDeadline
		hasWake := useOuterDeadline
		if len(q.h) > 0 {
			if !hasWake || q.h[0].deadline.Before(wakeDeadline) {
				wakeDeadline = q.h[0].deadline
				hasWake = true
			}
		}

		if !hasWake {
			q.cond.WaitForeverLocked()
			continue
		}
		q.cond.WaitTimerLocked(wakeDeadline)
	}
}
