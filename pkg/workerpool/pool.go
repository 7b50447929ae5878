// Package workerpool implements a fixed-size pool of goroutines pulling
// work off a cancellable FIFO. It is adapted from the teacher's
// internal/worker.WorkerPool: the same register/Start/worker-loop shape,
// generalized from a map of per-type Executors processing one queue message
// each, to an arbitrary token T processed in bulk batches by one injected
// function. The jobs engine instantiates this with T = group name, so a
// popped batch means "these groups have pending work, run one dispatch pass
// for each".
package workerpool

import (
	"runtime"
	"sync"
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

// PanicHandler receives a panic recovered from a process callback.
type PanicHandler func(recovered any, stack string)

// Pool is a fixed-size pool of worker goroutines draining a LockQueue[T] in
// bulk and invoking process once per batch.
type Pool[T any] struct {
	queue     *waitqueue.LockQueue[T]
	process   func([]T)
	onPanic   PanicHandler
	bulkCount int

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New builds a Pool. bulkCount <= 0 is treated as 1 (pop one token at a
// time). onPanic may be nil, in which case a panicking process callback is
// recovered and silently swallowed — the worker goroutine always survives.
func New[T any](bulkCount int, process func([]T), onPanic PanicHandler) *Pool[T] {
	if bulkCount <= 0 {
		bulkCount = 1
	}
	return &Pool[T]{
		queue:     waitqueue.NewLockQueue[T](),
		process:   process,
		onPanic:   onPanic,
		bulkCount: bulkCount,
	}
}

// PushBack enqueues a single token for processing.
func (p *Pool[T]) PushBack(v T) int { return p.queue.PushBack(v) }

// PushBackDelay enqueues v after d elapses. Returns 1 immediately (the push
// itself cannot fail synchronously); if the pool has since exited, the
// deferred push is silently dropped, matching PushBack's own exit semantics.
func (p *Pool[T]) PushBackDelay(d time.Duration, v T) int {
	if d <= 0 {
		return p.queue.PushBack(v)
	}
	time.AfterFunc(d, func() { p.queue.PushBack(v) })
	return 1
}

// Size returns the number of tokens queued but not yet popped.
func (p *Pool[T]) Size() int { return p.queue.Size() }

// StartThreads launches n worker goroutines. Calling it more than once is a
// no-op — the pool's size is fixed at first start, matching the teacher's
// WorkerPool.Start (guarded by construction, not meant to be resized live).
func (p *Pool[T]) StartThreads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || n <= 0 {
		return
	}
	p.started = true
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for {
		batch, res := p.queue.WaitPopFrontBulk(p.bulkCount)
		switch res {
		case ResultElement:
			p.runBatch(batch)
		case ResultTimeout:
			continue
		case ResultExit:
			return
		}
	}
}

func (p *Pool[T]) runBatch(batch []T) {
	defer func() {
		if r := recover(); r != nil {
			if p.onPanic != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				p.onPanic(r, string(buf[:n]))
			}
		}
	}()
	p.process(batch)
}

// SignalExitForce abandons queued tokens immediately.
func (p *Pool[T]) SignalExitForce() { p.queue.SignalExitForce() }

// Wait signals exit-when-done and blocks until every worker goroutine has
// drained the queue and returned.
func (p *Pool[T]) Wait() {
	p.queue.SignalExitWhenDone()
	p.wg.Wait()
}

// WaitUntil is a bounded join.
func (p *Pool[T]) WaitUntil(deadline time.Time) Result {
	p.queue.SignalExitWhenDone()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case <-done:
			return ResultExit
		default:
			return ResultTimeout
		}
	}
	select {
	case <-done:
		return ResultExit
	case <-time.After(remaining):
		return ResultTimeout
	}
}
