package jobsengine

import (
	"sync/atomic"
	"time"

	"github.com/ternarybob/jobsengine/pkg/priorityqueue"
	"github.com/ternarybob/jobsengine/pkg/timequeue"
	"github.com/ternarybob/jobsengine/pkg/workerpool"
)

// PanicHandler observes a panic recovered from a user-supplied callback
// run on one of the engine's own goroutines (processing, children-finished,
// finished, the timeout watchdog). TimeoutFacade timer callbacks recover
// their own panics and discard them; those never reach this handler.
type PanicHandler func(recovered any, stack string)

// Engine is the top-level facade wiring the registry, state controller,
// group-keyed thread pool, and timeout watchdog together.
type Engine struct {
	config *Config
	types  map[JobType]TypeConfig

	registry *Registry
	state    *StateController
	tp       *threadPool

	timeout *timequeue.Thread[JobID]

	startedOnce atomic.Bool
	onPanic     PanicHandler
}

// New builds an Engine from cfg. Per-type callback slots left nil fall back
// to the engine-wide default, mirroring jobs_engine.h's
// apply_default_processing_function.
func New(cfg *Config, onPanic PanicHandler) *Engine {
	e := &Engine{config: cfg, onPanic: onPanic}
	e.types = make(map[JobType]TypeConfig, len(cfg.Types))
	for typ, tc := range cfg.Types {
		if tc.ProcessingFn == nil {
			tc.ProcessingFn = cfg.DefaultProcessingFn
		}
		if tc.FinishedFn == nil {
			tc.FinishedFn = cfg.DefaultFinishedFn
		}
		if tc.ChildrenFinishedFn == nil {
			tc.ChildrenFinishedFn = cfg.DefaultChildrenFinishedFn
		}
		e.types[typ] = tc
	}

	groups := make([]Group, 0, len(cfg.Groups))
	for g := range cfg.Groups {
		groups = append(groups, g)
	}

	levels := make([]priorityqueue.Level[Priority], 0, len(cfg.Engine.PriorityOrder))
	for _, p := range cfg.Engine.PriorityOrder {
		levels = append(levels, priorityqueue.Level[Priority]{Priority: p, Ratio: cfg.Engine.PriorityRatios[p]})
	}

	resolveGroup := func(typ JobType) (Group, bool) {
		tc, ok := e.types[typ]
		if !ok {
			return "", false
		}
		return tc.Group, true
	}

	e.registry = newRegistry(
		levels,
		groups,
		resolveGroup,
		e.onJobAdded,
		e.onJobCancelled,
		func(g Group) { e.tp.schedule(g) },
		onPanic,
	)
	e.state = newStateController(e.registry, e.onCompleted)
	e.tp = newThreadPool(cfg.Groups, e.doAction, workerpool.PanicHandler(onPanic))

	e.timeout = timequeue.NewThread[JobID](e.onTimeoutBatch, timequeue.PanicHandler(onPanic))
	e.timeout.Start()

	return e
}

// Registry exposes the submission surface.
func (e *Engine) Registry() *Registry { return e.registry }

// State exposes the state-transition surface.
func (e *Engine) State() *StateController { return e.state }

// StartThreads launches n worker goroutines in the group-scheduling thread
// pool. Idempotent after the first successful call.
func (e *Engine) StartThreads(n int) {
	if !e.startedOnce.CompareAndSwap(false, true) {
		return
	}
	e.tp.startThreads(n)
}

func (e *Engine) onJobAdded(it *Item) {
	tc, ok := e.types[it.typ]
	if !ok || tc.Timeout <= 0 {
		return
	}
	e.timeout.Queue().PushDelay(tc.Timeout, it.id)
}

// onJobCancelled marks a job Cancelled when JobsStart fails to enqueue it
// (unknown group, or the group queue rejecting the push during shutdown).
// A push refused by the delay queue does not reach this hook.
func (e *Engine) onJobCancelled(it *Item) {
	e.state.SetCancelled(it.id)
}

func (e *Engine) onTimeoutBatch(ids []JobID) {
	e.state.SetTimeoutBulk(ids)
}

// onCompleted is the completion cascade invoked by the state controller
// exactly once per terminal transition: invoke the finished callback,
// propagate to parents or erase the subtree.
func (e *Engine) onCompleted(it *Item) {
	tc, ok := e.types[it.typ]
	if ok && tc.FinishedFn != nil {
		tc.FinishedFn([]*Item{it})
	}

	if it.HasParents() {
		it.setProgress(100)
		for _, pid := range it.ParentIDs() {
			parent, ok := e.registry.get(pid)
			if !ok {
				continue
			}
			ptc, ok := e.types[parent.typ]
			if ok && ptc.ChildrenFinishedFn != nil {
				ptc.ChildrenFinishedFn(parent, it)
			} else {
				e.state.ApplyChildrenFinished(parent, it)
			}
		}
		return
	}

	e.registry.Erase(it.id, e.state.SetCancelled)
}

// doAction is the core dispatch pass for one group, invoked by the thread
// pool for each group token:
//  1. look up bulk_count for the group
//  2. non-blockingly pop up to bulk_count ids from the group's priority queue
//  3. CAS each resolved item to InProgress, skipping any that lost the race
//  4. bucket survivors by type, invoke each type's processing callback once
//     per type with the full bucket, merging the returned delay via max
//  5. push every item still InProgress into WaitChildren in bulk
func (e *Engine) doAction(g Group) (hasItems bool, delayNext time.Duration) {
	gc := e.config.Groups[g]
	bulkCount := gc.BulkCount
	if bulkCount <= 0 {
		bulkCount = 1
	}

	ids := e.registry.popGroupBatch(g, bulkCount)
	if len(ids) == 0 {
		return false, 0
	}

	items := e.registry.GetMany(ids)
	survivors := make([]*Item, 0, len(items))
	for _, it := range items {
		if e.state.SetState(it.id, InProgress) {
			survivors = append(survivors, it)
		}
	}

	buckets := make(map[JobType][]*Item)
	for _, it := range survivors {
		buckets[it.typ] = append(buckets[it.typ], it)
	}

	var maxDelay time.Duration
	for typ, batch := range buckets {
		tc, ok := e.types[typ]
		if !ok || tc.ProcessingFn == nil {
			continue
		}
		d := e.invokeProcessing(tc, batch)
		if d > maxDelay {
			maxDelay = d
		}
	}

	still := make([]JobID, 0, len(survivors))
	for _, it := range survivors {
		if it.State() == InProgress {
			still = append(still, it.id)
		}
	}
	e.state.SetWaitChildrenBulk(still)

	if maxDelay <= 0 {
		maxDelay = gc.DelayNextRequest
	}
	return true, maxDelay
}

// invokeProcessing runs a type's processing callback with panic recovery,
// so one misbehaving callback can't take the whole engine down. The panic
// is reported to onPanic with an empty stack; the batch's jobs that are
// still InProgress then go through doAction's WaitChildren step like any
// other batch (a childless job becomes Finished).
func (e *Engine) invokeProcessing(tc TypeConfig, batch []*Item) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			if e.onPanic != nil {
				e.onPanic(r, "")
			}
		}
	}()
	return tc.ProcessingFn(batch, tc)
}

// SignalExitForce aborts every subsystem immediately: in-flight processing
// callbacks are allowed to run to completion but no further work is
// accepted.
func (e *Engine) SignalExitForce() {
	e.registry.SignalExitForce()
	e.tp.signalExitForce()
	e.timeout.SignalExitForce()
}

// Wait performs the full ordered shutdown: delay queue drains first, then
// group queues seal and drain, then the worker pool joins, and finally the
// timeout queue is force-exited and joined last (it must keep running
// through the rest of shutdown so a timeout that matures mid-drain still
// lands).
func (e *Engine) Wait() {
	e.registry.SignalExitWhenDone()
	e.registry.DrainDelayThenSealGroups()
	e.tp.wait()
	e.timeout.SignalExitForce()
	e.timeout.Wait()
}

// WaitUntil is a bounded variant of Wait.
func (e *Engine) WaitUntil(deadline time.Time) workerpool.Result {
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case <-done:
			return workerpool.ResultExit
		default:
			return workerpool.ResultTimeout
		}
	}
	select {
	case <-done:
		return workerpool.ResultExit
	case <-time.After(remaining):
		return workerpool.ResultTimeout
	}
}

// Size returns the total number of live registry entries.
func (e *Engine) Size() int { return e.registry.Size() }

// Empty reports whether the registry is empty.
func (e *Engine) Empty() bool { return e.Size() == 0 }

// SizeDelayed returns the number of jobs parked in the delay queue.
func (e *Engine) SizeDelayed() int { return e.registry.SizeDelayed() }

// SizeProcessing returns the total number of jobs currently queued across
// every group's priority queue (awaiting a dispatch pass).
func (e *Engine) SizeProcessing() int {
	total := 0
	for g := range e.config.Groups {
		total += e.registry.QueueLen(g)
	}
	return total
}
