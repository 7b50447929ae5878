package jobsengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimeoutFacade is a thin set_timeout/set_interval/clear_* wrapper built
// atop a single job type dedicated to running caller-supplied callbacks on
// a schedule. Handles are uuid.UUID values rather than reused JobIDs, so a
// caller holding both a timer handle and a job id can never confuse the
// two — the job id backing a timer is an implementation detail the facade
// keeps internally.
type TimeoutFacade struct {
	registry *Registry
	state    *StateController
	group    Group
	typ      JobType

	mu      sync.Mutex
	current map[uuid.UUID]JobID // original handle -> current backing job id
	interval map[uuid.UUID]time.Duration
}

// timerRequest is the opaque request payload carried by every timer job:
// the handle it belongs to and the callback to run. An interval's period
// is kept in TimeoutFacade.interval, not here.
type timerRequest struct {
	handle uuid.UUID
	fn     func()
}

// NewTimeoutFacade wires a dedicated group/type pair into cfg for running
// timer callbacks and returns a facade that is not yet bound to an engine
// (see Bind). Call this before New(cfg, ...): New reads cfg's groups and
// types once, so a timer group added afterwards is never registered.
func NewTimeoutFacade(cfg *Config, group Group, timerType JobType, threadsCount int) *TimeoutFacade {
	tf := &TimeoutFacade{
		group:    group,
		typ:      timerType,
		current:  make(map[uuid.UUID]JobID),
		interval: make(map[uuid.UUID]time.Duration),
	}
	if threadsCount <= 0 {
		threadsCount = 1
	}
	cfg.Groups[group] = GroupConfig{ThreadsCount: threadsCount, BulkCount: threadsCount}
	cfg.Types[timerType] = TypeConfig{
		Group: group,
		ProcessingFn: func(batch []*Item, _ TypeConfig) time.Duration {
			for _, it := range batch {
				req, ok := it.Request().(timerRequest)
				if !ok {
					continue
				}
				tf.runCallback(req.fn)
				tf.state.SetFinished(it.id)
			}
			return 0
		},
	}
	return tf
}

// Bind must be called once the Engine has been constructed from the same
// Config passed to NewTimeoutFacade.
func (tf *TimeoutFacade) Bind(e *Engine) {
	tf.registry = e.registry
	tf.state = e.state
}

func (tf *TimeoutFacade) runCallback(fn func()) {
	defer func() { recover() }()
	fn()
}

// SetTimeout schedules fn to run once after d elapses. Returns an opaque
// handle usable with ClearTimeout.
func (tf *TimeoutFacade) SetTimeout(d time.Duration, fn func()) uuid.UUID {
	handle := uuid.New()
	id, _ := tf.registry.PushBackAndStartDelayFor(d, Normal, tf.typ, timerRequest{handle: handle, fn: fn})
	tf.mu.Lock()
	tf.current[handle] = id
	tf.mu.Unlock()
	return handle
}

// ClearTimeout cancels a pending (or already-fired, in which case it's a
// harmless no-op) timeout.
func (tf *TimeoutFacade) ClearTimeout(handle uuid.UUID) bool {
	tf.mu.Lock()
	id, ok := tf.current[handle]
	delete(tf.current, handle)
	tf.mu.Unlock()
	if !ok {
		return false
	}
	return tf.state.SetCancelled(id)
}

// SetInterval schedules fn to run every d, rescheduling a new delayed job
// each firing. The facade tracks the mapping from the original handle
// returned to the caller to whichever job id is currently pending, so
// ClearInterval works across reschedules.
func (tf *TimeoutFacade) SetInterval(d time.Duration, fn func()) uuid.UUID {
	handle := uuid.New()
	tf.mu.Lock()
	tf.interval[handle] = d
	tf.mu.Unlock()
	tf.armInterval(handle, d, fn)
	return handle
}

func (tf *TimeoutFacade) armInterval(handle uuid.UUID, d time.Duration, fn func()) {
	wrapped := func() {
		fn()
		tf.mu.Lock()
		_, active := tf.interval[handle]
		tf.mu.Unlock()
		if active {
			tf.armInterval(handle, d, fn)
		}
	}
	id, _ := tf.registry.PushBackAndStartDelayFor(d, Normal, tf.typ, timerRequest{handle: handle, fn: wrapped})
	tf.mu.Lock()
	tf.current[handle] = id
	tf.mu.Unlock()
}

// ClearInterval stops future reschedules and cancels whichever job backs
// the handle right now.
func (tf *TimeoutFacade) ClearInterval(handle uuid.UUID) bool {
	tf.mu.Lock()
	delete(tf.interval, handle)
	id, ok := tf.current[handle]
	delete(tf.current, handle)
	tf.mu.Unlock()
	if !ok {
		return false
	}
	return tf.state.SetCancelled(id)
}
