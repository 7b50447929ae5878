package jobsengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/jobsengine/pkg/workerpool"
)

// groupState tracks one group's configured parallelism cap and how many
// dispatch passes are currently running, mutated under its own lock —
// independent of the registry's lock, per the reference model's "running
// counter per group mutated under its own lock" rule. An optional rate
// limiter throttles how often the dispatch loop may invoke do_action for
// this group, the engine's domain-stack analogue of the teacher's
// per-upstream rate.Limiter (internal/services/navexa/eodhd clients).
type groupState struct {
	mu                sync.Mutex
	configuredThreads int
	running           int
	delayNextRequest  time.Duration
	limiter           *rate.Limiter
}

// threadPool is the group-keyed scheduling layer over workerpool.Pool[Group]:
// it caps how many of a group's dispatch passes may run concurrently and
// unconditionally re-arms a group for another pass whenever the last pass
// reported it actually processed something, ported from
// jobs_thread_pool_impl.h's jobs_action_start/jobs_action_end pair.
type threadPool struct {
	pool     *workerpool.Pool[Group]
	groups   map[Group]*groupState
	doAction func(Group) (hasItems bool, delayNext time.Duration)
}

func newThreadPool(groups map[Group]GroupConfig, doAction func(Group) (bool, time.Duration), onPanic workerpool.PanicHandler) *threadPool {
	tp := &threadPool{
		groups:   make(map[Group]*groupState, len(groups)),
		doAction: doAction,
	}
	for g, cfg := range groups {
		threads := cfg.ThreadsCount
		if threads <= 0 {
			threads = 1
		}
		st := &groupState{configuredThreads: threads, delayNextRequest: cfg.DelayNextRequest}
		if cfg.RateLimitPerSec > 0 {
			burst := cfg.RateLimitBurst
			if burst <= 0 {
				burst = 1
			}
			st.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)
		}
		tp.groups[g] = st
	}
	tp.pool = workerpool.New[Group](1, tp.processBatch, onPanic)
	return tp
}

func (tp *threadPool) startThreads(n int) { tp.pool.StartThreads(n) }

// schedule is jobs_schedule: consults running < configured and, if there is
// budget, increments running and pushes a single group token into the
// worker pool's lock queue.
func (tp *threadPool) schedule(g Group) {
	st, ok := tp.groups[g]
	if !ok {
		return
	}
	st.mu.Lock()
	if st.running >= st.configuredThreads {
		st.mu.Unlock()
		return
	}
	st.running++
	st.mu.Unlock()
	if tp.pool.PushBack(g) == 0 {
		st.mu.Lock()
		st.running--
		st.mu.Unlock()
	}
}

func (tp *threadPool) rearm(g Group, st *groupState, delay time.Duration) {
	st.mu.Lock()
	if st.running >= st.configuredThreads {
		st.mu.Unlock()
		return
	}
	st.running++
	st.mu.Unlock()

	if delay <= 0 {
		delay = st.delayNextRequest
	}
	// A push only fails (returns 0) once the pool's token queue has been
	// sealed, which Engine.Wait only does after every group queue has
	// already drained — so a dropped push here never strands real
	// backlog, but it does mean no processBatch will ever run to decrement
	// st.running for this token. Undo the increment above so running
	// doesn't drift upward forever across repeated shutdown attempts.
	var pushed int
	if delay > 0 {
		pushed = tp.pool.PushBackDelay(delay, g)
	} else {
		pushed = tp.pool.PushBack(g)
	}
	if pushed == 0 {
		st.mu.Lock()
		st.running--
		st.mu.Unlock()
	}
}

// processBatch is the worker pool's per-token body: call the engine's
// do_action for each group token, decrement running, then — if the call
// reported has_items (meaning this pass actually processed something, not
// "more is still queued") — potentially re-arm the group honoring its
// configured inter-request delay.
func (tp *threadPool) processBatch(tokens []Group) {
	for _, g := range tokens {
		st, ok := tp.groups[g]
		if !ok {
			continue
		}
		if st.limiter != nil {
			// Throttle the dispatch pass itself, not the worker pool: a
			// blocked Wait here holds this worker, matching the contract
			// that a processing callback may steal a worker for its
			// duration (spec.md §5).
			_ = st.limiter.Wait(context.Background())
		}
		hasItems, delayNext := tp.doAction(g)

		st.mu.Lock()
		st.running--
		st.mu.Unlock()

		if hasItems {
			tp.rearm(g, st, delayNext)
		}
	}
}

func (tp *threadPool) signalExitForce() { tp.pool.SignalExitForce() }
func (tp *threadPool) wait()            { tp.pool.Wait() }
func (tp *threadPool) waitUntil(deadline time.Time) workerpool.Result {
	return tp.pool.WaitUntil(deadline)
}
