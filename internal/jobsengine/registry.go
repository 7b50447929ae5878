package jobsengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/jobsengine/pkg/priorityqueue"
	"github.com/ternarybob/jobsengine/pkg/timequeue"
)

// delayedEntry is the payload carried by the delay time-queue: a job
// waiting to be pushed onto its group's priority queue once its deadline
// matures.
type delayedEntry struct {
	priority Priority
	id       JobID
}

// Registry owns the id-to-item map, one priority queue per configured
// group, and the delay time-queue for "start later" jobs. It is the only
// place that mutates parent/child links, all under its own mutex — reads of
// those links elsewhere assume they're stable once a job has been
// scheduled.
type Registry struct {
	mu    sync.Mutex
	items map[JobID]*Item
	nextID atomic.Uint64

	resolveGroup func(JobType) (Group, bool)
	groupQueues  map[Group]*priorityqueue.Queue[JobID, Priority]

	delay *timequeue.Thread[delayedEntry]

	onJobAdded     func(*Item)
	onJobCancelled func(*Item)
	onSchedule     func(Group)
	onPanic        func(recovered any, stack string)
}

func newRegistry(
	levels []priorityqueue.Level[Priority],
	groups []Group,
	resolveGroup func(JobType) (Group, bool),
	onJobAdded func(*Item),
	onJobCancelled func(*Item),
	onSchedule func(Group),
	onPanic func(recovered any, stack string),
) *Registry {
	r := &Registry{
		items:          make(map[JobID]*Item),
		resolveGroup:   resolveGroup,
		groupQueues:    make(map[Group]*priorityqueue.Queue[JobID, Priority]),
		onJobAdded:     onJobAdded,
		onJobCancelled: onJobCancelled,
		onSchedule:     onSchedule,
		onPanic:        onPanic,
	}
	for _, g := range groups {
		r.groupQueues[g] = priorityqueue.New[JobID](levels)
	}
	r.delay = timequeue.NewThread[delayedEntry](r.onDelayBatch, onPanic)
	r.delay.Start()
	return r
}

func (r *Registry) onDelayBatch(batch []delayedEntry) {
	for _, e := range batch {
		r.JobsStart(e.priority, e.id)
	}
}

func (r *Registry) get(id JobID) (*Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	return it, ok
}

// Get returns a shared, non-owning handle to the item identified by id.
func (r *Registry) Get(id JobID) (*Item, bool) { return r.get(id) }

// GetMany resolves a batch of ids, skipping any that no longer exist.
func (r *Registry) GetMany(ids []JobID) []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (r *Registry) register(typ JobType, request any) (*Item, int) {
	grp, ok := r.resolveGroup(typ)
	if !ok {
		return nil, 0
	}
	id := JobID(r.nextID.Add(1))
	it := newItem(id, typ, grp, request)

	r.mu.Lock()
	r.items[id] = it
	r.mu.Unlock()

	if r.onJobAdded != nil {
		r.onJobAdded(it)
	}
	return it, 1
}

// PushBack registers a job in state None without starting it; jobs_start
// (or one of the *AndStart variants) must be called to enqueue it.
func (r *Registry) PushBack(typ JobType, request any) (JobID, int) {
	it, n := r.register(typ, request)
	if n == 0 {
		return 0, 0
	}
	return it.id, 1
}

// PushBackAndStart registers then immediately enqueues the job on its
// group's priority queue at prio.
func (r *Registry) PushBackAndStart(prio Priority, typ JobType, request any) (JobID, int) {
	it, n := r.register(typ, request)
	if n == 0 {
		return 0, 0
	}
	r.JobsStart(prio, it.id)
	return it.id, 1
}

// PushBackChild registers a child and establishes the bidirectional
// parent/child link atomically under the registry lock; the child is not
// started.
func (r *Registry) PushBackChild(parentID JobID, typ JobType, request any) (JobID, int) {
	it, n := r.register(typ, request)
	if n == 0 {
		return 0, 0
	}
	if !r.link(parentID, it.id) {
		// Parent vanished between caller's check and here: the child still
		// exists standalone, matching the C++ behavior of leaving the child
		// registered even if the link step silently fails.
		return it.id, 1
	}
	return it.id, 1
}

// PushBackAndStartChild is PushBackChild plus an immediate start.
func (r *Registry) PushBackAndStartChild(parentID JobID, prio Priority, typ JobType, request any) (JobID, int) {
	id, n := r.PushBackChild(parentID, typ, request)
	if n == 0 {
		return 0, 0
	}
	r.JobsStart(prio, id)
	return id, 1
}

// PushBackAndStartDelayFor registers a job then schedules it to start after
// d elapses.
func (r *Registry) PushBackAndStartDelayFor(d time.Duration, prio Priority, typ JobType, request any) (JobID, int) {
	it, n := r.register(typ, request)
	if n == 0 {
		return 0, 0
	}
	r.delay.Queue().PushDelay(d, delayedEntry{priority: prio, id: it.id})
	return it.id, 1
}

// PushBackAndStartDelayUntil registers a job then schedules it to start at
// the given deadline.
func (r *Registry) PushBackAndStartDelayUntil(deadline time.Time, prio Priority, typ JobType, request any) (JobID, int) {
	it, n := r.register(typ, request)
	if n == 0 {
		return 0, 0
	}
	r.delay.Queue().PushDeadline(deadline, delayedEntry{priority: prio, id: it.id})
	return it.id, 1
}

// PushBackBulk is the bulk registration entry point recovered from
// jobs_queue_impl.h's vector push_back overload: register many jobs of the
// same type in one pass.
func (r *Registry) PushBackBulk(typ JobType, requests []any) []JobID {
	out := make([]JobID, 0, len(requests))
	for _, req := range requests {
		if id, n := r.PushBack(typ, req); n > 0 {
			out = append(out, id)
		}
	}
	return out
}

// PushBackAndStartBulk is the bulk push_back_and_start overload.
func (r *Registry) PushBackAndStartBulk(prio Priority, typ JobType, requests []any) []JobID {
	out := make([]JobID, 0, len(requests))
	for _, req := range requests {
		if id, n := r.PushBackAndStart(prio, typ, req); n > 0 {
			out = append(out, id)
		}
	}
	return out
}

// JobsStart pushes id onto its group's priority queue at prio. On failure
// (unknown group, or the queue rejecting the push because it is shutting
// down) the engine's onJobCancelled hook is invoked.
func (r *Registry) JobsStart(prio Priority, id JobID) int {
	it, ok := r.get(id)
	if !ok {
		return 0
	}
	q, ok := r.groupQueues[it.grp]
	if !ok {
		if r.onJobCancelled != nil {
			r.onJobCancelled(it)
		}
		return 0
	}
	if n := q.PushBack(prio, id); n == 0 {
		if r.onJobCancelled != nil {
			r.onJobCancelled(it)
		}
		return 0
	}
	if r.onSchedule != nil {
		r.onSchedule(it.grp)
	}
	return 1
}

// JobsStartDelayFor schedules an already-registered id to start after d
// elapses, without re-registering it.
func (r *Registry) JobsStartDelayFor(d time.Duration, prio Priority, id JobID) int {
	if _, ok := r.get(id); !ok {
		return 0
	}
	return r.delay.Queue().PushDelay(d, delayedEntry{priority: prio, id: id})
}

// JobsStartDelayUntil is the absolute-deadline variant of JobsStartDelayFor.
func (r *Registry) JobsStartDelayUntil(deadline time.Time, prio Priority, id JobID) int {
	if _, ok := r.get(id); !ok {
		return 0
	}
	return r.delay.Queue().PushDeadline(deadline, delayedEntry{priority: prio, id: id})
}

// LinkParentChild links an already-submitted parent and child pair without
// requiring the child to have been created via a *Child submission variant
// — useful for late-binding a dependency.
func (r *Registry) LinkParentChild(parentID, childID JobID) bool {
	return r.link(parentID, childID)
}

func (r *Registry) link(parentID, childID JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.items[parentID]
	if !ok {
		return false
	}
	child, ok := r.items[childID]
	if !ok {
		return false
	}
	parent.childIDs = append(parent.childIDs, childID)
	parent.hasChildren.Store(true)
	child.parentIDs = append(child.parentIDs, parentID)
	child.hasParents.Store(true)
	return true
}

// Erase removes id from the registry. If the job has children, they are
// recursively erased first. If the job is not yet in a terminal state, it
// is first transitioned to Cancelled.
func (r *Registry) Erase(id JobID, cancel func(JobID) bool) {
	it, ok := r.get(id)
	if !ok {
		return
	}
	for _, cid := range it.ChildIDs() {
		r.Erase(cid, cancel)
	}
	if !it.State().Complete() && cancel != nil {
		cancel(id)
	}
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// Size returns the total number of live registry entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// SizeDelayed returns the number of jobs currently parked in the delay
// queue awaiting maturation.
func (r *Registry) SizeDelayed() int { return r.delay.Queue().Size() }

// QueueLen returns the number of jobs queued (not yet popped) in one
// group's priority queue.
func (r *Registry) QueueLen(g Group) int {
	q, ok := r.groupQueues[g]
	if !ok {
		return 0
	}
	return q.Size()
}

// QueueLenAt returns the number of jobs queued at one priority level within
// one group's priority queue.
func (r *Registry) QueueLenAt(g Group, p Priority) int {
	q, ok := r.groupQueues[g]
	if !ok {
		return 0
	}
	return q.SizeAt(p)
}

// popGroupBatch is the non-blocking pop used by the engine's do_action:
// drain up to bulkCount ids from the group's priority queue without
// blocking if nothing is there.
func (r *Registry) popGroupBatch(g Group, bulkCount int) []JobID {
	q, ok := r.groupQueues[g]
	if !ok {
		return nil
	}
	ids, res := q.WaitPopFrontBulkFor(0, bulkCount)
	if res != priorityqueue.ResultElement {
		return nil
	}
	return ids
}

// SignalExitForce propagates immediately to the delay queue and every
// group priority queue, matching jobs_queue_impl.h's shutdown semantics:
// signal_exit_force hits every subsystem at once.
func (r *Registry) SignalExitForce() {
	r.delay.SignalExitForce()
	for _, q := range r.groupQueues {
		q.SignalExitForce()
	}
}

// SignalExitWhenDone only seals the delay queue. Group queues are sealed
// later, via DrainDelayThenSealGroups, once the delay queue has fully
// drained — a scheduled child must not be dropped before its deadline.
func (r *Registry) SignalExitWhenDone() {
	r.delay.Queue().SignalExitWhenDone()
}

// DrainDelayThenSealGroups blocks until the delay queue has delivered every
// entry it holds (including ones that mature only after the exit-when-done
// signal), then cascades exit-when-done to every group
// priority queue, then blocks again until each of those group queues has
// itself actually been popped empty by the dispatch loop. Ported from
// jobs_queue_impl.h's wait(): the dependency order is delay-queue fully
// drained, then group-queues sealed, then group-queues fully drained — a
// group queue that is merely sealed but still holds backlog has not
// satisfied "all jobs admitted before the signal reach a terminal state".
// This must be called before the scheduling layer beneath the group queues
// stops running (i.e. before threadPool.wait()), or nothing is left popping
// and WaitDrained blocks forever.
func (r *Registry) DrainDelayThenSealGroups() {
	r.delay.Wait()
	for _, q := range r.groupQueues {
		q.SignalExitWhenDone()
	}
	for _, q := range r.groupQueues {
		q.WaitDrained()
	}
}
