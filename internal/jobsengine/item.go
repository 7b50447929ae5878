package jobsengine

import "sync/atomic"

// Item is the unit of work the engine schedules: an id, a type, an atomic
// monotonic state and progress, request/response payloads, and parent/child
// id lists. Opaque request/response payloads are realized as `any` rather
// than a generic type parameter, matching how the teacher's own queue
// messages carry interface{}/json.RawMessage payloads.
//
// Parent/child lists are mutated exclusively by the Registry under its own
// lock; every other reader treats them as stable once a job has been
// scheduled.
type Item struct {
	id   JobID
	typ  JobType
	grp  Group

	state    atomic.Int64
	progress atomic.Int64

	request  any
	response atomic.Value // holds a responseBox

	hasParents  atomic.Bool
	hasChildren atomic.Bool

	parentIDs []JobID
	childIDs  []JobID
}

func newItem(id JobID, typ JobType, grp Group, request any) *Item {
	it := &Item{id: id, typ: typ, grp: grp, request: request}
	it.state.Store(int64(None))
	return it
}

func (it *Item) ID() JobID      { return it.id }
func (it *Item) Type() JobType  { return it.typ }
func (it *Item) Group() Group   { return it.grp }
func (it *Item) Request() any   { return it.request }

// responseBox lets Response hold a nil value: atomic.Value panics if Store
// is ever called with a different concrete type than its first Store, so a
// bare `any` response can't be stored directly once a nil has been stored.
type responseBox struct{ v any }

func (it *Item) Response() any {
	if b, ok := it.response.Load().(responseBox); ok {
		return b.v
	}
	return nil
}

func (it *Item) State() State {
	return State(it.state.Load())
}

func (it *Item) Progress() int {
	return int(it.progress.Load())
}

func (it *Item) HasParents() bool  { return it.hasParents.Load() }
func (it *Item) HasChildren() bool { return it.hasChildren.Load() }

// ParentIDs and ChildIDs return snapshots of the link lists. Safe to call
// without the registry lock once a job has been scheduled, per the
// teacher's "link once, read freely afterward" convention.
func (it *Item) ParentIDs() []JobID {
	out := make([]JobID, len(it.parentIDs))
	copy(out, it.parentIDs)
	return out
}

func (it *Item) ChildIDs() []JobID {
	out := make([]JobID, len(it.childIDs))
	copy(out, it.childIDs)
	return out
}

// casState attempts to advance state to target iff target is a strictly
// higher ordinal than the current state. Returns true if it advanced.
func (it *Item) casState(target State) bool {
	for {
		cur := State(it.state.Load())
		if target <= cur {
			return false
		}
		if it.state.CompareAndSwap(int64(cur), int64(target)) {
			return true
		}
	}
}

// setProgress advances progress to the max of its current value and p,
// clamped to [0,100]. Returns true if progress actually changed. Reaching
// 100 does not itself force a state transition here — callers (the state
// controller) apply that rule explicitly, since not every progress update
// goes through the public SetProgress API (e.g. the completion cascade
// forcing 100 on an already-terminal child).
func (it *Item) setProgress(p int) bool {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	for {
		cur := it.progress.Load()
		if int64(p) <= cur {
			return false
		}
		if it.progress.CompareAndSwap(cur, int64(p)) {
			return true
		}
	}
}

func (it *Item) setResponse(v any) {
	it.response.Store(responseBox{v: v})
}
