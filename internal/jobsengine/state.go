package jobsengine

// StateController mediates every state transition and the parent/child
// aggregation rules. It owns no data of its own — every method operates on
// Items fetched from a Registry — but every transition that lands on a
// terminal state notifies the engine's onCompleted hook exactly once,
// guaranteed by state monotonicity (casState only ever succeeds once per
// strictly-higher target).
type StateController struct {
	registry    *Registry
	onCompleted func(*Item)
}

func newStateController(registry *Registry, onCompleted func(*Item)) *StateController {
	return &StateController{registry: registry, onCompleted: onCompleted}
}

// SetProgress advances progress (monotonic, clamped to [0,100]). Reaching
// 100 forces the Finished transition, mirroring jobs_progress's rule in the
// reference state machine.
func (sc *StateController) SetProgress(id JobID, progress int) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	changed := it.setProgress(progress)
	if progress >= 100 {
		sc.transition(it, Finished)
	}
	return changed
}

// SetResponse stores a response payload without affecting state.
func (sc *StateController) SetResponse(id JobID, response any) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	it.setResponse(response)
	return true
}

// SetFinished transitions id to Finished, forcing progress to 100 and
// optionally storing a response.
func (sc *StateController) SetFinished(id JobID, response ...any) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	if len(response) > 0 {
		it.setResponse(response[0])
	}
	it.setProgress(100)
	return sc.transition(it, Finished)
}

// SetFinishedBulk applies SetFinished to every id, reporting how many
// actually advanced. Supplemental bulk variant ported from
// jobs_state_impl.h's vector overloads, exposed for callers that already
// hold a batch of ids (the dispatch loop's own bulk transition uses
// SetWaitChildrenBulk).
func (sc *StateController) SetFinishedBulk(ids []JobID) int {
	n := 0
	for _, id := range ids {
		if sc.SetFinished(id) {
			n++
		}
	}
	return n
}

// SetFailed transitions id to Failed.
func (sc *StateController) SetFailed(id JobID, response ...any) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	if len(response) > 0 {
		it.setResponse(response[0])
	}
	return sc.transition(it, Failed)
}

func (sc *StateController) SetFailedBulk(ids []JobID) int {
	n := 0
	for _, id := range ids {
		if sc.SetFailed(id) {
			n++
		}
	}
	return n
}

// SetCancelled transitions id to Cancelled.
func (sc *StateController) SetCancelled(id JobID) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	return sc.transition(it, Cancelled)
}

func (sc *StateController) SetCancelledBulk(ids []JobID) int {
	n := 0
	for _, id := range ids {
		if sc.SetCancelled(id) {
			n++
		}
	}
	return n
}

// SetTimeout transitions id to Timeout, unless the item already reached
// Finished — a race between the worker completing the job and the watchdog
// firing must resolve in the worker's favor, ported verbatim from
// jobs_apply_state's special case.
func (sc *StateController) SetTimeout(id JobID) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	if it.State() == Finished {
		return false
	}
	return sc.transition(it, Timeout)
}

func (sc *StateController) SetTimeoutBulk(ids []JobID) int {
	n := 0
	for _, id := range ids {
		if sc.SetTimeout(id) {
			n++
		}
	}
	return n
}

// SetWaitChildren requests the WaitChildren transition. An item with no
// live children collapses immediately to Finished instead, since nothing
// would ever drive a childless WaitChildren job forward.
func (sc *StateController) SetWaitChildren(id JobID) bool {
	it, ok := sc.registry.get(id)
	if !ok {
		return false
	}
	if !it.HasChildren() {
		return sc.transition(it, Finished)
	}
	return sc.transition(it, WaitChildren)
}

func (sc *StateController) SetWaitChildrenBulk(ids []JobID) int {
	n := 0
	for _, id := range ids {
		if sc.SetWaitChildren(id) {
			n++
		}
	}
	return n
}

// SetState is the generic single-item state transition, enforcing the same
// monotonicity rule as every specific setter above.
func (sc *StateController) SetState(id JobID, target State, response ...any) bool {
	switch target {
	case Finished:
		return sc.SetFinished(id, response...)
	case Failed:
		return sc.SetFailed(id, response...)
	case Cancelled:
		return sc.SetCancelled(id)
	case Timeout:
		return sc.SetTimeout(id)
	case WaitChildren:
		return sc.SetWaitChildren(id)
	default:
		it, ok := sc.registry.get(id)
		if !ok {
			return false
		}
		return sc.transition(it, target)
	}
}

// transition applies the CAS and, on landing in a terminal state, invokes
// onCompleted exactly once (guaranteed by casState only ever succeeding
// once per strictly-higher target).
func (sc *StateController) transition(it *Item, target State) bool {
	if !it.casState(target) {
		return false
	}
	if target.Complete() && sc.onCompleted != nil {
		sc.onCompleted(it)
	}
	return true
}

// AggregateChildren derives a parent's state and progress from its
// children's current states, ported verbatim in meaning from
// jobs_state_impl.h's get_children_states:
//   - any child in a terminal-unsuccessful state forces Failed at progress 100
//   - else, if every child reached Finished, the parent reaches Finished at
//     progress 100
//   - else the parent sits at WaitChildren with progress equal to the
//     integer mean of children's progress (terminal children count as 100)
func (sc *StateController) AggregateChildren(parent *Item) (State, int) {
	childIDs := parent.ChildIDs()
	if len(childIDs) == 0 {
		return Finished, 100
	}

	allFinished := true
	sum := 0
	for _, cid := range childIDs {
		child, ok := sc.registry.get(cid)
		if !ok {
			continue
		}
		st := child.State()
		if st.Unsuccessful() {
			return Failed, 100
		}
		if st != Finished {
			allFinished = false
			sum += child.Progress()
		} else {
			sum += 100
		}
	}
	if allFinished {
		return Finished, 100
	}
	return WaitChildren, sum / len(childIDs)
}

// ApplyChildrenFinished is the default children_finished callback: it
// re-runs the aggregator and either finalizes the parent's terminal state
// or advances its progress.
func (sc *StateController) ApplyChildrenFinished(parent *Item, _ *Item) {
	state, progress := sc.AggregateChildren(parent)
	switch state {
	case Finished:
		sc.SetFinished(parent.id)
	case Failed:
		sc.SetFailed(parent.id)
	default:
		sc.SetProgress(parent.id, progress)
	}
}
