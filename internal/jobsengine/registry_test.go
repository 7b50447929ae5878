package jobsengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedulingTestRegistry(scheduled *[]Group) *Registry {
	levels := defaultTestLevels()
	resolve := func(typ JobType) (Group, bool) {
		if typ == "unrouted" {
			return "", false
		}
		return "g", true
	}
	onSchedule := func(g Group) {
		if scheduled != nil {
			*scheduled = append(*scheduled, g)
		}
	}
	return newRegistry(levels, []Group{"g"}, resolve, nil, nil, onSchedule, nil)
}

func TestRegistryPushBackDoesNotStart(t *testing.T) {
	r := newSchedulingTestRegistry(nil)
	id, n := r.PushBack("t", "req")
	require.Equal(t, 1, n)

	it, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, None, it.State())
	assert.Equal(t, 0, r.QueueLen("g"))
}

func TestRegistryPushBackUnroutedTypeIsRejected(t *testing.T) {
	r := newSchedulingTestRegistry(nil)
	id, n := r.PushBack("unrouted", "req")
	assert.Equal(t, 0, n)
	assert.Equal(t, JobID(0), id)
	assert.Equal(t, 0, r.Size())
}

func TestRegistryPushBackAndStartEnqueuesAndSchedules(t *testing.T) {
	var scheduled []Group
	r := newSchedulingTestRegistry(&scheduled)

	id, n := r.PushBackAndStart(Normal, "t", "req")
	require.Equal(t, 1, n)
	assert.Equal(t, 1, r.QueueLen("g"))
	assert.Equal(t, []Group{"g"}, scheduled)

	ids := r.popGroupBatch("g", 1)
	assert.Equal(t, []JobID{id}, ids)
}

func TestRegistryChildLinkEstablishesBothSides(t *testing.T) {
	r := newSchedulingTestRegistry(nil)
	parentID, _ := r.PushBack("t", "parent-req")
	childID, n := r.PushBackChild(parentID, "t", "child-req")
	require.Equal(t, 1, n)

	parent, _ := r.Get(parentID)
	child, _ := r.Get(childID)
	assert.True(t, parent.HasChildren())
	assert.True(t, child.HasParents())
	assert.Equal(t, []JobID{childID}, parent.ChildIDs())
	assert.Equal(t, []JobID{parentID}, child.ParentIDs())
}

func TestRegistryEraseCascadesToChildrenAndCancelsIncomplete(t *testing.T) {
	r := newSchedulingTestRegistry(nil)
	var cancelled []JobID
	cancel := func(id JobID) bool {
		cancelled = append(cancelled, id)
		return true
	}

	parentID, _ := r.PushBack("t", nil)
	childID, _ := r.PushBackChild(parentID, "t", nil)

	r.Erase(parentID, cancel)

	_, parentStillThere := r.Get(parentID)
	_, childStillThere := r.Get(childID)
	assert.False(t, parentStillThere)
	assert.False(t, childStillThere)
	assert.Equal(t, []JobID{childID, parentID}, cancelled, "children erase before their parent, both not yet terminal")
}

func TestRegistryJobsStartUnknownGroupInvokesCancelledHook(t *testing.T) {
	var cancelledIDs []JobID
	levels := defaultTestLevels()
	resolve := func(JobType) (Group, bool) { return "ghost-group", true }
	r := newRegistry(levels, []Group{"g"}, resolve, nil, func(it *Item) {
		cancelledIDs = append(cancelledIDs, it.id)
	}, nil, nil)

	id, n := r.PushBackAndStart(Normal, "t", nil)
	assert.Equal(t, 1, n, "registration itself still succeeds")
	assert.Equal(t, []JobID{id}, cancelledIDs, "starting onto an unconfigured group must invoke on_job_cancelled")
}

func TestRegistryDelayedStartMaturesOntoGroupQueue(t *testing.T) {
	var scheduled []Group
	r := newSchedulingTestRegistry(&scheduled)

	id, n := r.PushBackAndStartDelayFor(15*time.Millisecond, Normal, "t", nil)
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		return r.QueueLen("g") == 1
	}, time.Second, 2*time.Millisecond)

	ids := r.popGroupBatch("g", 1)
	assert.Equal(t, []JobID{id}, ids)
}

func TestRegistryShutdownDrainsDelayBeforeSealingGroups(t *testing.T) {
	r := newSchedulingTestRegistry(nil)

	id, n := r.PushBackAndStartDelayFor(20*time.Millisecond, Normal, "t", nil)
	require.Equal(t, 1, n)

	// DrainDelayThenSealGroups now also blocks until the group queue it
	// seals has actually been popped empty, so a consumer must be polling
	// concurrently or the drain-wait never returns - exactly the contract
	// a real dispatch loop satisfies in production.
	popped := make(chan JobID, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if ids := r.popGroupBatch("g", 1); len(ids) == 1 {
				popped <- ids[0]
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	r.SignalExitWhenDone()
	r.DrainDelayThenSealGroups()

	select {
	case got := <-popped:
		assert.Equal(t, id, got, "a delayed job maturing during graceful shutdown must still reach its group queue and be drained")
	case <-time.After(time.Second):
		t.Fatal("the matured delayed job was never popped off its group queue")
	}

	newID, _ := r.register("t", nil)
	assert.Equal(t, 0, r.JobsStart(Normal, newID.id), "the group queue must be sealed once the delay queue has drained")
}
