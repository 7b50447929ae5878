package jobsengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	levels := defaultTestLevels()
	return newRegistry(levels, []Group{"g"}, func(JobType) (Group, bool) { return "g", true }, nil, nil, nil, nil)
}

func TestStateControllerSetFinishedForcesProgressAndFiresOnCompletedOnce(t *testing.T) {
	r := newTestRegistry()
	var completedCount int
	sc := newStateController(r, func(*Item) { completedCount++ })

	it, n := r.register("t", "req")
	require.Equal(t, 1, n)

	assert.True(t, sc.SetFinished(it.id, "resp"))
	assert.Equal(t, Finished, it.State())
	assert.Equal(t, 100, it.Progress())
	assert.Equal(t, "resp", it.Response())
	assert.False(t, sc.SetFinished(it.id), "a second call must be a no-op")
	assert.Equal(t, 1, completedCount)
}

func TestStateControllerTimeoutIsNoOpAfterFinished(t *testing.T) {
	r := newTestRegistry()
	sc := newStateController(r, func(*Item) {})
	it, _ := r.register("t", "req")

	require.True(t, sc.SetFinished(it.id))
	assert.False(t, sc.SetTimeout(it.id), "timeout must lose the race against an already-finished job")
	assert.Equal(t, Finished, it.State())
}

func TestStateControllerWaitChildrenCollapsesWithoutChildren(t *testing.T) {
	r := newTestRegistry()
	sc := newStateController(r, func(*Item) {})
	it, _ := r.register("t", "req")

	assert.True(t, sc.SetWaitChildren(it.id))
	assert.Equal(t, Finished, it.State(), "a childless job must collapse straight to Finished")
}

func TestStateControllerAggregateChildrenAllSuccess(t *testing.T) {
	r := newTestRegistry()
	sc := newStateController(r, func(*Item) {})
	parent, _ := r.register("p", nil)
	c1, _ := r.register("c", nil)
	c2, _ := r.register("c", nil)
	require.True(t, r.link(parent.id, c1.id))
	require.True(t, r.link(parent.id, c2.id))

	sc.SetFinished(c1.id)
	sc.SetFinished(c2.id)

	state, progress := sc.AggregateChildren(parent)
	assert.Equal(t, Finished, state)
	assert.Equal(t, 100, progress)
}

func TestStateControllerAggregateChildrenFailurePropagates(t *testing.T) {
	r := newTestRegistry()
	sc := newStateController(r, func(*Item) {})
	parent, _ := r.register("p", nil)
	c1, _ := r.register("c", nil)
	c2, _ := r.register("c", nil)
	require.True(t, r.link(parent.id, c1.id))
	require.True(t, r.link(parent.id, c2.id))

	sc.SetFailed(c1.id)
	sc.SetProgress(c2.id, 50)

	state, progress := sc.AggregateChildren(parent)
	assert.Equal(t, Failed, state, "any terminal-unsuccessful child forces the parent to Failed")
	assert.Equal(t, 100, progress)
}

func TestStateControllerAggregateChildrenWaitingMeansMeanProgress(t *testing.T) {
	r := newTestRegistry()
	sc := newStateController(r, func(*Item) {})
	parent, _ := r.register("p", nil)
	c1, _ := r.register("c", nil)
	c2, _ := r.register("c", nil)
	require.True(t, r.link(parent.id, c1.id))
	require.True(t, r.link(parent.id, c2.id))

	sc.SetProgress(c1.id, 20)
	sc.SetFinished(c2.id)

	state, progress := sc.AggregateChildren(parent)
	assert.Equal(t, WaitChildren, state)
	assert.Equal(t, 60, progress, "mean of 20 and 100 (finished counts as 100)")
}
