package jobsengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemCasStateMonotonic(t *testing.T) {
	it := newItem(1, "t", "g", "req")
	assert.True(t, it.casState(InProgress))
	assert.True(t, it.casState(WaitChildren))
	assert.False(t, it.casState(InProgress), "moving to a lower ordinal must be rejected")
	assert.True(t, it.casState(Finished))
	assert.Equal(t, Finished, it.State())
}

func TestItemSetProgressMonotonicAndClamped(t *testing.T) {
	it := newItem(1, "t", "g", nil)
	assert.True(t, it.setProgress(40))
	assert.False(t, it.setProgress(10), "progress must not regress")
	assert.Equal(t, 40, it.Progress())
	assert.True(t, it.setProgress(150))
	assert.Equal(t, 100, it.Progress(), "progress must clamp to 100")
}

func TestItemResponseHandlesNil(t *testing.T) {
	it := newItem(1, "t", "g", nil)
	assert.Nil(t, it.Response())
	it.setResponse("ok")
	assert.Equal(t, "ok", it.Response())
	it.setResponse(nil)
	assert.Nil(t, it.Response())
}

func TestItemParentChildSnapshotsAreCopies(t *testing.T) {
	it := newItem(1, "t", "g", nil)
	it.childIDs = append(it.childIDs, 2, 3)
	snap := it.ChildIDs()
	snap[0] = 99
	assert.Equal(t, []JobID{2, 3}, it.ChildIDs(), "mutating a returned snapshot must not affect the item")
}
