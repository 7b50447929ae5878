package waitqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/jobsengine/pkg/waitqueue"
)

func TestLockQueuePushPop(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()

	require.Equal(t, 1, q.PushBack(1))
	require.Equal(t, 1, q.PushBack(2))
	require.Equal(t, 2, q.Size())

	v, res := q.WaitPopFront()
	require.Equal(t, waitqueue.ResultElement, res)
	assert.Equal(t, 1, v)

	v, res = q.WaitPopFront()
	require.Equal(t, waitqueue.ResultElement, res)
	assert.Equal(t, 2, v)
}

func TestLockQueueFIFOWithinBulkPush(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	require.Equal(t, 3, q.PushBackBulk([]int{10, 20, 30}))

	vs, res := q.WaitPopFrontBulk(0)
	require.Equal(t, waitqueue.ResultElement, res)
	assert.Equal(t, []int{10, 20, 30}, vs)
}

func TestLockQueueWaitPopFrontForTimesOut(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	start := time.Now()
	_, res := q.WaitPopFrontFor(20 * time.Millisecond)
	assert.Equal(t, waitqueue.ResultTimeout, res)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLockQueueExitForceAbandonsQueuedElements(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	q.PushBack(1)
	q.SignalExitForce()

	_, res := q.WaitPopFront()
	assert.Equal(t, waitqueue.ResultExit, res)
	assert.Equal(t, 0, q.PushBack(2))
}

func TestLockQueueExitWhenDoneDrainsThenExits(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.SignalExitWhenDone()

	// New pushes are rejected once exit-when-done is set.
	assert.Equal(t, 0, q.PushBack(3))

	v, res := q.WaitPopFront()
	require.Equal(t, waitqueue.ResultElement, res)
	assert.Equal(t, 1, v)

	v, res = q.WaitPopFront()
	require.Equal(t, waitqueue.ResultElement, res)
	assert.Equal(t, 2, v)

	_, res = q.WaitPopFront()
	assert.Equal(t, waitqueue.ResultExit, res)
}

func TestLockQueueBlockingPopUnblocksOnPush(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	done := make(chan struct{})
	var got int
	var res waitqueue.Result

	go func() {
		got, res = q.WaitPopFront()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.PushBack(42)

	select {
	case <-done:
		require.Equal(t, waitqueue.ResultElement, res)
		assert.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("blocking pop never unblocked")
	}
}

func TestLockQueueSignalExitIsIdempotent(t *testing.T) {
	q := waitqueue.NewLockQueue[int]()
	assert.NotPanics(t, func() {
		q.SignalExitForce()
		q.SignalExitForce()
		q.SignalExitWhenDone()
		q.SignalExitWhenDone()
	})
}
