package timequeue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/jobsengine/pkg/timequeue"
)

func TestQueueMaturesInDeadlineOrder(t *testing.T) {
	q := timequeue.New[string]()
	now := time.Now()
	q.PushDeadline(now.Add(30*time.Millisecond), "second")
	q.PushDeadline(now.Add(5*time.Millisecond), "first")

	v, res := q.WaitPop()
	require.Equal(t, timequeue.ResultElement, res)
	assert.Equal(t, "first", v)

	v, res = q.WaitPop()
	require.Equal(t, timequeue.ResultElement, res)
	assert.Equal(t, "second", v)
}

func TestQueuePushEarlierThanHeadWakesWaiter(t *testing.T) {
	q := timequeue.New[string]()
	q.PushDelay(time.Hour, "late")

	done := make(chan struct{})
	var got string
	go func() {
		got, _ = q.WaitPop()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.PushDelay(5*time.Millisecond, "soon")

	select {
	case <-done:
		assert.Equal(t, "soon", got)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke for the earlier-scheduled entry")
	}
}

func TestQueueWaitPopForTimesOutWithNothingMatured(t *testing.T) {
	q := timequeue.New[string]()
	q.PushDelay(time.Hour, "far future")

	_, res := q.WaitPopFor(15 * time.Millisecond)
	assert.Equal(t, timequeue.ResultTimeout, res)
}

func TestQueueExitWhenDoneStillDeliversAlreadyMatured(t *testing.T) {
	q := timequeue.New[string]()
	q.PushDelay(-time.Millisecond, "already due")
	q.SignalExitWhenDone()

	v, res := q.WaitPop()
	require.Equal(t, timequeue.ResultElement, res)
	assert.Equal(t, "already due", v)

	_, res = q.WaitPop()
	assert.Equal(t, timequeue.ResultExit, res)
}

func TestQueueExitForceAbandonsPendingEntries(t *testing.T) {
	q := timequeue.New[string]()
	q.PushDelay(time.Hour, "never")
	q.SignalExitForce()

	_, res := q.WaitPop()
	assert.Equal(t, timequeue.ResultExit, res)
}

func TestThreadDeliversMaturedBatches(t *testing.T) {
	received := make(chan []int, 4)
	th := timequeue.NewThread[int](func(batch []int) {
		received <- batch
	}, nil)
	th.Start()
	defer th.SignalExitForce()

	th.Queue().PushDelay(5*time.Millisecond, 1)

	select {
	case batch := <-received:
		assert.Equal(t, []int{1}, batch)
	case <-time.After(time.Second):
		t.Fatal("thread never delivered the matured entry")
	}
}

func TestThreadRecoversPanicsInOnBatch(t *testing.T) {
	panics := make(chan any, 1)
	th := timequeue.NewThread[int](func(batch []int) {
		panic("boom")
	}, func(r any, stack string) {
		panics <- r
	})
	th.Start()

	th.Queue().PushDelay(time.Millisecond, 1)

	select {
	case r := <-panics:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler was never invoked")
	}

	// The background goroutine must have survived the panic.
	th.Queue().PushDelay(time.Millisecond, 2)
	th.WaitUntil(time.Now().Add(time.Second))
}
