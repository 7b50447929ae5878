package workerpool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/jobsengine/pkg/workerpool"
)

func TestPoolProcessesPushedTokens(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	p := workerpool.New[string](1, func(batch []string) {
		mu.Lock()
		seen = append(seen, batch...)
		mu.Unlock()
	}, nil)
	p.StartThreads(2)
	defer p.SignalExitForce()

	p.PushBack("a")
	p.PushBack("b")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoolStartThreadsIsIdempotent(t *testing.T) {
	p := workerpool.New[int](1, func([]int) {}, nil)
	p.StartThreads(3)
	p.StartThreads(5) // no-op: pool size is fixed at first start
	assert.NotPanics(t, func() { p.PushBack(1) })
	p.Wait()
}

func TestPoolWaitDrainsQueuedWorkBeforeReturning(t *testing.T) {
	var processed int32
	var mu sync.Mutex

	p := workerpool.New[int](4, func(batch []int) {
		mu.Lock()
		processed += int32(len(batch))
		mu.Unlock()
	}, nil)
	p.StartThreads(1)

	for i := 0; i < 10; i++ {
		p.PushBack(i)
	}
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 10, processed)
}

func TestPoolRecoversPanicsInProcess(t *testing.T) {
	panics := make(chan any, 1)
	p := workerpool.New[int](1, func(batch []int) {
		panic("boom")
	}, func(r any, stack string) {
		panics <- r
	})
	p.StartThreads(1)
	defer p.SignalExitForce()

	p.PushBack(1)

	select {
	case r := <-panics:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler was never invoked")
	}

	// The worker goroutine must have survived and still process new work:
	// the token is pushed before Wait seals the queue, and Wait only returns
	// once the queue has been drained.
	require.Equal(t, 1, p.PushBack(2))
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool never drained after surviving a panic")
	}
}

func TestPoolWaitUntilTimesOutOnStuckProcess(t *testing.T) {
	block := make(chan struct{})
	p := workerpool.New[int](1, func(batch []int) {
		<-block
	}, nil)
	p.StartThreads(1)
	defer close(block)
	defer p.SignalExitForce()

	p.PushBack(1)
	res := p.WaitUntil(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, workerpool.ResultTimeout, res)
}
