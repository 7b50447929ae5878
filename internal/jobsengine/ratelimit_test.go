package jobsengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestGroupRateLimitThrottlesDispatchPasses verifies that a configured
// RateLimitPerSec bounds how many dispatch passes a group's worker can run
// per second, independent of how many jobs are queued.
func TestGroupRateLimitThrottlesDispatchPasses(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Groups["g"] = GroupConfig{ThreadsCount: 1, BulkCount: 1, RateLimitPerSec: 20, RateLimitBurst: 1}

	var mu sync.Mutex
	var passes int
	cfg.Types["T"] = TypeConfig{
		Group: "g",
		ProcessingFn: func(batch []*Item, _ TypeConfig) time.Duration {
			mu.Lock()
			passes++
			mu.Unlock()
			// Leaving every job InProgress: doAction's pass 5 collapses a
			// childless InProgress item straight to Finished.
			return 0
		},
	}

	e := New(cfg, nil)
	defer e.SignalExitForce()
	e.StartThreads(1)

	for i := 0; i < 100; i++ {
		_, n := e.Registry().PushBackAndStart(Normal, "T", nil)
		require.Equal(t, 1, n)
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	got := passes
	mu.Unlock()

	// At 20/s with 1 burst, 300ms should allow roughly 6-7 passes; give
	// generous headroom for scheduler jitter while still proving the
	// limiter is actually bounding throughput rather than a no-op.
	require.Less(t, got, 50, "rate limiter should bound dispatch passes well below the 100 submitted jobs")
}
