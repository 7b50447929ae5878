package cronfeed_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/jobsengine/internal/cronfeed"
	"github.com/ternarybob/jobsengine/internal/jobsengine"
)

func newTestEngine(t *testing.T) (*jobsengine.Engine, jobsengine.JobType, jobsengine.Group) {
	t.Helper()
	const typ jobsengine.JobType = "tick"
	const grp jobsengine.Group = "cron-group"

	processed := make(chan jobsengine.JobID, 16)
	cfg := jobsengine.NewDefaultConfig()
	cfg.Groups[grp] = jobsengine.GroupConfig{ThreadsCount: 1, BulkCount: 4}
	cfg.Types[typ] = jobsengine.TypeConfig{
		Group: grp,
		ProcessingFn: func(batch []*jobsengine.Item, _ jobsengine.TypeConfig) time.Duration {
			for _, it := range batch {
				processed <- it.ID()
			}
			return 0
		},
		FinishedFn: func([]*jobsengine.Item) {},
	}
	e := jobsengine.New(cfg, func(r any, _ string) { t.Logf("panic recovered: %v", r) })
	e.StartThreads(1)
	t.Cleanup(e.SignalExitForce)
	return e, typ, grp
}

func TestBridgeFiresSubmissionsOnSchedule(t *testing.T) {
	e, typ, _ := newTestEngine(t)
	logger := arbor.NewLogger()

	b := cronfeed.New(e.Registry(), logger)
	var fired atomic.Int64
	require.NoError(t, b.Add(cronfeed.Feed{
		Name:     "every-second",
		Schedule: "* * * * * *",
		Type:     typ,
		Priority: jobsengine.Normal,
		Request:  func() any { return fired.Add(1) },
	}))
	b.Start()
	defer b.Stop()

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestAddRejectsDuplicateFeedName(t *testing.T) {
	e, typ, _ := newTestEngine(t)
	b := cronfeed.New(e.Registry(), arbor.NewLogger())

	require.NoError(t, b.Add(cronfeed.Feed{Name: "dup", Schedule: "@every 1h", Type: typ}))
	err := b.Add(cronfeed.Feed{Name: "dup", Schedule: "@every 1h", Type: typ})
	require.Error(t, err)
}

func TestAddRejectsInvalidSchedule(t *testing.T) {
	e, typ, _ := newTestEngine(t)
	b := cronfeed.New(e.Registry(), arbor.NewLogger())

	err := b.Add(cronfeed.Feed{Name: "bad", Schedule: "not a schedule", Type: typ})
	require.Error(t, err)
}
