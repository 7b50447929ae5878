package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/jobsengine/internal/common"
	"github.com/ternarybob/jobsengine/internal/cronfeed"
	"github.com/ternarybob/jobsengine/internal/jobsengine"
)

const (
	typeFetch  jobsengine.JobType = "fetch"
	typeReport jobsengine.JobType = "report"
	typeTick   jobsengine.JobType = "tick"

	groupIO  jobsengine.Group = "io"
	groupCPU jobsengine.Group = "cpu"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against a small built-in workload",
	Long: `Builds a jobs engine from the loaded configuration, registers a
handful of demo job types spanning two groups, submits a mixed workload
(immediate, delayed, parent/child, and cron-fed jobs), and runs until
interrupted.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	common.PrintBanner(config, logger)

	cfg := jobsengine.NewDefaultConfig()
	cfg.Engine.ThreadsCount = config.Engine.ThreadsCount
	cfg.Engine.PriorityRatios = config.ToPriorityRatios()

	cfg.Groups[groupIO] = jobsengine.GroupConfig{ThreadsCount: 2, BulkCount: 4, RateLimitPerSec: 5, RateLimitBurst: 2}
	cfg.Groups[groupCPU] = jobsengine.GroupConfig{ThreadsCount: 2, BulkCount: 1}

	var mu sync.Mutex
	var fetched, reported int

	var engineRef *jobsengine.Engine
	cfg.Types[typeFetch] = jobsengine.TypeConfig{
		Group:   groupIO,
		Timeout: 5 * time.Second,
		ProcessingFn: func(batch []*jobsengine.Item, _ jobsengine.TypeConfig) time.Duration {
			mu.Lock()
			fetched += len(batch)
			mu.Unlock()
			logger.Info().Int("batch_size", len(batch)).Msg("fetch: simulated upstream call for batch")
			for _, it := range batch {
				req, _ := it.Request().(string)
				if req == "fetch:child-fails" {
					engineRef.State().SetFailed(it.ID(), "simulated upstream error")
				}
			}
			return 0
		},
		FinishedFn: func(batch []*jobsengine.Item) {
			logger.Debug().Uint64("job_id", uint64(batch[0].ID())).Str("state", batch[0].State().String()).Msg("fetch: finished")
		},
	}

	cfg.Types[typeReport] = jobsengine.TypeConfig{
		Group: groupCPU,
		ProcessingFn: func(batch []*jobsengine.Item, _ jobsengine.TypeConfig) time.Duration {
			mu.Lock()
			reported += len(batch)
			mu.Unlock()
			return 0
		},
		ChildrenFinishedFn: func(parent *jobsengine.Item, child *jobsengine.Item) {
			logger.Debug().
				Uint64("parent_id", uint64(parent.ID())).
				Uint64("child_id", uint64(child.ID())).
				Str("child_state", child.State().String()).
				Msg("report: child finished")
			engineRef.State().ApplyChildrenFinished(parent, child)
		},
		FinishedFn: func(batch []*jobsengine.Item) {
			logger.Info().
				Uint64("job_id", uint64(batch[0].ID())).
				Str("state", batch[0].State().String()).
				Msg("report: parent finished")
		},
	}

	cfg.Types[typeTick] = jobsengine.TypeConfig{
		Group: groupCPU,
		ProcessingFn: func(batch []*jobsengine.Item, _ jobsengine.TypeConfig) time.Duration {
			logger.Info().Int("batch_size", len(batch)).Msg("tick: cron-fed submission processed")
			return 0
		},
	}

	engine := jobsengine.New(cfg, func(recovered any, stack string) {
		logger.Error().Str("panic", fmt.Sprintf("%v", recovered)).Str("stack", stack).Msg("recovered from callback panic")
	})
	engineRef = engine
	engine.StartThreads(cfg.Engine.ThreadsCount)

	bridge := cronfeed.New(engine.Registry(), logger)
	for _, feed := range config.Cron {
		if !feed.Enabled {
			continue
		}
		if err := bridge.Add(cronfeed.Feed{
			Name:     feed.Name,
			Schedule: feed.Schedule,
			Type:     jobsengine.JobType(feed.Type),
			Priority: common.ParsePriority(feed.Priority),
		}); err != nil {
			logger.Warn().Err(err).Str("feed", feed.Name).Msg("skipping invalid cron feed")
		}
	}
	bridge.Start()
	defer bridge.Stop()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	common.SafeGoWithContext(heartbeatCtx, logger, "engine-heartbeat", func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				logger.Debug().
					Int("queued", engine.Size()).
					Int("delayed", engine.SizeDelayed()).
					Int("processing", engine.SizeProcessing()).
					Msg("engine heartbeat")
			}
		}
	})

	seedWorkload(engine)

	logger.Info().Msg("engine running - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	stopHeartbeat()

	logger.Info().Msg("shutting down: draining delay queue, then group queues, then workers")
	engine.Wait()

	mu.Lock()
	logger.Info().Int("fetched", fetched).Int("reported", reported).Msg("final counters")
	mu.Unlock()

	common.PrintShutdownBanner(logger)
	return nil
}

// seedWorkload submits a small mixed batch: immediate high-priority fetches,
// a low-priority fetch that would starve under strict priority order, a delayed
// report, and a parent report with two children whose aggregate outcome
// demonstrates failure propagation (spec.md §8 scenario 4).
func seedWorkload(e *jobsengine.Engine) {
	reg := e.Registry()

	reg.PushBackAndStart(jobsengine.High, typeFetch, "fetch:urgent-1")
	reg.PushBackAndStart(jobsengine.Low, typeFetch, "fetch:background-1")
	reg.PushBackAndStart(jobsengine.High, typeFetch, "fetch:urgent-2")

	parentID, _ := reg.PushBackAndStart(jobsengine.Normal, typeReport, "report:weekly")
	reg.PushBackAndStartChild(parentID, jobsengine.Normal, typeFetch, "fetch:child-ok")
	reg.PushBackAndStartChild(parentID, jobsengine.Normal, typeFetch, "fetch:child-fails")

	reg.PushBackAndStartDelayFor(2*time.Second, jobsengine.Normal, typeReport, "report:delayed")
}
