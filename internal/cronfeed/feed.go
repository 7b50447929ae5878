// Package cronfeed bridges a cron schedule string to job submission: each
// configured feed submits a fresh job of its configured type/priority into
// the jobs engine every time its schedule fires. Adapted from the teacher's
// internal/services/processing.Scheduler and internal/services/scheduler
// Service, both of which wrap github.com/robfig/cron/v3 the same way
// (cron.New, AddFunc per registered job, Start/Stop) — generalized here
// from a single hardcoded processing call to an arbitrary set of feeds
// driving arbitrary job types.
package cronfeed

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/jobsengine/internal/jobsengine"
)

// Feed configures one scheduled submission: on every Schedule firing,
// submit a job of Type at Priority into the engine's queue.
type Feed struct {
	Name     string
	Schedule string
	Type     jobsengine.JobType
	Priority jobsengine.Priority
	// Request builds the payload submitted on each firing. May be nil, in
	// which case a nil request is submitted.
	Request func() any
}

// Bridge owns one cron.Cron instance driving any number of Feeds against a
// single jobsengine.Registry, mirroring the teacher's one-scheduler-per-
// service shape but keyed by feed name instead of a single fixed schedule.
type Bridge struct {
	cron     *cron.Cron
	registry *jobsengine.Registry
	logger   arbor.ILogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Bridge submitting jobs onto registry. Like the teacher's
// processing.Scheduler, the underlying cron.Cron runs with second-level
// precision (cron.WithSeconds()) so a schedule such as "*/5 * * * * *" (every
// five seconds) is expressible for demos, not just hourly/daily production
// schedules.
func New(registry *jobsengine.Registry, logger arbor.ILogger) *Bridge {
	return &Bridge{
		cron:     cron.New(cron.WithSeconds()),
		registry: registry,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}
}

// Add registers one feed. Returns an error if the schedule string doesn't
// parse or the feed name is already registered.
func (b *Bridge) Add(f Feed) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[f.Name]; exists {
		return fmt.Errorf("cronfeed: feed %q already registered", f.Name)
	}

	id, err := b.cron.AddFunc(f.Schedule, func() { b.fire(f) })
	if err != nil {
		return fmt.Errorf("cronfeed: invalid schedule %q for feed %q: %w", f.Schedule, f.Name, err)
	}
	b.entries[f.Name] = id
	return nil
}

func (b *Bridge) fire(f Feed) {
	var request any
	if f.Request != nil {
		request = f.Request()
	}
	id, n := b.registry.PushBackAndStart(f.Priority, f.Type, request)
	if n == 0 {
		b.logger.Warn().Str("feed", f.Name).Str("type", string(f.Type)).Msg("cronfeed: submission refused")
		return
	}
	b.logger.Debug().Str("feed", f.Name).Uint64("job_id", uint64(id)).Msg("cronfeed: submitted job")
}

// Remove unregisters a feed so its schedule no longer fires.
func (b *Bridge) Remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.entries[name]; ok {
		b.cron.Remove(id)
		delete(b.entries, name)
	}
}

// Start begins dispatching scheduled fires in a background goroutine, the
// same cron.Cron.Start contract the teacher's schedulers use.
func (b *Bridge) Start() {
	b.cron.Start()
	b.logger.Info().Int("feeds", len(b.entries)).Msg("cronfeed: started")
}

// Stop halts the scheduler and waits for any in-flight fire to finish,
// matching cron.Cron.Stop's blocking-context-cancel contract.
func (b *Bridge) Stop() {
	ctx := b.cron.Stop()
	<-ctx.Done()
	b.logger.Info().Msg("cronfeed: stopped")
}
