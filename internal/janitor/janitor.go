// Package janitor runs scheduled maintenance over the workflow data
// roots: expired session markers are swept and completed workflows are
// archived out of the active root.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
	"github.com/zb-ss/opencode-workflows-sub001/internal/session"
)

// Config tunes the maintenance pass.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string

	// MarkerTTL is how long an untouched session marker survives.
	MarkerTTL time.Duration

	// AutoArchive moves workflows whose gates are all satisfied to the
	// completed root during each pass.
	AutoArchive bool
}

// Report summarizes one maintenance pass.
type Report struct {
	MarkersRemoved int
	Archived       int
}

// Janitor owns the cron loop and the individual maintenance steps.
type Janitor struct {
	cfg      Config
	store    core.StateStore
	registry *session.Registry
	machine  *gates.Machine
	history  core.HistoryStore
	bus      *events.EventBus
	log      *logging.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithHistory records archived workflows in the given history store.
func WithHistory(h core.HistoryStore) Option {
	return func(j *Janitor) { j.history = h }
}

// WithBus publishes sweep and archive events on the given bus.
func WithBus(b *events.EventBus) Option {
	return func(j *Janitor) { j.bus = b }
}

// New creates a Janitor. The store, registry, and machine are required;
// history and bus wiring are optional.
func New(cfg Config, store core.StateStore, registry *session.Registry, machine *gates.Machine, log *logging.Logger, opts ...Option) *Janitor {
	if log == nil {
		log = logging.NewNop()
	}
	j := &Janitor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		machine:  machine,
		log:      log,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start schedules RunOnce on the configured cron expression. It returns
// an error when the expression does not parse or the janitor is already
// running.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	_, err := c.AddFunc(j.cfg.Schedule, func() {
		j.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("parsing janitor schedule %q: %w", j.cfg.Schedule, err)
	}

	c.Start()
	j.cron = c
	j.log.Info("janitor started", "schedule", j.cfg.Schedule, "marker_ttl", j.cfg.MarkerTTL)
	return nil
}

// Stop halts the cron loop and waits for an in-flight pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.log.Info("janitor stopped")
}

// RunOnce performs a single maintenance pass: sweep expired markers,
// then archive completed workflows when auto-archive is on.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	rep := Report{}
	rep.MarkersRemoved = j.registry.SweepMarkers(ctx, j.cfg.MarkerTTL)

	if j.cfg.AutoArchive {
		rep.Archived = j.archiveCompleted(ctx)
	}

	if j.bus != nil {
		j.bus.Publish(events.NewSweepCompleted(rep.MarkersRemoved, rep.Archived))
	}
	if rep.MarkersRemoved > 0 || rep.Archived > 0 {
		j.log.Info("maintenance pass finished",
			"markers_removed", rep.MarkersRemoved,
			"archived", rep.Archived)
	}
	return rep
}

// archiveCompleted moves every workflow whose gates are all satisfied
// to the completed root. Individual failures are logged and skipped.
func (j *Janitor) archiveCompleted(ctx context.Context) int {
	archived := 0
	for _, stored := range j.store.FindActive(ctx) {
		if stored.State == nil || !j.machine.AllMandatoryGatesPassed(stored.State) {
			continue
		}

		wlog := j.log.WithWorkflow(string(stored.State.WorkflowID))
		dest, ok := j.store.Archive(ctx, stored.Path)
		if !ok {
			wlog.Warn("archive move failed", "path", stored.Path)
			continue
		}
		archived++
		wlog.Info("workflow archived", "archive_path", dest)

		if j.history != nil {
			if err := j.history.RecordArchive(ctx, stored.State, dest); err != nil {
				wlog.Warn("recording archive history failed", "error", err)
			}
		}
		if j.bus != nil {
			passed, skipped := gateTally(stored.State)
			j.bus.Publish(events.NewWorkflowArchived(
				string(stored.State.WorkflowID), dest, passed, skipped))
		}
	}
	return archived
}

func gateTally(st *core.WorkflowState) (passed, skipped int) {
	for _, gs := range st.Gates {
		if gs == nil {
			continue
		}
		switch gs.Status {
		case core.GateStatusPassed:
			passed++
		case core.GateStatusSkipped:
			skipped++
		}
	}
	return passed, skipped
}
