package swarm

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
	"github.com/zb-ss/opencode-workflows-sub001/internal/session"
)

// SchedulerConfig controls batch execution timing. Zero values fall
// back to the defaults.
type SchedulerConfig struct {
	// PollInterval is the base cadence for re-checking live sessions
	// (default: 5s).
	PollInterval time.Duration

	// MaxPollInterval caps the per-session backoff applied while a
	// session reports no new messages (default: 30s).
	MaxPollInterval time.Duration

	// LaunchTimeout bounds a single session launch (default: 60s).
	LaunchTimeout time.Duration

	// PollTimeout bounds a single poll call (default: 10s).
	PollTimeout time.Duration

	// MaxPollErrors is how many consecutive poll failures a session may
	// accumulate before it is declared lost (default: 3).
	MaxPollErrors int

	// Limiter configures per-provider concurrency caps.
	Limiter LimiterConfig

	// Detector configures staleness thresholds.
	Detector DetectorConfig
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:    5 * time.Second,
		MaxPollInterval: 30 * time.Second,
		LaunchTimeout:   60 * time.Second,
		PollTimeout:     10 * time.Second,
		MaxPollErrors:   3,
		Limiter:         DefaultLimiterConfig(),
		Detector:        DefaultDetectorConfig(),
	}
}

// TaskResult records the outcome of one swarmed task.
type TaskResult struct {
	TaskID    core.TaskID
	SessionID core.SessionID
	Agent     string
	Provider  string
	Status    core.SessionStatus
	Class     Staleness // set when the staleness detector forced the outcome
	Messages  int
	Err       error
}

// BatchReport summarizes one swarm batch after every admitted task
// reached a terminal status.
type BatchReport struct {
	BatchID   string
	Gate      core.GateName
	Results   []TaskResult
	Completed int
	Failed    int
	Cancelled int
	Skipped   int // tasks never launched because the batch was cancelled first
	Elapsed   time.Duration
}

// Succeeded reports whether every task completed.
func (r *BatchReport) Succeeded() bool {
	return len(r.Results) > 0 && r.Completed == len(r.Results) && r.Skipped == 0
}

// liveSession is the scheduler's bookkeeping for one in-flight task.
type liveSession struct {
	spec      core.LaunchSpec
	handle    core.SessionHandle
	tracked   *core.TrackedSession
	pollFails int
	interval  time.Duration
	nextPoll  time.Time
}

// Scheduler fans a batch of agent tasks out as external sessions,
// bounded by per-provider concurrency slots, and supervises them until
// every admitted task reaches a terminal status.
//
// All scheduling state (limiter, batch, live sessions) is owned by the
// goroutine running Run; launches fan out briefly, but their outcomes
// are folded back in on the scheduler goroutine before any shared
// structure is touched.
//
// Staleness is advisory: a session classified stale or stuck is
// abandoned — slot released, task marked failed with a retryable
// timeout — but its underlying execution is never cancelled on the
// provider's behalf. Cancel is relayed to live handles only when the
// caller's context is cancelled.
type Scheduler struct {
	config   SchedulerConfig
	launcher core.SessionLauncher
	store    core.StateStore
	registry *session.Registry
	limiter  *Limiter
	detector *Detector
	metrics  *Metrics
	log      *logging.Logger
}

// NewScheduler creates a scheduler. A nil logger disables logging.
func NewScheduler(
	config SchedulerConfig,
	launcher core.SessionLauncher,
	store core.StateStore,
	registry *session.Registry,
	log *logging.Logger,
) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxPollInterval <= 0 {
		config.MaxPollInterval = def.MaxPollInterval
	}
	if config.MaxPollInterval < config.PollInterval {
		config.MaxPollInterval = config.PollInterval
	}
	if config.LaunchTimeout <= 0 {
		config.LaunchTimeout = def.LaunchTimeout
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if config.MaxPollErrors <= 0 {
		config.MaxPollErrors = def.MaxPollErrors
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Scheduler{
		config:   config,
		launcher: launcher,
		store:    store,
		registry: registry,
		limiter:  NewLimiter(config.Limiter),
		detector: NewDetector(config.Detector),
		log:      log,
	}
}

// SetMetrics attaches a Prometheus metric set. Safe to leave unset.
func (s *Scheduler) SetMetrics(m *Metrics) { s.metrics = m }

// Limiter exposes the slot accounting for status reporting.
func (s *Scheduler) Limiter() *Limiter { return s.limiter }

// Detector exposes the effective staleness thresholds.
func (s *Scheduler) Detector() *Detector { return s.detector }

// Run executes one batch of tasks for a fan-out gate. It returns once
// every admitted task is terminal, folding the aggregate outcome into
// the workflow record at workflowPath and dropping the batch from the
// registry. On context cancellation it relays Cancel to live handles,
// marks them cancelled, and returns the context error alongside the
// partial report.
func (s *Scheduler) Run(ctx context.Context, workflowPath string, gate core.GateName, specs []core.LaunchSpec) (*BatchReport, error) {
	if len(specs) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidState, "batch has no tasks")
	}
	if err := s.launcher.Ping(ctx); err != nil {
		return nil, core.ErrExecution(core.CodeLaunchFailed,
			"session launcher unavailable: "+s.launcher.Name()).WithCause(err)
	}

	batch := s.registry.StartBatch(gate)
	started := time.Now()
	report := &BatchReport{BatchID: batch.BatchID, Gate: gate}

	s.log.Info("swarm batch started",
		"batch_id", batch.BatchID,
		"gate", gate,
		"tasks", len(specs),
		"launcher", s.launcher.Name())

	pending := make([]core.LaunchSpec, len(specs))
	copy(pending, specs)
	running := make(map[core.TaskID]*liveSession)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		pending = s.admit(ctx, batch, pending, running, report)
		if len(pending) == 0 && len(running) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.relayCancel(running, report)
			report.Skipped = len(pending)
			runErr = ctx.Err()
			break loop
		case <-ticker.C:
			s.pollRound(ctx, running, report)
		}
	}

	report.Elapsed = time.Since(started)
	s.fold(workflowPath, batch, report)
	if err := s.registry.DropBatch(batch.BatchID); err != nil {
		s.log.Warn("failed to drop resolved batch",
			"batch_id", batch.BatchID,
			"error", err)
	}
	s.metrics.batchDone(report.Elapsed.Seconds())

	s.log.Info("swarm batch finished",
		"batch_id", batch.BatchID,
		"gate", gate,
		"completed", report.Completed,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
		"skipped", report.Skipped,
		"elapsed", report.Elapsed)

	return report, runErr
}

// admit launches every pending task that can hold a slot right now.
// Slots are reserved up front on the scheduler goroutine; the launch
// calls themselves fan out, and their outcomes are folded back in
// after the wave completes.
func (s *Scheduler) admit(ctx context.Context, batch *core.SwarmBatch, pending []core.LaunchSpec, running map[core.TaskID]*liveSession, report *BatchReport) []core.LaunchSpec {
	if ctx.Err() != nil || len(pending) == 0 {
		return pending
	}

	var wave []core.LaunchSpec
	var rest []core.LaunchSpec
	for _, spec := range pending {
		if s.limiter.CanAcquire(spec.Provider) {
			s.limiter.Acquire(spec.Provider)
			wave = append(wave, spec)
		} else {
			rest = append(rest, spec)
		}
	}
	if len(wave) == 0 {
		return rest
	}

	type launchOutcome struct {
		handle core.SessionHandle
		err    error
		at     time.Time
	}
	outcomes := make([]launchOutcome, len(wave))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range wave {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, s.config.LaunchTimeout)
			defer cancel()
			handle, err := s.launcher.Launch(lctx, spec)
			outcomes[i] = launchOutcome{handle: handle, err: err, at: time.Now()}
			// A failed launch fails its task, not the batch.
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	for i, spec := range wave {
		out := outcomes[i]
		if out.err != nil {
			s.limiter.Release(spec.Provider)
			tracked := &core.TrackedSession{
				TaskID:         spec.TaskID,
				Agent:          spec.Agent,
				Provider:       spec.Provider,
				Status:         core.SessionStatusFailed,
				StartedAt:      out.at,
				LastProgressAt: out.at,
			}
			batch.Track(tracked)
			report.Results = append(report.Results, TaskResult{
				TaskID:   spec.TaskID,
				Agent:    spec.Agent,
				Provider: spec.Provider,
				Status:   core.SessionStatusFailed,
				Err: core.ErrExecution(core.CodeLaunchFailed,
					"launching session for task "+string(spec.TaskID)).WithCause(out.err),
			})
			report.Failed++
			s.metrics.finished(spec.Provider, string(core.SessionStatusFailed), s.limiter.Active(spec.Provider))
			s.log.Warn("session launch failed",
				"task_id", spec.TaskID,
				"agent", spec.Agent,
				"provider", spec.Provider,
				"error", out.err)
			continue
		}

		tracked := &core.TrackedSession{
			SessionID:      out.handle.ID(),
			TaskID:         spec.TaskID,
			Agent:          spec.Agent,
			Provider:       spec.Provider,
			Status:         core.SessionStatusRunning,
			StartedAt:      out.at,
			LastProgressAt: out.at,
		}
		batch.Track(tracked)
		running[spec.TaskID] = &liveSession{
			spec:     spec,
			handle:   out.handle,
			tracked:  tracked,
			interval: s.config.PollInterval,
			nextPoll: now,
		}
		s.metrics.launched(spec.Provider, s.limiter.Active(spec.Provider))
		s.log.Info("session launched",
			"task_id", spec.TaskID,
			"session_id", out.handle.ID(),
			"agent", spec.Agent,
			"provider", spec.Provider)
	}
	return rest
}

// pollRound polls due sessions, folds fresh progress into the cached
// snapshots, and classifies every live session against the detector.
// Sessions that report no new messages back off up to MaxPollInterval;
// one that makes progress snaps back to the base interval.
func (s *Scheduler) pollRound(ctx context.Context, running map[core.TaskID]*liveSession, report *BatchReport) {
	now := time.Now()
	for _, live := range running {
		if !now.Before(live.nextPoll) {
			s.pollOne(ctx, running, report, live, now)
		}
	}

	// Classification runs on cached snapshots every round, even for
	// sessions that were not polled this time.
	now = time.Now()
	for _, live := range running {
		switch class := s.detector.Check(live.tracked, now); class {
		case StalenessStale, StalenessStuck:
			s.abandon(running, report, live, class)
		}
	}
}

// pollOne polls a single live session and updates its snapshot.
func (s *Scheduler) pollOne(ctx context.Context, running map[core.TaskID]*liveSession, report *BatchReport, live *liveSession, now time.Time) {
	pctx, cancel := context.WithTimeout(ctx, s.config.PollTimeout)
	progress, err := live.handle.Poll(pctx)
	cancel()

	if err != nil {
		live.pollFails++
		s.log.Warn("session poll failed",
			"task_id", live.spec.TaskID,
			"session_id", live.tracked.SessionID,
			"attempt", live.pollFails,
			"error", err)
		if live.pollFails >= s.config.MaxPollErrors {
			s.finish(running, report, live, core.SessionStatusFailed, "",
				core.ErrExecution(core.CodeSessionLost, "session stopped answering polls").WithCause(err))
		}
		return
	}
	live.pollFails = 0

	before := live.tracked.LastMessageCount
	live.tracked.ObserveProgress(progress.MessageCount, now)

	if progress.Done() {
		s.finish(running, report, live, progress.Terminal, "", nil)
		return
	}

	if live.tracked.LastMessageCount > before {
		live.interval = s.config.PollInterval
	} else {
		live.interval *= 2
		if live.interval > s.config.MaxPollInterval {
			live.interval = s.config.MaxPollInterval
		}
	}
	live.nextPoll = now.Add(live.interval)
}

// abandon stops supervising a session the detector classified stale or
// stuck. The slot is released and the task marked failed with a
// retryable timeout; the underlying execution is left to the caller's
// cancel/retry policy.
func (s *Scheduler) abandon(running map[core.TaskID]*liveSession, report *BatchReport, live *liveSession, class Staleness) {
	s.log.Warn("session abandoned",
		"task_id", live.spec.TaskID,
		"session_id", live.tracked.SessionID,
		"class", class,
		"messages", live.tracked.LastMessageCount,
		"silent_for", time.Since(live.tracked.LastProgressAt).Round(time.Second))
	s.metrics.abandoned(class)

	reason := "session produced no output past the stale threshold"
	if class == StalenessStuck {
		reason = "session stopped making progress past the stuck threshold"
	}
	s.finish(running, report, live, core.SessionStatusFailed, class, core.ErrTimeout(reason))
}

// relayCancel forwards the caller's cancellation to every live handle
// and marks the sessions cancelled.
func (s *Scheduler) relayCancel(running map[core.TaskID]*liveSession, report *BatchReport) {
	for _, live := range running {
		cctx, cancel := context.WithTimeout(context.Background(), s.config.PollTimeout)
		err := live.handle.Cancel(cctx)
		cancel()
		if err != nil {
			s.log.Warn("session cancel failed",
				"task_id", live.spec.TaskID,
				"session_id", live.tracked.SessionID,
				"error", err)
		}
		s.finish(running, report, live, core.SessionStatusCancelled, "", nil)
	}
}

// finish retires a live session exactly once: slot released, terminal
// status recorded on the tracked snapshot, result appended.
func (s *Scheduler) finish(running map[core.TaskID]*liveSession, report *BatchReport, live *liveSession, status core.SessionStatus, class Staleness, err error) {
	delete(running, live.spec.TaskID)
	s.limiter.Release(live.spec.Provider)
	live.tracked.Status = status

	report.Results = append(report.Results, TaskResult{
		TaskID:    live.spec.TaskID,
		SessionID: live.tracked.SessionID,
		Agent:     live.spec.Agent,
		Provider:  live.spec.Provider,
		Status:    status,
		Class:     class,
		Messages:  live.tracked.LastMessageCount,
		Err:       err,
	})
	switch status {
	case core.SessionStatusCompleted:
		report.Completed++
	case core.SessionStatusCancelled:
		report.Cancelled++
	default:
		report.Failed++
	}
	s.metrics.finished(live.spec.Provider, string(status), s.limiter.Active(live.spec.Provider))

	s.log.Info("session finished",
		"task_id", live.spec.TaskID,
		"session_id", live.tracked.SessionID,
		"status", status,
		"messages", live.tracked.LastMessageCount)
}

// fold appends one agent record per task result to the workflow
// record. Completed sessions land as pass verdicts, everything else as
// fail; gate transitions stay with the caller, which judges the batch
// as a whole. Runs on a fresh context so a cancelled batch still gets
// recorded.
func (s *Scheduler) fold(workflowPath string, batch *core.SwarmBatch, report *BatchReport) {
	if workflowPath == "" || len(report.Results) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated := s.store.Update(ctx, workflowPath, func(st *core.WorkflowState) *core.WorkflowState {
		iteration := 0
		if gs, ok := st.Gate(batch.Gate); ok {
			iteration = gs.Iteration
		}
		for _, r := range report.Results {
			verdict := core.VerdictPass
			if r.Status != core.SessionStatusCompleted {
				verdict = core.VerdictFail
			}
			st.AppendAgentRecord(core.AgentRecord{
				AgentType: r.Agent,
				Gate:      batch.Gate,
				Verdict:   verdict,
				Iteration: iteration,
				SessionID: r.SessionID,
			})
		}
		return st
	})
	if updated == nil {
		s.log.Warn("failed to fold batch outcome into workflow record",
			"batch_id", batch.BatchID,
			"path", workflowPath)
	}
}
