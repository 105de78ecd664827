package swarm

import (
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

// Staleness classifies whether a tracked session is making progress.
type Staleness string

const (
	// StalenessActive means the session is healthy or too young to judge.
	StalenessActive Staleness = "active"

	// StalenessStale means the session has never produced output and has
	// been silent past the stale threshold.
	StalenessStale Staleness = "stale"

	// StalenessStuck means the session produced output at some point but
	// has since been silent past the progress threshold.
	StalenessStuck Staleness = "stuck"
)

const (
	// DefaultStaleTimeout is the silence threshold for sessions that have
	// produced no output yet.
	DefaultStaleTimeout = 3 * time.Minute

	// DefaultProgressTimeout is the silence threshold for sessions that
	// produced output and then went quiet.
	DefaultProgressTimeout = 10 * time.Minute

	// DefaultMinTimeout is the floor both thresholds are clamped to.
	DefaultMinTimeout = 60 * time.Second

	// DefaultStartupGrace exempts freshly started sessions from checks.
	DefaultStartupGrace = 30 * time.Second
)

// DetectorConfig controls staleness classification thresholds. Zero
// values fall back to the defaults above.
type DetectorConfig struct {
	// StaleTimeout is the no-output silence threshold (default: 3m).
	StaleTimeout time.Duration

	// ProgressTimeout is the output-then-silence threshold (default: 10m).
	ProgressTimeout time.Duration

	// MinTimeout is the floor applied to both thresholds (default: 60s).
	// Lowering it permits aggressive timeouts for fast providers.
	MinTimeout time.Duration

	// StartupGrace is how long after start a session is always considered
	// active (default: 30s).
	StartupGrace time.Duration
}

// DefaultDetectorConfig returns the default detection thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		StaleTimeout:    DefaultStaleTimeout,
		ProgressTimeout: DefaultProgressTimeout,
		MinTimeout:      DefaultMinTimeout,
		StartupGrace:    DefaultStartupGrace,
	}
}

// Detector classifies sessions as active, stale, or stuck. It holds
// resolved thresholds only; Check is a pure function of the session
// snapshot and the supplied clock reading.
type Detector struct {
	stale time.Duration
	stuck time.Duration
	grace time.Duration
}

// NewDetector creates a detector, applying defaults and clamping both
// silence thresholds to the configured floor.
func NewDetector(config DetectorConfig) *Detector {
	floor := config.MinTimeout
	if floor <= 0 {
		floor = DefaultMinTimeout
	}
	stale := config.StaleTimeout
	if stale <= 0 {
		stale = DefaultStaleTimeout
	}
	if stale < floor {
		stale = floor
	}
	stuck := config.ProgressTimeout
	if stuck <= 0 {
		stuck = DefaultProgressTimeout
	}
	if stuck < floor {
		stuck = floor
	}
	grace := config.StartupGrace
	if grace <= 0 {
		grace = DefaultStartupGrace
	}
	return &Detector{stale: stale, stuck: stuck, grace: grace}
}

// StaleTimeout returns the effective no-output threshold.
func (d *Detector) StaleTimeout() time.Duration { return d.stale }

// ProgressTimeout returns the effective output-then-silence threshold.
func (d *Detector) ProgressTimeout() time.Duration { return d.stuck }

// Check classifies a session at the given instant.
//
// Sessions younger than the startup grace are always active. Past the
// grace, a session that has never produced a message goes stale once
// its silence strictly exceeds the stale threshold; a session that has
// produced messages goes stuck once its silence strictly exceeds the
// progress threshold.
func (d *Detector) Check(s *core.TrackedSession, now time.Time) Staleness {
	if s == nil {
		return StalenessActive
	}
	if now.Sub(s.StartedAt) < d.grace {
		return StalenessActive
	}

	last := s.LastProgressAt
	if last.IsZero() {
		last = s.StartedAt
	}
	silence := now.Sub(last)

	if s.LastMessageCount == 0 {
		if silence > d.stale {
			return StalenessStale
		}
		return StalenessActive
	}
	if silence > d.stuck {
		return StalenessStuck
	}
	return StalenessActive
}
