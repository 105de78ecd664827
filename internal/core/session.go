package core

import (
	"fmt"
	"time"
)

// SessionID identifies an external execution session for one agent
// task. Caller sessions (the interactive side tracked by the session
// registry) share the same identifier space.
type SessionID string

// TaskID identifies one task within a fan-out batch.
type TaskID string

// SessionStatus represents the lifecycle state of a tracked session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// ValidSessionStatus checks if a session status string is known.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusCompleted,
		SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseSessionStatus converts a string to a SessionStatus with validation.
func ParseSessionStatus(s string) (SessionStatus, error) {
	ss := SessionStatus(s)
	if !ValidSessionStatus(ss) {
		return "", fmt.Errorf("invalid session status: %s", s)
	}
	return ss, nil
}

// String returns the string representation of the session status.
func (s SessionStatus) String() string {
	return string(s)
}

// Terminal reports whether the status ends a session's lifecycle.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed ||
		s == SessionStatusCancelled
}

// TrackedSession is the ephemeral, in-memory record for one spawned
// parallel task. It is owned exclusively by the scheduler for the
// lifetime of one batch and is never persisted to the workflow record
// directly; only aggregated results are.
type TrackedSession struct {
	SessionID        SessionID
	TaskID           TaskID
	Agent            string
	Provider         string
	Status           SessionStatus
	StartedAt        time.Time
	LastMessageCount int
	LastProgressAt   time.Time
}

// ObserveProgress folds a polled message count into the session.
// Counters move only on strictly newer information; a poll that
// reports the same or a smaller count leaves LastProgressAt alone so
// staleness classification stays honest.
func (ts *TrackedSession) ObserveProgress(messageCount int, now time.Time) {
	if messageCount > ts.LastMessageCount {
		ts.LastMessageCount = messageCount
		ts.LastProgressAt = now
	}
}

// SwarmBatch groups the tracked sessions spawned together for one
// fan-out gate. It is discarded once every member reached a terminal
// status and the aggregate result has been folded into the owning
// workflow record.
type SwarmBatch struct {
	BatchID   string
	Gate      GateName
	Sessions  map[TaskID]*TrackedSession
	CreatedAt time.Time
}

// NewSwarmBatch creates an empty batch for one fan-out gate.
func NewSwarmBatch(batchID string, gate GateName) *SwarmBatch {
	return &SwarmBatch{
		BatchID:   batchID,
		Gate:      gate,
		Sessions:  make(map[TaskID]*TrackedSession),
		CreatedAt: time.Now(),
	}
}

// Track adds a session to the batch, keyed by task id.
func (b *SwarmBatch) Track(ts *TrackedSession) {
	b.Sessions[ts.TaskID] = ts
}

// Resolved reports whether every member session reached a terminal
// status. An empty batch is resolved.
func (b *SwarmBatch) Resolved() bool {
	for _, ts := range b.Sessions {
		if !ts.Status.Terminal() {
			return false
		}
	}
	return true
}

// Tally counts member sessions by status.
func (b *SwarmBatch) Tally() map[SessionStatus]int {
	tally := make(map[SessionStatus]int)
	for _, ts := range b.Sessions {
		tally[ts.Status]++
	}
	return tally
}
