package core

import (
	"testing"
	"time"
)

func TestSessionStatus_Terminal(t *testing.T) {
	for _, s := range []SessionStatus{SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []SessionStatus{SessionStatusPending, SessionStatusRunning} {
		if s.Terminal() {
			t.Fatalf("expected %s not to be terminal", s)
		}
	}
}

func TestSessionStatus_Parse(t *testing.T) {
	ss, err := ParseSessionStatus("running")
	if err != nil {
		t.Fatalf("unexpected error parsing session status: %v", err)
	}
	if ss != SessionStatusRunning {
		t.Fatalf("expected running, got %s", ss)
	}

	if _, err := ParseSessionStatus("hibernating"); err == nil {
		t.Fatalf("expected error parsing invalid session status")
	}
}

func TestTrackedSession_ObserveProgress(t *testing.T) {
	start := time.Now()
	ts := &TrackedSession{
		SessionID:      "ses-1",
		TaskID:         "task-1",
		Status:         SessionStatusRunning,
		StartedAt:      start,
		LastProgressAt: start,
	}

	later := start.Add(10 * time.Second)
	ts.ObserveProgress(3, later)
	if ts.LastMessageCount != 3 {
		t.Fatalf("expected message count 3, got %d", ts.LastMessageCount)
	}
	if !ts.LastProgressAt.Equal(later) {
		t.Fatalf("expected progress time to advance")
	}

	// Same count again: no progress recorded.
	evenLater := start.Add(20 * time.Second)
	ts.ObserveProgress(3, evenLater)
	if !ts.LastProgressAt.Equal(later) {
		t.Fatalf("expected progress time unchanged on equal count")
	}

	// A smaller count never rolls the counter back.
	ts.ObserveProgress(1, evenLater)
	if ts.LastMessageCount != 3 {
		t.Fatalf("expected message count to stay at 3, got %d", ts.LastMessageCount)
	}
}

func TestSwarmBatch_Resolved(t *testing.T) {
	b := NewSwarmBatch("batch-1", "testing")
	if !b.Resolved() {
		t.Fatalf("expected empty batch to be resolved")
	}

	b.Track(&TrackedSession{SessionID: "ses-1", TaskID: "task-1", Status: SessionStatusRunning})
	b.Track(&TrackedSession{SessionID: "ses-2", TaskID: "task-2", Status: SessionStatusCompleted})
	if b.Resolved() {
		t.Fatalf("expected batch with a running member to be unresolved")
	}

	b.Sessions["task-1"].Status = SessionStatusFailed
	if !b.Resolved() {
		t.Fatalf("expected batch with all terminal members to be resolved")
	}
}

func TestSwarmBatch_Tally(t *testing.T) {
	b := NewSwarmBatch("batch-1", "testing")
	b.Track(&TrackedSession{TaskID: "task-1", Status: SessionStatusCompleted})
	b.Track(&TrackedSession{TaskID: "task-2", Status: SessionStatusCompleted})
	b.Track(&TrackedSession{TaskID: "task-3", Status: SessionStatusCancelled})

	tally := b.Tally()
	if tally[SessionStatusCompleted] != 2 {
		t.Fatalf("expected 2 completed, got %d", tally[SessionStatusCompleted])
	}
	if tally[SessionStatusCancelled] != 1 {
		t.Fatalf("expected 1 cancelled, got %d", tally[SessionStatusCancelled])
	}
}
