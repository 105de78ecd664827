package state

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(Config{
		DataRoot:    filepath.Join(root, "data"),
		ScratchRoot: filepath.Join(root, "scratch"),
	}, logging.NewNop())
}

func sampleState(id core.WorkflowID) *core.WorkflowState {
	st := core.NewWorkflowState(id, core.WorkflowTypeBuild, core.ModeBalanced,
		[]core.GateName{"planning", "implementation", "testing"})
	st.CreatedAt = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	st.UpdatedAt = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return st
}

func TestStore_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	st := sampleState("wf-1")
	st.Gates["planning"].Status = core.GateStatusPassed
	st.AppendAgentRecord(core.AgentRecord{
		Timestamp: time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC),
		AgentType: "planner",
		Gate:      "planning",
		Verdict:   core.VerdictPass,
		SessionID: "ses-1",
	})
	path := s.PathFor(st.WorkflowID)

	if !s.Write(ctx, path, st) {
		t.Fatalf("write failed")
	}
	got := s.Read(ctx, path)
	if got == nil {
		t.Fatalf("read returned nil")
	}

	wantJSON, _ := json.Marshal(st)
	gotJSON, _ := json.Marshal(got)
	if !bytes.Equal(wantJSON, gotJSON) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %s", wantJSON, gotJSON)
	}

	// A raw write must not stamp UpdatedAt.
	if !got.UpdatedAt.Equal(st.UpdatedAt) {
		t.Fatalf("expected UpdatedAt untouched by raw write, got %v", got.UpdatedAt)
	}
}

func TestStore_ValidatePath(t *testing.T) {
	s := newStore(t)

	rejected := []string{
		"",
		"../escape.json",
		filepath.Join(s.ActiveRoot(), "..", "..", "escape.json"),
		s.ActiveRoot() + "/wf;rm -rf.json",
		s.ActiveRoot() + "/wf|pipe.json",
		s.ActiveRoot() + "/wf$HOME.json",
		s.ActiveRoot() + "/wf\x00.json",
		`\\attacker\share\wf.json`,
		"/etc/passwd",
		filepath.Join(os.TempDir(), "outside.json"),
	}
	for _, path := range rejected {
		if got, ok := s.ValidatePath(path); ok {
			t.Fatalf("expected %q rejected, got %q", path, got)
		}
	}

	accepted := []string{
		filepath.Join(s.ActiveRoot(), "wf-1.json"),
		filepath.Join(s.CompletedRoot(), "wf-2.json"),
		filepath.Join(s.ScratchRoot(), "session-abc.json"),
		s.ActiveRoot() + "/./wf-3.json",
	}
	for _, path := range accepted {
		confined, ok := s.ValidatePath(path)
		if !ok {
			t.Fatalf("expected %q accepted", path)
		}
		if !filepath.IsAbs(confined) {
			t.Fatalf("expected canonical absolute path, got %q", confined)
		}
		if strings.Contains(confined, "/./") {
			t.Fatalf("expected cleaned path, got %q", confined)
		}
	}
}

func TestStore_ReadSilentNull(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Missing file.
	if st := s.Read(ctx, s.PathFor("nope")); st != nil {
		t.Fatalf("expected nil for missing record")
	}

	// Malformed JSON.
	path := s.PathFor("broken")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if st := s.Read(ctx, path); st != nil {
		t.Fatalf("expected nil for malformed record")
	}

	// Structurally valid JSON, invalid record.
	bad := sampleState("bad")
	bad.Gates["planning"].Status = "detonated"
	data, _ := json.Marshal(bad)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if st := s.Read(ctx, path); st != nil {
		t.Fatalf("expected nil for record with unknown status")
	}

	// Rejected path.
	if st := s.Read(ctx, "/etc/passwd"); st != nil {
		t.Fatalf("expected nil for unconfined path")
	}
}

func TestStore_WriteRejectedPathLeavesNoFile(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "outside.json")
	if s.Write(ctx, outside, sampleState("wf-1")) {
		t.Fatalf("expected write outside the roots to fail")
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Fatalf("expected no file written outside the roots")
	}
}

func TestStore_UpdateStampsUpdatedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	st := sampleState("wf-1")
	path := s.PathFor(st.WorkflowID)
	if !s.Write(ctx, path, st) {
		t.Fatalf("write failed")
	}

	before := time.Now()
	updated := s.Update(ctx, path, func(cur *core.WorkflowState) *core.WorkflowState {
		cur.Gates["planning"].Status = core.GateStatusInProgress
		return cur
	})
	if updated == nil {
		t.Fatalf("update returned nil")
	}
	if updated.UpdatedAt.Before(before) {
		t.Fatalf("expected UpdatedAt stamped, got %v", updated.UpdatedAt)
	}

	reread := s.Read(ctx, path)
	if reread.Gates["planning"].Status != core.GateStatusInProgress {
		t.Fatalf("expected transform persisted")
	}
}

func TestStore_UpdateAbortLeavesFileUntouched(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	st := sampleState("wf-1")
	path := s.PathFor(st.WorkflowID)
	if !s.Write(ctx, path, st) {
		t.Fatalf("write failed")
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}

	result := s.Update(ctx, path, func(cur *core.WorkflowState) *core.WorkflowState {
		cur.Gates["planning"].Status = core.GateStatusPassed
		return nil // abort
	})
	if result != nil {
		t.Fatalf("expected aborted update to return nil")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if !bytes.Equal(original, after) {
		t.Fatalf("expected file byte-for-byte unchanged after abort")
	}
}

func TestStore_UpdateMissingRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	result := s.Update(ctx, s.PathFor("ghost"), func(cur *core.WorkflowState) *core.WorkflowState {
		return cur
	})
	if result != nil {
		t.Fatalf("expected update of missing record to return nil")
	}
}

func TestStore_FindActiveOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	ages := map[core.WorkflowID]time.Duration{
		"wf-old":    20 * time.Second,
		"wf-newest": 5 * time.Second,
		"wf-mid":    10 * time.Second,
	}
	for id, age := range ages {
		st := sampleState(id)
		st.UpdatedAt = now.Add(-age)
		if !s.Write(ctx, s.PathFor(id), st) {
			t.Fatalf("write %s failed", id)
		}
	}

	found := s.FindActive(ctx)
	if len(found) != 3 {
		t.Fatalf("expected 3 records, got %d", len(found))
	}
	want := []core.WorkflowID{"wf-newest", "wf-mid", "wf-old"}
	for i, id := range want {
		if found[i].State.WorkflowID != id {
			t.Fatalf("expected position %d to be %s, got %s", i, id, found[i].State.WorkflowID)
		}
	}

	active := s.Active(ctx)
	if active == nil || active.State.WorkflowID != "wf-newest" {
		t.Fatalf("expected wf-newest active, got %+v", active)
	}
}

func TestStore_FindActiveSkipsBrokenRecords(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if !s.Write(ctx, s.PathFor("wf-good"), sampleState("wf-good")) {
		t.Fatalf("write failed")
	}
	if err := os.WriteFile(filepath.Join(s.ActiveRoot(), "wf-broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.ActiveRoot(), "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	found := s.FindActive(ctx)
	if len(found) != 1 || found[0].State.WorkflowID != "wf-good" {
		t.Fatalf("expected only the good record, got %+v", found)
	}
}

func TestStore_FindActiveEmpty(t *testing.T) {
	s := newStore(t)
	if found := s.FindActive(context.Background()); len(found) != 0 {
		t.Fatalf("expected no records, got %d", len(found))
	}
	if active := s.Active(context.Background()); active != nil {
		t.Fatalf("expected nil active, got %+v", active)
	}
}

func TestStore_Checksum(t *testing.T) {
	s := newStore(t)

	a := sampleState("wf-1")
	b := sampleState("wf-1")
	if s.Checksum(a) != s.Checksum(b) {
		t.Fatalf("expected equal states to share a checksum")
	}
	if len(s.Checksum(a)) != 16 {
		t.Fatalf("expected short digest, got %q", s.Checksum(a))
	}

	b.Gates["planning"].Status = core.GateStatusPassed
	if s.Checksum(a) == s.Checksum(b) {
		t.Fatalf("expected differing states to differ in checksum")
	}

	if s.Checksum(nil) != "" {
		t.Fatalf("expected empty checksum for nil state")
	}
}

func TestStore_Archive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	st := sampleState("wf-1")
	path := s.PathFor(st.WorkflowID)
	if !s.Write(ctx, path, st) {
		t.Fatalf("write failed")
	}

	dest, ok := s.Archive(ctx, path)
	if !ok {
		t.Fatalf("archive failed")
	}
	if filepath.Dir(dest) != s.CompletedRoot() {
		t.Fatalf("expected destination under completed root, got %s", dest)
	}
	// A move, not a copy.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected source removed after archive")
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected archived record present: %v", err)
	}

	if _, ok := s.Archive(ctx, s.PathFor("ghost")); ok {
		t.Fatalf("expected archive of missing record to fail")
	}
	if _, ok := s.Archive(ctx, "/etc/passwd"); ok {
		t.Fatalf("expected archive of unconfined path to fail")
	}
}
