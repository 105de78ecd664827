package api

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/state"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

func waitForChange(t *testing.T, ch <-chan events.Event, wantID string) events.WorkflowChangedEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("bus closed while waiting for change event")
			}
			changed, isChange := ev.(events.WorkflowChangedEvent)
			if !isChange {
				continue
			}
			if changed.WorkflowID() == wantID {
				return changed
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change event for %s", wantID)
		}
	}
}

func TestWatcherPublishesWorkflowChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := state.New(state.Config{DataRoot: t.TempDir(), ScratchRoot: t.TempDir()}, logging.NewNop())
	bus := events.New(32)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeWorkflowChanged)

	w, err := NewStateWatcher(st, bus, st.ActiveRoot(), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	wf := core.NewWorkflowState("wf-watch", core.WorkflowTypeBuild, core.DefaultMode,
		[]core.GateName{"planning", "implementation"})
	path := st.PathFor(wf.WorkflowID)
	if !st.Write(ctx, path, wf) {
		t.Fatal("writing workflow failed")
	}

	ev := waitForChange(t, ch, "wf-watch")
	if ev.Op != "create" && ev.Op != "write" {
		t.Errorf("unexpected op %q for new file", ev.Op)
	}
	if ev.Phase != "planning" || ev.Status != "valid" {
		t.Errorf("expected best-effort state fields, got %+v", ev)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	// Straggler events from the write may still arrive first.
	deadline := time.After(3 * time.Second)
	for {
		ev = waitForChange(t, ch, "wf-watch")
		if ev.Op == "remove" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("never saw remove op, last event %+v", ev)
		default:
		}
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	st := state.New(state.Config{DataRoot: t.TempDir(), ScratchRoot: t.TempDir()}, logging.NewNop())
	bus := events.New(4)
	defer bus.Close()

	w, err := NewStateWatcher(st, bus, st.ActiveRoot(), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	w.Stop() // must not block
}
