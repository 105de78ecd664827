// Package integration wires the real components a serve-mode process
// runs — state store, gate machine, session registry, swarm scheduler,
// janitor, history, HTTP server — and exercises them together against
// temp directories. Only the external session launcher is stubbed.
package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/history"
	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/state"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
	"github.com/zb-ss/opencode-workflows-sub001/internal/session"
)

// harness bundles the component set one coordinator process owns.
type harness struct {
	store    *state.Store
	registry *session.Registry
	machine  *gates.Machine
	bus      *events.EventBus
	history  *history.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")

	store := state.New(state.Config{
		DataRoot:    filepath.Join(dir, "data"),
		ScratchRoot: scratch,
	}, logging.NewNop())

	hist, err := history.NewStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("opening history store: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	bus := events.New(64)
	t.Cleanup(bus.Close)

	return &harness{
		store:    store,
		registry: session.NewRegistry(store, scratch, logging.NewNop()),
		machine:  gates.NewMachine(nil),
		bus:      bus,
		history:  hist,
	}
}

// seedWorkflow writes a fresh workflow record and returns its location.
func (h *harness) seedWorkflow(t *testing.T, id core.WorkflowID, wt core.WorkflowType, mode core.Mode) *core.StoredState {
	t.Helper()
	st := core.NewWorkflowState(id, wt, mode, h.machine.Ordering(wt))
	path := h.store.PathFor(id)
	if !h.store.Write(context.Background(), path, st) {
		t.Fatalf("seeding workflow %s failed", id)
	}
	return &core.StoredState{Path: path, State: st}
}

// transition applies one gate transition through the store's update
// path, failing the test if the machine refuses it.
func (h *harness) transition(t *testing.T, path string, apply func(*core.WorkflowState) error) *core.WorkflowState {
	t.Helper()
	var terr error
	updated := h.store.Update(context.Background(), path, func(st *core.WorkflowState) *core.WorkflowState {
		if terr = apply(st); terr != nil {
			return nil
		}
		return st
	})
	if terr != nil {
		t.Fatalf("gate transition refused: %v", terr)
	}
	if updated == nil {
		t.Fatal("gate transition did not persist")
	}
	return updated
}

// stubLauncher completes (or fails) sessions after a fixed number of
// polls, standing in for the external OpenCode process.
type stubLauncher struct {
	mu        sync.Mutex
	pollsToGo int
	outcomes  map[core.TaskID]core.SessionStatus
	launched  []core.TaskID
}

func newStubLauncher(pollsToGo int) *stubLauncher {
	return &stubLauncher{
		pollsToGo: pollsToGo,
		outcomes:  make(map[core.TaskID]core.SessionStatus),
	}
}

// failTask makes the given task end failed instead of completed.
func (l *stubLauncher) failTask(task core.TaskID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[task] = core.SessionStatusFailed
}

func (l *stubLauncher) Name() string { return "stub" }

func (l *stubLauncher) Ping(context.Context) error { return nil }

func (l *stubLauncher) Launch(_ context.Context, spec core.LaunchSpec) (core.SessionHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, spec.TaskID)
	terminal := core.SessionStatusCompleted
	if status, ok := l.outcomes[spec.TaskID]; ok {
		terminal = status
	}
	return &stubHandle{
		id:       core.SessionID("ses-" + string(spec.TaskID)),
		left:     l.pollsToGo,
		terminal: terminal,
	}, nil
}

func (l *stubLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type stubHandle struct {
	mu       sync.Mutex
	id       core.SessionID
	left     int
	messages int
	terminal core.SessionStatus
}

func (h *stubHandle) ID() core.SessionID { return h.id }

func (h *stubHandle) Poll(context.Context) (core.SessionProgress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages++
	if h.left > 0 {
		h.left--
		return core.SessionProgress{MessageCount: h.messages}, nil
	}
	return core.SessionProgress{MessageCount: h.messages, Terminal: h.terminal}, nil
}

func (h *stubHandle) Cancel(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminal = core.SessionStatusCancelled
	return nil
}
