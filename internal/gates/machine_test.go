package gates

import (
	"testing"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

func buildState(t *testing.T) *core.WorkflowState {
	t.Helper()
	m := NewMachine(nil)
	return core.NewWorkflowState("wf-1", core.WorkflowTypeBuild, core.ModeBalanced,
		m.Ordering(core.WorkflowTypeBuild))
}

func TestMachine_AllMandatoryGatesPassed(t *testing.T) {
	m := NewMachine(nil)

	st := &core.WorkflowState{Gates: map[core.GateName]*core.GateState{
		"a": {Status: core.GateStatusPassed},
		"b": {Status: core.GateStatusSkipped},
		"c": {Status: core.GateStatusPassed},
	}}
	if !m.AllMandatoryGatesPassed(st) {
		t.Fatalf("expected passed+skipped gates to complete the workflow")
	}

	st.Gates["c"].Status = core.GateStatusFailed
	if m.AllMandatoryGatesPassed(st) {
		t.Fatalf("expected a failed gate to block completion")
	}

	for _, blocking := range []core.GateStatus{core.GateStatusPending, core.GateStatusInProgress} {
		st.Gates["c"].Status = blocking
		if m.AllMandatoryGatesPassed(st) {
			t.Fatalf("expected %s gate to block completion", blocking)
		}
	}

	if m.AllMandatoryGatesPassed(nil) {
		t.Fatalf("expected nil state to be incomplete")
	}
}

func TestMachine_PendingGates(t *testing.T) {
	m := NewMachine(nil)

	st := &core.WorkflowState{
		WorkflowType: core.WorkflowTypeBuild,
		Gates: map[core.GateName]*core.GateState{
			"a": {Status: core.GateStatusPassed},
			"b": {Status: core.GateStatusSkipped},
			"c": {Status: core.GateStatusFailed, Iteration: 2},
		},
	}
	pending := m.PendingGates(st)
	if len(pending) != 1 {
		t.Fatalf("expected one pending gate, got %d", len(pending))
	}
	if pending[0].Name != "c" || pending[0].Status != core.GateStatusFailed || pending[0].Iteration != 2 {
		t.Fatalf("unexpected pending entry: %+v", pending[0])
	}
}

func TestMachine_PendingGatesCanonicalOrder(t *testing.T) {
	m := NewMachine(nil)
	st := buildState(t)

	st.Gates[GateTesting].Status = core.GateStatusFailed
	st.Gates[GatePlanning].Status = core.GateStatusPassed

	pending := m.PendingGates(st)
	want := []core.GateName{GateImplementation, GateTesting, GateReview, GateDocs}
	if len(pending) != len(want) {
		t.Fatalf("expected %d pending gates, got %d", len(want), len(pending))
	}
	for i, name := range want {
		if pending[i].Name != name {
			t.Fatalf("expected gate %d to be %s, got %s", i, name, pending[i].Name)
		}
	}
}

func TestMachine_NextPhase(t *testing.T) {
	m := NewMachine(nil)
	st := buildState(t)

	next, ok := m.NextPhase(st)
	if !ok || next != GateImplementation {
		t.Fatalf("expected next phase implementation, got %s (%v)", next, ok)
	}

	st.Phase.Remaining = nil
	if _, ok := m.NextPhase(st); ok {
		t.Fatalf("expected no next phase at the last stage")
	}
}

func TestMachine_GateForAgent(t *testing.T) {
	m := NewMachine(nil)

	gate, ok := m.GateForAgent("reviewer")
	if !ok || gate != GateReview {
		t.Fatalf("expected reviewer to map to review, got %s", gate)
	}

	// Lite and deep variants of the reviewing role share one gate.
	lite, ok := m.GateForAgent("reviewer-lite")
	if !ok || lite != GateReview {
		t.Fatalf("expected reviewer-lite to map to review, got %s", lite)
	}

	if _, ok := m.GateForAgent("barista"); ok {
		t.Fatalf("expected unknown agent role to map to no gate")
	}
}

func TestMachine_TierPolicy(t *testing.T) {
	m := NewMachine(nil)

	if !m.TierForbidden(core.ModeEconomy, core.TierHeavy) {
		t.Fatalf("expected economy mode to forbid heavy tier")
	}
	if m.TierForbidden(core.ModeEconomy, core.TierLight) {
		t.Fatalf("expected economy mode to allow light tier")
	}
	if m.TierForbidden(core.ModeThorough, core.TierHeavy) {
		t.Fatalf("expected thorough mode to allow heavy tier")
	}

	if m.PreferredTier(core.ModeThorough) != core.TierHeavy {
		t.Fatalf("expected thorough mode to prefer heavy tier")
	}
	if m.PreferredTier(core.ModeBalanced) != core.TierMedium {
		t.Fatalf("expected balanced mode to prefer medium tier")
	}
}

func TestMachine_UnknownModeFailsOpen(t *testing.T) {
	m := NewMachine(nil)

	// Policy fails open: an undeclared mode forbids nothing...
	for _, tier := range []core.Tier{core.TierLight, core.TierMedium, core.TierHeavy} {
		if m.TierForbidden("vibes", tier) {
			t.Fatalf("expected unknown mode to forbid nothing, forbade %s", tier)
		}
	}
	// ...while capability fails closed: it gets the conservative tier.
	if m.PreferredTier("vibes") != core.TierLight {
		t.Fatalf("expected unknown mode to prefer the light tier")
	}
}

func TestMachine_MaxIterations(t *testing.T) {
	m := NewMachine(nil)

	if m.MaxIterationsFor(core.ModeThorough) != 5 {
		t.Fatalf("expected thorough budget 5")
	}
	if m.MaxIterationsFor(core.ModeEconomy) != 2 {
		t.Fatalf("expected economy budget 2")
	}
	if m.MaxIterationsFor("vibes") != DefaultMaxIterations {
		t.Fatalf("expected unknown mode to use the default budget")
	}
}

func TestMachine_OrderingUnknownType(t *testing.T) {
	m := NewMachine(nil)

	order := m.Ordering("renovate")
	if len(order) == 0 || order[0] != GatePlanning {
		t.Fatalf("expected unknown workflow type to fall back to the build pipeline, got %v", order)
	}
}
