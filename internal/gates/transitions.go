package gates

import (
	"fmt"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

// Transitions below are meant to run inside StateStore.Update
// transforms: they mutate the record in place and report invalid
// moves, leaving persistence to the store.

// Begin moves a pending gate to in_progress.
func (m *Machine) Begin(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status != core.GateStatusPending {
		return invalidTransition(gate, gs.Status, core.GateStatusInProgress)
	}
	gs.Status = core.GateStatusInProgress
	return nil
}

// Pass moves an in_progress gate to passed and advances the phase
// bookkeeping when the current gate resolved.
func (m *Machine) Pass(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status != core.GateStatusInProgress {
		return invalidTransition(gate, gs.Status, core.GateStatusPassed)
	}
	gs.Status = core.GateStatusPassed
	m.advancePhase(st)
	return nil
}

// Fail moves an in_progress gate to failed. The iteration counter is
// left alone; it only moves on retry.
func (m *Machine) Fail(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status != core.GateStatusInProgress {
		return invalidTransition(gate, gs.Status, core.GateStatusFailed)
	}
	gs.Status = core.GateStatusFailed
	return nil
}

// Skip marks a gate skipped. Passed gates cannot be skipped; anything
// still unresolved can. Skipping the current gate advances the phase.
func (m *Machine) Skip(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status == core.GateStatusPassed || gs.Status == core.GateStatusSkipped {
		return invalidTransition(gate, gs.Status, core.GateStatusSkipped)
	}
	gs.Status = core.GateStatusSkipped
	m.advancePhase(st)
	return nil
}

// Retry re-enters in_progress from failed with the same content,
// incrementing the iteration counter. Once the mode's budget is spent
// the retry is refused and the caller must escalate.
func (m *Machine) Retry(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status != core.GateStatusFailed {
		return invalidTransition(gate, gs.Status, core.GateStatusInProgress)
	}
	max := m.MaxIterationsFor(st.Mode.Current)
	if gs.Iteration+1 > max {
		return core.ErrRetriesExhausted(gate, gs.Iteration, max)
	}
	gs.Status = core.GateStatusInProgress
	gs.Iteration++
	return nil
}

// Rework re-enters in_progress from failed under new content. New
// content invalidates the retry history, so the iteration counter
// resets to zero.
func (m *Machine) Rework(st *core.WorkflowState, gate core.GateName) error {
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status != core.GateStatusFailed {
		return invalidTransition(gate, gs.Status, core.GateStatusInProgress)
	}
	gs.Status = core.GateStatusInProgress
	gs.Iteration = 0
	return nil
}

// ApplyVerdict folds one agent verdict into the record: resolves the
// agent's gate, opens it if still pending, applies the transition the
// verdict implies, and appends the agent-log entry. The log records
// the iteration the verdict applied to.
func (m *Machine) ApplyVerdict(st *core.WorkflowState, agentType string, verdict core.Verdict, sessionID core.SessionID) error {
	gate, ok := m.GateForAgent(agentType)
	if !ok {
		return core.ErrValidation("AGENT_UNKNOWN",
			fmt.Sprintf("agent type %q maps to no gate", agentType))
	}
	gs, ok := st.Gates[gate]
	if !ok {
		return core.ErrNotFound("gate", string(gate))
	}
	if gs.Status == core.GateStatusPending {
		if err := m.Begin(st, gate); err != nil {
			return err
		}
	}
	iteration := gs.Iteration

	var err error
	switch verdict {
	case core.VerdictPass:
		err = m.Pass(st, gate)
	case core.VerdictFail:
		err = m.Fail(st, gate)
	case core.VerdictSkip:
		err = m.Skip(st, gate)
	default:
		return core.ErrValidation("VERDICT_UNKNOWN",
			fmt.Sprintf("unknown verdict %q", verdict))
	}
	if err != nil {
		return err
	}

	st.AppendAgentRecord(core.AgentRecord{
		AgentType: agentType,
		Gate:      gate,
		Verdict:   verdict,
		Iteration: iteration,
		SessionID: sessionID,
	})
	return nil
}

// advancePhase shifts the phase partition forward while the current
// gate is resolved: current joins completed and the head of remaining
// takes its place. When nothing remains, current empties out.
func (m *Machine) advancePhase(st *core.WorkflowState) {
	for st.Phase.Current != "" {
		gs, ok := st.Gates[st.Phase.Current]
		if !ok || !gs.Status.Satisfied() {
			return
		}
		st.Phase.Completed = append(st.Phase.Completed, st.Phase.Current)
		if len(st.Phase.Remaining) > 0 {
			st.Phase.Current = st.Phase.Remaining[0]
			st.Phase.Remaining = st.Phase.Remaining[1:]
		} else {
			st.Phase.Current = ""
		}
	}
}

func invalidTransition(gate core.GateName, from, to core.GateStatus) *core.DomainError {
	return core.ErrState(core.CodeInvalidTransition,
		fmt.Sprintf("gate %s cannot move %s -> %s", gate, from, to))
}
