package core

import (
	"fmt"
	"time"
)

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// WorkflowType selects which canonical gate pipeline applies.
type WorkflowType string

const (
	// WorkflowTypeBuild is the general delivery pipeline:
	// planning, implementation, testing, review, docs.
	WorkflowTypeBuild WorkflowType = "build"

	// WorkflowTypeExplore is the exploration-heavy pipeline:
	// discovery, analysis, prototype, findings.
	WorkflowTypeExplore WorkflowType = "explore"
)

// ValidWorkflowType checks if a workflow type string is known.
func ValidWorkflowType(t WorkflowType) bool {
	switch t {
	case WorkflowTypeBuild, WorkflowTypeExplore:
		return true
	default:
		return false
	}
}

// ParseWorkflowType converts a string to a WorkflowType with validation.
func ParseWorkflowType(s string) (WorkflowType, error) {
	t := WorkflowType(s)
	if !ValidWorkflowType(t) {
		return "", fmt.Errorf("invalid workflow type: %s", s)
	}
	return t, nil
}

// String returns the string representation of the workflow type.
func (t WorkflowType) String() string {
	return string(t)
}

// GateName identifies one pipeline stage.
type GateName string

// GateStatus represents the lifecycle state of a gate.
type GateStatus string

const (
	GateStatusPending    GateStatus = "pending"
	GateStatusInProgress GateStatus = "in_progress"
	GateStatusPassed     GateStatus = "passed"
	GateStatusFailed     GateStatus = "failed"
	GateStatusSkipped    GateStatus = "skipped"
)

// ValidGateStatus checks if a gate status string is known.
func ValidGateStatus(s GateStatus) bool {
	switch s {
	case GateStatusPending, GateStatusInProgress, GateStatusPassed,
		GateStatusFailed, GateStatusSkipped:
		return true
	default:
		return false
	}
}

// ParseGateStatus converts a string to a GateStatus with validation.
func ParseGateStatus(s string) (GateStatus, error) {
	gs := GateStatus(s)
	if !ValidGateStatus(gs) {
		return "", fmt.Errorf("invalid gate status: %s", s)
	}
	return gs, nil
}

// String returns the string representation of the gate status.
func (s GateStatus) String() string {
	return string(s)
}

// Satisfied reports whether the status counts toward workflow completion.
// Skipped gates are not mandatory.
func (s GateStatus) Satisfied() bool {
	return s == GateStatusPassed || s == GateStatusSkipped
}

// GateState is the durable per-gate record: lifecycle status plus a
// retry counter. Iteration resets to 0 whenever the gate leaves failed
// and re-enters in_progress under new content.
type GateState struct {
	Status    GateStatus `json:"status"`
	Iteration int        `json:"iteration"`
}

// Phase partitions the gate sequence of a workflow. Current is never
// simultaneously in Completed; Remaining excludes Current and
// everything in Completed.
type Phase struct {
	Current   GateName   `json:"current"`
	Completed []GateName `json:"completed"`
	Remaining []GateName `json:"remaining"`
}

// Verdict is the outcome an agent reports for a gate.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictSkip Verdict = "skip"
)

// AgentRecord is one append-only entry in a workflow's agent log.
type AgentRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AgentType string    `json:"agent_type"`
	Gate      GateName  `json:"gate"`
	Verdict   Verdict   `json:"verdict"`
	Iteration int       `json:"iteration"`
	SessionID SessionID `json:"agent_session_id,omitempty"`
}

// ModeState wraps the currently selected mode so the durable record
// mirrors the phase sub-object shape.
type ModeState struct {
	Current Mode `json:"current"`
}

// CurrentStateVersion is the schema version for workflow state files.
const CurrentStateVersion = 1

// WorkflowState is the single durable record for one workflow instance.
// It is mutated exclusively through StateStore.Update.
type WorkflowState struct {
	Version      int                     `json:"version"`
	WorkflowID   WorkflowID              `json:"workflow_id"`
	WorkflowType WorkflowType            `json:"workflow_type"`
	Phase        Phase                   `json:"phase"`
	Gates        map[GateName]*GateState `json:"gates"`
	AgentLog     []AgentRecord           `json:"agent_log"`
	Mode         ModeState               `json:"mode"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// NewWorkflowState creates a workflow record positioned at the head of
// the given gate ordering, with every gate pending.
func NewWorkflowState(id WorkflowID, wt WorkflowType, mode Mode, order []GateName) *WorkflowState {
	st := &WorkflowState{
		Version:      CurrentStateVersion,
		WorkflowID:   id,
		WorkflowType: wt,
		Gates:        make(map[GateName]*GateState, len(order)),
		AgentLog:     make([]AgentRecord, 0),
		Mode:         ModeState{Current: mode},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	for _, g := range order {
		st.Gates[g] = &GateState{Status: GateStatusPending}
	}
	if len(order) > 0 {
		st.Phase = Phase{
			Current:   order[0],
			Completed: make([]GateName, 0),
			Remaining: append([]GateName(nil), order[1:]...),
		}
	}
	return st
}

// Gate returns the state for a named gate, if tracked.
func (ws *WorkflowState) Gate(name GateName) (*GateState, bool) {
	gs, ok := ws.Gates[name]
	return gs, ok
}

// AppendAgentRecord appends one entry to the agent log. Existing
// entries are never rewritten.
func (ws *WorkflowState) AppendAgentRecord(rec AgentRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	ws.AgentLog = append(ws.AgentLog, rec)
}

// Validate checks workflow record invariants.
func (ws *WorkflowState) Validate() error {
	if ws.WorkflowID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow ID cannot be empty")
	}
	if !ValidWorkflowType(ws.WorkflowType) {
		return ErrValidation("WORKFLOW_TYPE_UNKNOWN",
			fmt.Sprintf("unknown workflow type %q", ws.WorkflowType))
	}
	for name, gs := range ws.Gates {
		if gs == nil {
			return ErrState("GATE_STATE_NIL", fmt.Sprintf("gate %s has no state", name))
		}
		if !ValidGateStatus(gs.Status) {
			return ErrState("GATE_STATUS_UNKNOWN",
				fmt.Sprintf("gate %s has unknown status %q", name, gs.Status))
		}
		if gs.Iteration < 0 {
			return ErrState("GATE_ITERATION_NEGATIVE",
				fmt.Sprintf("gate %s has negative iteration %d", name, gs.Iteration))
		}
	}
	for _, done := range ws.Phase.Completed {
		if done == ws.Phase.Current {
			return ErrState("PHASE_PARTITION_BROKEN",
				fmt.Sprintf("gate %s is both current and completed", done))
		}
	}
	for _, rem := range ws.Phase.Remaining {
		if rem == ws.Phase.Current {
			return ErrState("PHASE_PARTITION_BROKEN",
				fmt.Sprintf("gate %s is both current and remaining", rem))
		}
		for _, done := range ws.Phase.Completed {
			if rem == done {
				return ErrState("PHASE_PARTITION_BROKEN",
					fmt.Sprintf("gate %s is both completed and remaining", rem))
			}
		}
	}
	return nil
}
