package events

// Event types published while a serve-mode process is running.
const (
	TypeWorkflowChanged  = "workflow_changed"
	TypeWorkflowArchived = "workflow_archived"
	TypeSweepCompleted   = "sweep_completed"
)

// WorkflowChangedEvent is published when a state file under the active
// data root is created, rewritten, or removed.
type WorkflowChangedEvent struct {
	BaseEvent
	Path   string `json:"path"`
	Op     string `json:"op"`
	Status string `json:"status,omitempty"`
	Phase  string `json:"phase,omitempty"`
}

// NewWorkflowChanged creates a workflow changed event. Status and phase
// are best effort: empty when the state file could not be read.
func NewWorkflowChanged(workflowID, path, op, status, phase string) WorkflowChangedEvent {
	return WorkflowChangedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowChanged, workflowID),
		Path:      path,
		Op:        op,
		Status:    status,
		Phase:     phase,
	}
}

// WorkflowArchivedEvent is published when a completed workflow is moved
// out of the active data root.
type WorkflowArchivedEvent struct {
	BaseEvent
	ArchivePath  string `json:"archive_path"`
	GatesPassed  int    `json:"gates_passed"`
	GatesSkipped int    `json:"gates_skipped"`
}

// NewWorkflowArchived creates a workflow archived event.
func NewWorkflowArchived(workflowID, archivePath string, passed, skipped int) WorkflowArchivedEvent {
	return WorkflowArchivedEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowArchived, workflowID),
		ArchivePath:  archivePath,
		GatesPassed:  passed,
		GatesSkipped: skipped,
	}
}

// SweepCompletedEvent is published after a janitor pass over the
// scratch and data roots.
type SweepCompletedEvent struct {
	BaseEvent
	MarkersRemoved int `json:"markers_removed"`
	Archived       int `json:"archived"`
}

// NewSweepCompleted creates a sweep completed event. Sweeps are not
// tied to a single workflow, so the workflow id is empty.
func NewSweepCompleted(markersRemoved, archived int) SweepCompletedEvent {
	return SweepCompletedEvent{
		BaseEvent:      NewBaseEvent(TypeSweepCompleted, ""),
		MarkersRemoved: markersRemoved,
		Archived:       archived,
	}
}
