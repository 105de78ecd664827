package core

import (
	"context"
	"time"
)

// =============================================================================
// StateStore Port
// =============================================================================

// StoredState pairs an on-disk workflow record with its location.
type StoredState struct {
	Path  string
	State *WorkflowState
}

// StateStore defines the contract for durable workflow state
// persistence. Persistence and path-resolution failures are
// silent-and-null: every operation degrades to "no data available"
// instead of surfacing an error, so a transient disk fault cannot
// abort an otherwise healthy multi-minute workflow. Callers that need
// to distinguish "missing" from "broken" must check the logs.
type StateStore interface {
	// ValidatePath canonicalizes a path and confines it to the
	// workflow-data root or the scratch root. Traversal sequences,
	// shell metacharacters, NUL bytes, and UNC-style prefixes are
	// rejected. Returns ("", false) on rejection.
	ValidatePath(path string) (string, bool)

	// PathFor returns the canonical on-disk location for a workflow id
	// under the active root.
	PathFor(id WorkflowID) string

	// Read loads and parses the record at a validated path. Any I/O or
	// parse failure yields nil.
	Read(ctx context.Context, path string) *WorkflowState

	// Write serializes the record to a sibling temporary file and
	// atomically renames it over the target. The on-disk file is
	// always either the old complete record or the new complete
	// record. Write does not stamp UpdatedAt; only Update does.
	Write(ctx context.Context, path string, state *WorkflowState) bool

	// Update is the only sanctioned mutation path: load, apply the
	// transform, stamp UpdatedAt, persist. A transform returning nil
	// aborts the update and leaves the file untouched. Concurrent
	// read-modify-write from two processes is last-writer-wins; each
	// workflow is expected to have a single active controller.
	Update(ctx context.Context, path string, transform func(*WorkflowState) *WorkflowState) *WorkflowState

	// FindActive returns every record under the active root, sorted by
	// UpdatedAt descending. Tie order is unspecified.
	FindActive(ctx context.Context) []StoredState

	// Active returns the most recently updated workflow, or nil.
	Active(ctx context.Context) *StoredState

	// Checksum returns a short deterministic content digest for
	// tamper/staleness equality checks. Not cryptographically
	// sensitive.
	Checksum(state *WorkflowState) string

	// Archive moves (never copies) a record from the active root to
	// the completed root. Returns the destination path, or ("", false)
	// if the move failed.
	Archive(ctx context.Context, path string) (string, bool)
}

// =============================================================================
// SessionLauncher Port
// =============================================================================

// LaunchSpec describes one agent task to start as an external session.
type LaunchSpec struct {
	WorkflowID WorkflowID
	TaskID     TaskID
	Agent      string
	Provider   string
	Tier       Tier
	Prompt     string
	WorkDir    string
	Timeout    time.Duration
}

// SessionProgress is one polled snapshot of an external session.
// Terminal is empty while the session is still live.
type SessionProgress struct {
	MessageCount int
	Terminal     SessionStatus
}

// Done reports whether the session reached a terminal status.
func (p SessionProgress) Done() bool {
	return p.Terminal != "" && p.Terminal.Terminal()
}

// SessionHandle is an opaque external execution handle for one agent
// task. The core only polls it; cancellation is the caller's decision.
type SessionHandle interface {
	// ID returns the external session identifier.
	ID() SessionID

	// Poll reports the message count so far and, once the session
	// ends, its terminal status.
	Poll(ctx context.Context) (SessionProgress, error)

	// Cancel asks the underlying execution to stop. Cooperative; the
	// scheduler never calls this on its own.
	Cancel(ctx context.Context) error
}

// SessionLauncher starts external agent sessions. Implementations wrap
// whatever actually executes an agent task.
type SessionLauncher interface {
	// Name returns the launcher identifier (e.g., "opencode").
	Name() string

	// Ping checks that the underlying executor is available.
	Ping(ctx context.Context) error

	// Launch starts one session and returns its handle.
	Launch(ctx context.Context, spec LaunchSpec) (SessionHandle, error)
}

// =============================================================================
// HistoryStore Port
// =============================================================================

// ArchivedWorkflow summarizes one archived workflow for history queries.
type ArchivedWorkflow struct {
	WorkflowID   WorkflowID   `json:"workflow_id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	Mode         Mode         `json:"mode"`
	ArchivePath  string       `json:"archive_path"`
	GatesPassed  int          `json:"gates_passed"`
	GatesSkipped int          `json:"gates_skipped"`
	Verdicts     int          `json:"verdicts"`
	CreatedAt    time.Time    `json:"created_at"`
	ArchivedAt   time.Time    `json:"archived_at"`
}

// HistoryStore records archived workflows and their agent logs for
// later inspection. Unlike the state store, history failures are real
// errors: history is written once at archival, outside the hot path.
type HistoryStore interface {
	// RecordArchive stores the summary and agent log of a workflow
	// that was just moved to the completed root.
	RecordArchive(ctx context.Context, state *WorkflowState, archivePath string) error

	// ListArchived returns archived summaries, most recent first.
	ListArchived(ctx context.Context, limit int) ([]ArchivedWorkflow, error)

	// VerdictLog returns the recorded agent log for one workflow.
	VerdictLog(ctx context.Context, id WorkflowID) ([]AgentRecord, error)

	// Close releases the underlying store.
	Close() error
}
