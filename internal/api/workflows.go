package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
)

// workflowSummary is the list-view DTO for one active workflow.
type workflowSummary struct {
	WorkflowID   core.WorkflowID   `json:"workflow_id"`
	WorkflowType core.WorkflowType `json:"workflow_type"`
	Mode         core.Mode         `json:"mode"`
	CurrentGate  core.GateName     `json:"current_gate"`
	Complete     bool              `json:"complete"`
	GatesPassed  int               `json:"gates_passed"`
	GatesSkipped int               `json:"gates_skipped"`
	GatesTotal   int               `json:"gates_total"`
	Path         string            `json:"path"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// workflowDetail pairs a record with its on-disk location.
type workflowDetail struct {
	Path    string              `json:"path"`
	State   *core.WorkflowState `json:"state"`
	Pending []gates.PendingGate `json:"pending_gates"`
}

func (s *Server) summarize(stored core.StoredState) workflowSummary {
	st := stored.State
	passed, skipped := 0, 0
	for _, gs := range st.Gates {
		if gs == nil {
			continue
		}
		switch gs.Status {
		case core.GateStatusPassed:
			passed++
		case core.GateStatusSkipped:
			skipped++
		}
	}
	return workflowSummary{
		WorkflowID:   st.WorkflowID,
		WorkflowType: st.WorkflowType,
		Mode:         st.Mode.Current,
		CurrentGate:  st.Phase.Current,
		Complete:     s.machine.AllMandatoryGatesPassed(st),
		GatesPassed:  passed,
		GatesSkipped: skipped,
		GatesTotal:   len(st.Gates),
		Path:         stored.Path,
		CreatedAt:    st.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListWorkflows returns every workflow in the active root, most
// recently updated first.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	stored := s.store.FindActive(r.Context())
	summaries := make([]workflowSummary, 0, len(stored))
	for _, item := range stored {
		if item.State == nil {
			continue
		}
		summaries = append(summaries, s.summarize(item))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"workflows": summaries,
		"count":     len(summaries),
	})
}

// handleActiveWorkflow returns the most recently updated workflow.
func (s *Server) handleActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	stored := s.store.Active(r.Context())
	if stored == nil || stored.State == nil {
		respondError(w, http.StatusNotFound, "no active workflow")
		return
	}
	respondJSON(w, http.StatusOK, workflowDetail{
		Path:    stored.Path,
		State:   stored.State,
		Pending: s.machine.PendingGates(stored.State),
	})
}

// resolveWorkflow finds a workflow by id: the canonical location first,
// then a scan of the active root for records stored under other names.
func (s *Server) resolveWorkflow(r *http.Request, id core.WorkflowID) *core.StoredState {
	path := s.store.PathFor(id)
	if st := s.store.Read(r.Context(), path); st != nil && st.WorkflowID == id {
		return &core.StoredState{Path: path, State: st}
	}
	for _, stored := range s.store.FindActive(r.Context()) {
		if stored.State != nil && stored.State.WorkflowID == id {
			return &stored
		}
	}
	return nil
}

// handleGetWorkflow returns one workflow record by id.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	stored := s.resolveWorkflow(r, id)
	if stored == nil {
		respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondJSON(w, http.StatusOK, workflowDetail{
		Path:    stored.Path,
		State:   stored.State,
		Pending: s.machine.PendingGates(stored.State),
	})
}

// handlePendingGates returns the unfinished gates of one workflow in
// canonical order.
func (s *Server) handlePendingGates(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	stored := s.resolveWorkflow(r, id)
	if stored == nil {
		respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"workflow_id": stored.State.WorkflowID,
		"complete":    s.machine.AllMandatoryGatesPassed(stored.State),
		"pending":     s.machine.PendingGates(stored.State),
	})
}

// handleListHistory returns archived workflow summaries.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	archived, err := s.history.ListArchived(r.Context(), limit)
	if err != nil {
		s.log.Error("listing history failed", "error", err)
		respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if archived == nil {
		archived = []core.ArchivedWorkflow{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"archived": archived,
		"count":    len(archived),
	})
}

// handleVerdictLog returns the recorded agent log of one archived
// workflow.
func (s *Server) handleVerdictLog(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	log, err := s.history.VerdictLog(r.Context(), id)
	if err != nil {
		s.log.Error("loading verdict log failed", "workflow_id", string(id), "error", err)
		respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if log == nil {
		log = []core.AgentRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"verdicts":    log,
	})
}
