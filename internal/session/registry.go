// Package session binds interactive caller sessions to workflow
// records and tracks the swarm batches spawned on their behalf.
// Bindings and markers are small JSON files in the scratch root, named
// deterministically from the caller session id so independent
// invocations within one session rediscover the active workflow
// without re-passing an id.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/fsutil"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// Binding is a caller session's pointer to the workflow file it
// currently controls. At most one binding exists per caller session.
type Binding struct {
	SessionID    core.SessionID  `json:"session_id"`
	WorkflowPath string          `json:"workflow_path"`
	WorkflowID   core.WorkflowID `json:"workflow_id,omitempty"`
	BoundAt      time.Time       `json:"bound_at"`
}

// Marker records that a caller session was recently active.
type Marker struct {
	SessionID core.SessionID `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Registry resolves caller sessions to workflows. Binding files and
// batch maps are private mutable state with no synchronization: the
// registry assumes the single-threaded cooperative access model of one
// controlling process per workflow.
type Registry struct {
	store       core.StateStore
	scratchRoot string
	batches     map[string]*core.SwarmBatch
	log         *logging.Logger
}

// NewRegistry creates a registry over the given store and scratch root.
func NewRegistry(store core.StateStore, scratchRoot string, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		store:       store,
		scratchRoot: scratchRoot,
		batches:     make(map[string]*core.SwarmBatch),
		log:         log,
	}
}

// Bind records the workflow a caller session controls, overwriting any
// prior binding for that session.
func (r *Registry) Bind(ctx context.Context, sessionID core.SessionID, workflowPath string, workflowID core.WorkflowID) error {
	if sessionID == "" {
		return core.ErrValidation("SESSION_ID_REQUIRED", "session id cannot be empty")
	}
	confined, ok := r.store.ValidatePath(workflowPath)
	if !ok {
		return core.ErrValidation(core.CodePathRejected, "workflow path is not confined to the data roots").
			WithDetail("path", workflowPath)
	}

	binding := Binding{
		SessionID:    sessionID,
		WorkflowPath: confined,
		WorkflowID:   workflowID,
		BoundAt:      time.Now(),
	}
	data, err := json.MarshalIndent(binding, "", "  ")
	if err != nil {
		return core.ErrState("BINDING_MARSHAL_FAILED", "cannot serialize binding").WithCause(err)
	}

	path := r.bindingPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.ErrState("BINDING_WRITE_FAILED", "cannot create binding directory").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.ErrState("BINDING_WRITE_FAILED", "cannot write binding file").WithCause(err)
	}
	r.log.WithSession(string(sessionID)).Debug("session bound",
		"workflow_path", confined, "workflow_id", string(workflowID))
	return nil
}

// WorkflowFor resolves the workflow a caller session controls: the
// bound workflow when the binding still loads, otherwise the most
// recently updated workflow overall. The fallback gives a caller that
// never bound sensible default behavior.
func (r *Registry) WorkflowFor(ctx context.Context, sessionID core.SessionID) *core.StoredState {
	if binding := r.readBinding(sessionID); binding != nil {
		if st := r.store.Read(ctx, binding.WorkflowPath); st != nil {
			return &core.StoredState{Path: binding.WorkflowPath, State: st}
		}
		r.log.WithSession(string(sessionID)).Debug("bound workflow no longer loads, falling back",
			"workflow_path", binding.WorkflowPath)
	}
	return r.store.Active(ctx)
}

// Clear removes a session's binding. Clearing a nonexistent binding is
// a success, not an error.
func (r *Registry) Clear(_ context.Context, sessionID core.SessionID) error {
	err := os.Remove(r.bindingPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return core.ErrState("BINDING_CLEAR_FAILED", "cannot remove binding file").WithCause(err)
	}
	return nil
}

// Touch writes the session marker used to rediscover recent sessions.
func (r *Registry) Touch(_ context.Context, sessionID core.SessionID) error {
	if sessionID == "" {
		return core.ErrValidation("SESSION_ID_REQUIRED", "session id cannot be empty")
	}
	marker := Marker{SessionID: sessionID, Timestamp: time.Now()}
	data, err := json.Marshal(marker)
	if err != nil {
		return core.ErrState("MARKER_MARSHAL_FAILED", "cannot serialize marker").WithCause(err)
	}
	path := r.markerPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.ErrState("MARKER_WRITE_FAILED", "cannot create marker directory").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.ErrState("MARKER_WRITE_FAILED", "cannot write marker file").WithCause(err)
	}
	return nil
}

// SweepMarkers removes markers older than ttl and returns how many
// went. Used by the janitor.
func (r *Registry) SweepMarkers(_ context.Context, ttl time.Duration) int {
	dir := filepath.Join(r.scratchRoot, "markers")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-ttl)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var marker Marker
		if err := json.Unmarshal(data, &marker); err != nil || marker.Timestamp.Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

func (r *Registry) readBinding(sessionID core.SessionID) *Binding {
	data, err := fsutil.ReadFileScoped(r.bindingPath(sessionID))
	if err != nil {
		return nil
	}
	var binding Binding
	if err := json.Unmarshal(data, &binding); err != nil {
		r.log.WithSession(string(sessionID)).Warn("binding file unreadable", "error", err)
		return nil
	}
	return &binding
}

func (r *Registry) bindingPath(sessionID core.SessionID) string {
	return filepath.Join(r.scratchRoot, "bindings", safeName(sessionID)+".json")
}

func (r *Registry) markerPath(sessionID core.SessionID) string {
	return filepath.Join(r.scratchRoot, "markers", safeName(sessionID)+".json")
}

// safeName flattens a session id into a filename: anything outside
// [a-zA-Z0-9._-] becomes '-', so an id can never smuggle a path
// separator into the scratch root.
func safeName(sessionID core.SessionID) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case c == '.' || c == '_' || c == '-':
			return c
		default:
			return '-'
		}
	}, string(sessionID))
}
