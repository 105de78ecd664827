// Package state persists workflow records as JSON files under a
// confined data root. Failures are silent-and-null by contract: every
// operation degrades to "no data" and logs the cause instead of
// erroring, so a transient disk fault never aborts a live workflow.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/fsutil"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// shellMeta are the characters ValidatePath refuses inside paths.
// State paths come in from CLI arguments and binding files; none of
// them has a legitimate use for shell metacharacters.
const shellMeta = ";|&$`<>\"'*?"

// stateExt is the extension of workflow record files.
const stateExt = ".json"

// Config locates the two trees the store is allowed to touch. Both are
// injected; the store reads no ambient process state, so independent
// instances can coexist in tests.
type Config struct {
	// DataRoot holds active/ and completed/ workflow records.
	DataRoot string
	// ScratchRoot holds session markers and binding files.
	ScratchRoot string
}

// Store implements core.StateStore over JSON files.
type Store struct {
	dataRoot      string
	activeRoot    string
	completedRoot string
	scratchRoot   string
	log           *logging.Logger
}

var _ core.StateStore = (*Store)(nil)

// New creates a store confined to cfg's roots.
func New(cfg Config, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	dataRoot := absolutize(cfg.DataRoot)
	return &Store{
		dataRoot:      dataRoot,
		activeRoot:    filepath.Join(dataRoot, "active"),
		completedRoot: filepath.Join(dataRoot, "completed"),
		scratchRoot:   absolutize(cfg.ScratchRoot),
		log:           log,
	}
}

func absolutize(path string) string {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// ActiveRoot returns the directory holding live workflow records.
func (s *Store) ActiveRoot() string { return s.activeRoot }

// CompletedRoot returns the directory archived records move to.
func (s *Store) CompletedRoot() string { return s.completedRoot }

// ScratchRoot returns the directory for session markers and bindings.
func (s *Store) ScratchRoot() string { return s.scratchRoot }

// ValidatePath canonicalizes a path and confines it to the data root
// or the scratch root. Parent traversal, shell metacharacters, NUL
// bytes, and UNC-style prefixes are rejected outright, before any
// resolution.
func (s *Store) ValidatePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if strings.ContainsRune(path, 0) {
		return "", false
	}
	if strings.HasPrefix(path, `\\`) {
		return "", false
	}
	if strings.ContainsAny(path, shellMeta) {
		return "", false
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", false
		}
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", false
	}
	for _, root := range []string{s.dataRoot, s.scratchRoot} {
		if abs == root || strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			return abs, true
		}
	}
	return "", false
}

// PathFor returns the canonical record location for a workflow id.
func (s *Store) PathFor(id core.WorkflowID) string {
	return filepath.Join(s.activeRoot, string(id)+stateExt)
}

// Read loads and parses the record at path. Rejected paths, I/O
// failures, malformed JSON, and records that fail construction-time
// validation all yield nil.
func (s *Store) Read(_ context.Context, path string) *core.WorkflowState {
	confined, ok := s.ValidatePath(path)
	if !ok {
		s.log.Warn("state path rejected", "path", path)
		return nil
	}

	data, err := fsutil.ReadFileScoped(confined)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state read failed", "path", confined, "error", err)
		}
		return nil
	}

	var st core.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("state parse failed", "path", confined, "error", err)
		return nil
	}
	if err := st.Validate(); err != nil {
		s.log.Warn("state record invalid", "path", confined, "error", err)
		return nil
	}
	return &st
}

// Write serializes the record and atomically renames it over the
// target. The on-disk file is always either the old complete record
// or the new complete record; an interrupted write leaves the original
// untouched. Write never stamps UpdatedAt — that is Update's job.
func (s *Store) Write(_ context.Context, path string, st *core.WorkflowState) bool {
	if st == nil {
		return false
	}
	confined, ok := s.ValidatePath(path)
	if !ok {
		s.log.Warn("state path rejected", "path", path)
		return false
	}

	if err := os.MkdirAll(filepath.Dir(confined), 0o755); err != nil {
		s.log.Warn("state dir create failed", "path", confined, "error", err)
		return false
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.log.Warn("state marshal failed", "workflow_id", string(st.WorkflowID), "error", err)
		return false
	}
	if err := atomicWriteFile(confined, data, 0o644); err != nil {
		s.log.Warn("state write failed", "path", confined, "error", err)
		return false
	}
	return true
}

// Update is the only sanctioned mutation path: read the record, apply
// the transform, stamp UpdatedAt, persist. A transform returning nil
// aborts and the file stays untouched. Two processes racing the same
// file are last-writer-wins; the session registry's binding convention
// keeps one controller per workflow.
func (s *Store) Update(ctx context.Context, path string, transform func(*core.WorkflowState) *core.WorkflowState) *core.WorkflowState {
	st := s.Read(ctx, path)
	if st == nil {
		return nil
	}
	next := transform(st)
	if next == nil {
		return nil
	}
	next.UpdatedAt = time.Now()
	if !s.Write(ctx, path, next) {
		return nil
	}
	return next
}

// FindActive returns every record under the active root, most recently
// updated first. Records that fail to load are skipped. Ties are
// broken arbitrarily.
func (s *Store) FindActive(ctx context.Context) []core.StoredState {
	entries, err := os.ReadDir(s.activeRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("active root scan failed", "path", s.activeRoot, "error", err)
		}
		return nil
	}

	var found []core.StoredState
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != stateExt {
			continue
		}
		path := filepath.Join(s.activeRoot, entry.Name())
		if st := s.Read(ctx, path); st != nil {
			found = append(found, core.StoredState{Path: path, State: st})
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].State.UpdatedAt.After(found[j].State.UpdatedAt)
	})
	return found
}

// Active returns the most recently updated workflow, or nil.
func (s *Store) Active(ctx context.Context) *core.StoredState {
	found := s.FindActive(ctx)
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

// Checksum returns a short deterministic digest of the record for
// equality checks. Not cryptographically sensitive.
func (s *Store) Checksum(st *core.WorkflowState) string {
	if st == nil {
		return ""
	}
	data, err := json.Marshal(st)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Archive moves a record from the active root to the completed root.
// A move, never a copy: the source is gone afterwards. Both roots live
// under the data root, so the rename stays on one filesystem.
func (s *Store) Archive(_ context.Context, path string) (string, bool) {
	confined, ok := s.ValidatePath(path)
	if !ok {
		s.log.Warn("archive path rejected", "path", path)
		return "", false
	}
	if err := os.MkdirAll(s.completedRoot, 0o755); err != nil {
		s.log.Warn("completed root create failed", "path", s.completedRoot, "error", err)
		return "", false
	}

	dest := filepath.Join(s.completedRoot, filepath.Base(confined))
	if err := os.Rename(confined, dest); err != nil {
		s.log.Warn("archive move failed", "from", confined, "to", dest, "error", err)
		return "", false
	}
	s.log.Info("workflow archived", "from", confined, "to", dest)
	return dest, true
}
