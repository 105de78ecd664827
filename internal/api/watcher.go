package api

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/events"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// defaultDebounce coalesces the write bursts produced by atomic
// temp-and-rename saves into one event per file.
const defaultDebounce = 250 * time.Millisecond

// StateWatcher turns file changes in the active data root into bus
// events so SSE clients see workflow progress without polling.
type StateWatcher struct {
	store    core.StateStore
	bus      *events.EventBus
	log      *logging.Logger
	root     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op
}

// NewStateWatcher creates a watcher over the given active root.
func NewStateWatcher(store core.StateStore, bus *events.EventBus, root string, log *logging.Logger) (*StateWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &StateWatcher{
		store:    store,
		bus:      bus,
		log:      log,
		root:     root,
		debounce: defaultDebounce,
		watcher:  fsw,
		done:     make(chan struct{}),
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Start begins watching. The loop ends when ctx is cancelled or Stop is
// called.
func (w *StateWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}

	w.started = true
	go w.loop(ctx)
	w.log.Info("state watcher started", "root", w.root)
	return nil
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *StateWatcher) Stop() {
	_ = w.watcher.Close()
	if w.started {
		<-w.done
	}
}

func (w *StateWatcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.flush(ctx)
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] |= event.Op
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.flush(ctx)
				return
			}
			w.log.Warn("state watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush publishes one coalesced event per changed file.
func (w *StateWatcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range toProcess {
		w.publish(ctx, path, op)
	}
}

func (w *StateWatcher) publish(ctx context.Context, path string, op fsnotify.Op) {
	opName := "write"
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		opName = "remove"
	case op.Has(fsnotify.Create):
		opName = "create"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && opName != "remove" {
		// Rename target of an atomic save that was itself replaced.
		opName = "remove"
	}

	// Best effort: the store returns nil for torn or corrupt records, so
	// those surface as "invalid" with no phase.
	var status, phase string
	workflowID := idFromFilename(path)
	if st := w.store.Read(ctx, path); st != nil {
		workflowID = string(st.WorkflowID)
		phase = string(st.Phase.Current)
		status = "valid"
	} else if opName != "remove" {
		status = "invalid"
	}

	w.bus.Publish(events.NewWorkflowChanged(workflowID, path, opName, status, phase))
	w.log.Debug("workflow change published", "path", path, "op", opName)
}

// idFromFilename recovers a workflow id from the canonical
// <id>.json naming when the record itself cannot be read.
func idFromFilename(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
