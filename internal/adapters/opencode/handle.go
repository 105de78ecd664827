package opencode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// Handle supervises one `opencode run` process and answers polls with
// a cached snapshot. It implements core.SessionHandle.
//
// The supervising goroutine owns the process: it counts output events,
// enforces the session timeout, and records the terminal status once
// the process exits. Poll never blocks on the process.
type Handle struct {
	id     core.SessionID
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan struct{}
	log    *logging.Logger

	mu        sync.Mutex
	messages  int
	terminal  core.SessionStatus
	cancelled bool
	timedOut  bool
}

var _ core.SessionHandle = (*Handle)(nil)

// ID returns the external session identifier.
func (h *Handle) ID() core.SessionID { return h.id }

// Poll reports the message count so far and, once the process exited,
// its terminal status. The snapshot is cached; polling is cheap and
// never touches the process.
func (h *Handle) Poll(_ context.Context) (core.SessionProgress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return core.SessionProgress{
		MessageCount: h.messages,
		Terminal:     h.terminal,
	}, nil
}

// Cancel stops the session: SIGTERM to the process group, SIGKILL
// after a grace period. Idempotent; cancelling an exited session is a
// no-op.
func (h *Handle) Cancel(_ context.Context) error {
	h.mu.Lock()
	if h.terminal != "" || h.cancelled {
		h.mu.Unlock()
		return nil
	}
	h.cancelled = true
	h.mu.Unlock()

	h.log.Info("cancelling opencode session", "session_id", h.id)
	terminate(h.cmd, h.done, killGrace)
	return nil
}

// Done exposes the supervision channel; it closes once the process
// exited and the terminal status is recorded. Used by tests and by
// callers that want to block instead of poll.
func (h *Handle) Done() <-chan struct{} { return h.done }

// supervise consumes the session's stdout, counts output events, and
// records the terminal status when the process exits. Runs on its own
// goroutine for the lifetime of the process.
func (h *Handle) supervise(stdout io.ReadCloser, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		h.mu.Lock()
		exited := h.terminal != ""
		if !exited {
			h.timedOut = true
		}
		h.mu.Unlock()
		if !exited {
			h.log.Warn("opencode session hit its timeout", "session_id", h.id, "timeout", timeout)
			terminate(h.cmd, h.done, killGrace)
		}
	})
	defer timer.Stop()

	scanner := bufio.NewScanner(stdout)
	// Headroom for large single-line JSON events.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if countsAsMessage(scanner.Text()) {
			h.mu.Lock()
			h.messages++
			h.mu.Unlock()
		}
	}
	// Scanner errors are expected when the pipe closes on kill.

	err := h.cmd.Wait()

	h.mu.Lock()
	switch {
	case h.cancelled:
		h.terminal = core.SessionStatusCancelled
	case h.timedOut:
		h.terminal = core.SessionStatusFailed
	case err != nil:
		h.terminal = core.SessionStatusFailed
	default:
		h.terminal = core.SessionStatusCompleted
	}
	status := h.terminal
	messages := h.messages
	h.mu.Unlock()
	close(h.done)

	if err != nil && status == core.SessionStatusFailed {
		h.log.Warn("opencode session failed",
			"session_id", h.id,
			"messages", messages,
			"stderr", h.log.Sanitize(tail(h.stderr.String(), 500)),
			"error", err)
		return
	}
	h.log.Info("opencode session ended",
		"session_id", h.id,
		"status", status,
		"messages", messages)
}

// countsAsMessage decides whether one stdout line is an output event.
// opencode emits line-delimited JSON events when asked to; plain text
// lines from other output modes count too. Blank lines do not.
func countsAsMessage(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "{") {
		return true
	}
	var event struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return true
	}
	// Heartbeat-ish events carry no content and would inflate the
	// progress signal the staleness detector depends on.
	switch event.Type {
	case "ping", "keepalive":
		return false
	}
	return true
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
