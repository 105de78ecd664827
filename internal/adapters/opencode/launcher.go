// Package opencode implements the session launcher port over the
// OpenCode CLI: each agent task runs as one `opencode run` process
// whose stdout events feed the progress signal the scheduler polls.
package opencode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// DefaultSessionTimeout bounds a session that neither finishes nor gets
// cancelled.
const DefaultSessionTimeout = 30 * time.Minute

// killGrace is how long a terminated session gets to exit before the
// process group is killed outright.
const killGrace = 5 * time.Second

// Config holds launcher configuration.
type Config struct {
	// Path is the opencode binary (default: "opencode"). Multi-word
	// values are split, so wrappers like "npx opencode" work.
	Path string

	// Models maps capability tiers to model names. An empty entry omits
	// the --model flag and lets opencode use its own default.
	Models map[core.Tier]string

	// Timeout is the per-session budget when the launch spec carries
	// none (default: 30m).
	Timeout time.Duration

	// Env is applied on top of the inherited environment.
	Env map[string]string
}

// DefaultConfig returns the default launcher configuration.
func DefaultConfig() Config {
	return Config{
		Path:    "opencode",
		Timeout: DefaultSessionTimeout,
	}
}

// Launcher starts agent tasks as `opencode run` processes and hands
// back polling handles. It implements core.SessionLauncher.
type Launcher struct {
	config Config
	log    *logging.Logger
}

var _ core.SessionLauncher = (*Launcher)(nil)

// NewLauncher creates a launcher. A nil logger disables logging.
func NewLauncher(config Config, log *logging.Logger) *Launcher {
	if config.Path == "" {
		config.Path = "opencode"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSessionTimeout
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Launcher{config: config, log: log}
}

// Name returns the launcher identifier.
func (l *Launcher) Name() string { return "opencode" }

// Ping verifies the opencode binary is on PATH.
func (l *Launcher) Ping(_ context.Context) error {
	parts := strings.Fields(l.config.Path)
	if len(parts) == 0 {
		return core.ErrValidation("NO_PATH", "opencode path not configured")
	}
	if _, err := exec.LookPath(parts[0]); err != nil {
		return core.ErrNotFound("CLI", parts[0]).WithCause(err)
	}
	return nil
}

// Launch starts one session. The returned handle owns the process: the
// session keeps running after ctx ends, bounded only by its own
// timeout, an explicit Cancel, or natural completion.
func (l *Launcher) Launch(_ context.Context, spec core.LaunchSpec) (core.SessionHandle, error) {
	if spec.Prompt == "" {
		return nil, core.ErrValidation(core.CodeInvalidState, "launch spec has no prompt")
	}

	parts := strings.Fields(l.config.Path)
	if len(parts) == 0 {
		return nil, core.ErrValidation("NO_PATH", "opencode path not configured")
	}
	binary := parts[0]
	args := append(parts[1:], "run")
	if model := l.modelFor(spec); model != "" {
		args = append(args, "--model", model)
	}
	if spec.Agent != "" {
		args = append(args, "--agent", spec.Agent)
	}

	// #nosec G204 -- binary and args come from validated config
	cmd := exec.Command(binary, args...)
	configureProcAttr(cmd)
	cmd.Stdin = strings.NewReader(spec.Prompt)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env,
		"OCW_MANAGED=true",
		"OCW_WORKFLOW="+string(spec.WorkflowID),
		"OCW_TASK="+string(spec.TaskID),
	)
	for k, v := range l.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.ErrExecution(core.CodeLaunchFailed, "creating stdout pipe").WithCause(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		return nil, core.ErrExecution(core.CodeLaunchFailed, "starting opencode").WithCause(err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = l.config.Timeout
	}

	h := &Handle{
		id:     core.SessionID(fmt.Sprintf("oc-%d", cmd.Process.Pid)),
		cmd:    cmd,
		stderr: &stderr,
		done:   make(chan struct{}),
		log: l.log.With(
			"task_id", spec.TaskID,
			"agent", spec.Agent,
			"pid", cmd.Process.Pid,
		),
	}
	go h.supervise(stdout, timeout)

	l.log.Info("opencode session started",
		"session_id", h.id,
		"task_id", spec.TaskID,
		"agent", spec.Agent,
		"provider", spec.Provider,
		"timeout", timeout)
	return h, nil
}

// modelFor resolves the model flag for a launch spec. Bare model names
// are qualified with the spec's provider the way opencode expects
// (provider/model); configured values that already carry a slash are
// passed through.
func (l *Launcher) modelFor(spec core.LaunchSpec) string {
	model := l.config.Models[spec.Tier]
	if model == "" {
		return ""
	}
	if spec.Provider != "" && !strings.Contains(model, "/") {
		return spec.Provider + "/" + model
	}
	return model
}
