package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/viper"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/opencode"
	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/state"
	"github.com/zb-ss/opencode-workflows-sub001/internal/config"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
	"github.com/zb-ss/opencode-workflows-sub001/internal/session"
	"github.com/zb-ss/opencode-workflows-sub001/internal/swarm"
)

// runtime bundles the pieces every command needs: validated config and
// a logger derived from it.
type runtime struct {
	cfg *config.Config
	log *logging.Logger
}

// initRuntime loads and validates configuration, then builds the
// logger. Flag bindings flow in through the global viper instance.
func initRuntime() (*runtime, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return &runtime{cfg: cfg, log: log}, nil
}

// openStore builds the state store over the configured data roots.
func (rt *runtime) openStore() *state.Store {
	return state.New(state.Config{
		DataRoot:    rt.cfg.Data.Root,
		ScratchRoot: rt.cfg.Data.Scratch,
	}, rt.log)
}

// openMachine builds the gate machine, merging the optional pipelines
// file over the built-in rules.
func (rt *runtime) openMachine() (*gates.Machine, error) {
	rules, err := gates.LoadRules(rt.cfg.Workflow.Pipelines)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline rules: %w", err)
	}
	return gates.NewMachine(rules), nil
}

// openRegistry builds the session registry over the scratch root.
func (rt *runtime) openRegistry(store *state.Store) *session.Registry {
	return session.NewRegistry(store, rt.cfg.Data.Scratch, rt.log)
}

// openLauncher builds the OpenCode launcher from config.
func (rt *runtime) openLauncher() *opencode.Launcher {
	models := make(map[core.Tier]string, len(rt.cfg.Launcher.Models))
	for tier, model := range rt.cfg.Launcher.Models {
		t, err := core.ParseTier(tier)
		if err != nil {
			rt.log.Warn("ignoring model for unknown tier", "tier", tier)
			continue
		}
		models[t] = model
	}
	return opencode.NewLauncher(opencode.Config{
		Path:    rt.cfg.Launcher.Path,
		Models:  models,
		Timeout: rt.cfg.Launcher.SessionTimeout(opencode.DefaultSessionTimeout),
		Env:     rt.cfg.Launcher.Env,
	}, rt.log)
}

// schedulerConfig maps swarm tuning from config onto the scheduler.
func (rt *runtime) schedulerConfig() swarm.SchedulerConfig {
	cfg := swarm.SchedulerConfig{
		PollInterval:  rt.cfg.Swarm.PollInterval(),
		MaxPollErrors: rt.cfg.Swarm.MaxPollErrors,
		Limiter: swarm.LimiterConfig{
			Default:   rt.cfg.Swarm.DefaultConcurrency,
			Providers: rt.cfg.Swarm.ProviderConcurrency,
		},
		Detector: swarm.DetectorConfig{
			StaleTimeout:    rt.cfg.Swarm.StaleTimeout(),
			ProgressTimeout: rt.cfg.Swarm.ProgressTimeout(),
			MinTimeout:      rt.cfg.Swarm.MinTimeout(),
			StartupGrace:    rt.cfg.Swarm.StartupGrace(),
		},
	}
	return cfg
}

// resolveWorkflow finds the workflow a command should operate on.
// Precedence: explicit session binding, exact workflow id, fuzzy match
// over active ids, most recently updated workflow.
func resolveWorkflow(ctx context.Context, store *state.Store, registry *session.Registry, query string, sessionID string) (*core.StoredState, error) {
	if sessionID != "" {
		if stored := registry.WorkflowFor(ctx, core.SessionID(sessionID)); stored != nil {
			return stored, nil
		}
		return nil, core.ErrNotFound("workflow for session", sessionID)
	}

	if query == "" {
		if stored := store.Active(ctx); stored != nil {
			return stored, nil
		}
		return nil, core.ErrNotFound("active workflow", "")
	}

	// Exact id wins before fuzzy matching.
	path := store.PathFor(core.WorkflowID(query))
	if st := store.Read(ctx, path); st != nil && string(st.WorkflowID) == query {
		return &core.StoredState{Path: path, State: st}, nil
	}

	active := store.FindActive(ctx)
	ids := make([]string, len(active))
	for i, stored := range active {
		ids[i] = string(stored.State.WorkflowID)
	}
	matches := fuzzy.Find(query, ids)
	if len(matches) == 0 {
		return nil, core.ErrNotFound("workflow", query)
	}
	return &active[matches[0].Index], nil
}

// outputJSON writes the given value to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitCSV splits a comma-separated flag value, dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Styling shared by the table-rendering commands.
var (
	styleTitle  = lipgloss.NewStyle().Bold(true)
	stylePassed = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	styleActive = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// paint applies a style unless --no-color is set.
func paint(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

// gateGlyph returns the one-character marker for a gate status.
func gateGlyph(status core.GateStatus) string {
	switch status {
	case core.GateStatusPassed:
		return paint(stylePassed, "✓")
	case core.GateStatusFailed:
		return paint(styleFailed, "✗")
	case core.GateStatusInProgress:
		return paint(styleActive, "●")
	case core.GateStatusSkipped:
		return paint(styleMuted, "-")
	default:
		return paint(styleMuted, "○")
	}
}
