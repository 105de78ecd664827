package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/state"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
	"github.com/zb-ss/opencode-workflows-sub001/internal/swarm"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Advance the active workflow's current gate",
	Long: `Run the current gate of a workflow by launching agent sessions.

Without flags, run operates on the most recently updated workflow,
creating a fresh one when none exists. The current gate's agent role
receives the prompt; on --swarm every role serving the gate runs
concurrently, admission-controlled per provider.

A gate that fails can be retried by running again until the mode's
iteration budget is spent. --skip marks the current gate skipped and
advances without launching anything.

Examples:
  # Advance the current gate with a single session
  ocw run "implement the session registry"

  # Fan the review gate out across all reviewer roles
  ocw run --swarm "review the changes on this branch"

  # Skip the docs gate
  ocw run --skip`,
	RunE: runRun,
}

var (
	runWorkflowID string
	runSessionID  string
	runType       string
	runMode       string
	runSwarm      bool
	runTasks      int
	runProviders  string
	runTier       string
	runSkip       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runWorkflowID, "workflow", "w", "",
		"workflow id to advance (default: most recently updated)")
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "",
		"resolve the workflow through this caller session's binding")
	runCmd.Flags().StringVarP(&runType, "type", "t", "",
		"workflow type when creating (build, explore)")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "",
		"mode when creating (thorough, balanced, economy)")
	runCmd.Flags().BoolVar(&runSwarm, "swarm", false,
		"fan the gate out across every agent role serving it")
	runCmd.Flags().IntVar(&runTasks, "tasks", 0,
		"override the fan-out task count (default: one per serving role)")
	runCmd.Flags().StringVar(&runProviders, "providers", "",
		"comma-separated providers to spread tasks over (default: opencode)")
	runCmd.Flags().StringVar(&runTier, "tier", "",
		"tier override (light, medium, heavy); must be allowed by the mode")
	runCmd.Flags().BoolVar(&runSkip, "skip", false,
		"skip the current gate instead of running it")
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	machine, err := rt.openMachine()
	if err != nil {
		return err
	}
	store := rt.openStore()
	registry := rt.openRegistry(store)
	ctx := cmd.Context()

	stored, err := resolveWorkflow(ctx, store, registry, runWorkflowID, runSessionID)
	if err != nil {
		if runWorkflowID != "" || runSessionID != "" {
			return err
		}
		stored, err = createWorkflow(ctx, rt, store, machine)
		if err != nil {
			return err
		}
		fmt.Printf("Created workflow %s (%s, %s)\n",
			paint(styleTitle, string(stored.State.WorkflowID)),
			stored.State.WorkflowType, stored.State.Mode.Current)
	}

	if machine.AllMandatoryGatesPassed(stored.State) {
		fmt.Printf("Workflow %s is complete; run 'ocw archive' to move it.\n",
			stored.State.WorkflowID)
		return nil
	}

	gate := stored.State.Phase.Current
	if gate == "" {
		return core.ErrState(core.CodeInvalidState,
			"workflow has unfinished gates but no current phase")
	}

	if runSkip {
		return skipGate(ctx, store, machine, stored, gate)
	}

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return core.ErrValidation(core.CodeInvalidState,
			"a task prompt is required (or --skip to skip the gate)")
	}

	if err := prepareGate(ctx, store, machine, stored.Path, gate); err != nil {
		return err
	}

	tier, err := resolveTier(machine, stored.State.Mode.Current)
	if err != nil {
		return err
	}

	specs, err := buildSpecs(machine, stored.State, gate, tier, prompt)
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("Running gate %s with %d task(s)...\n",
			paint(styleTitle, string(gate)), len(specs))
	}

	scheduler := swarm.NewScheduler(rt.schedulerConfig(), rt.openLauncher(), store, registry, rt.log)
	report, runErr := scheduler.Run(ctx, stored.Path, gate, specs)
	if report != nil && !quiet {
		printBatchReport(report)
	}
	if runErr != nil {
		return runErr
	}

	return applyBatchVerdict(ctx, store, machine, stored.Path, gate, report)
}

// createWorkflow starts a fresh workflow from the type/mode flags,
// falling back to the configured defaults.
func createWorkflow(ctx context.Context, rt *runtime, store *state.Store, machine *gates.Machine) (*core.StoredState, error) {
	typeName := runType
	if typeName == "" {
		typeName = rt.cfg.Workflow.DefaultType
	}
	wt, err := core.ParseWorkflowType(typeName)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidState, err.Error())
	}

	mode := core.Mode(runMode)
	if mode == "" {
		mode = core.Mode(rt.cfg.Workflow.DefaultMode)
	}
	if mode == "" {
		mode = core.DefaultMode
	}
	if !core.ValidMode(mode) {
		rt.log.Warn("unknown mode, tier policy will fall back to conservative defaults",
			"mode", mode)
	}

	id := core.WorkflowID("wf-" + uuid.NewString()[:8])
	st := core.NewWorkflowState(id, wt, mode, machine.Ordering(wt))
	path := store.PathFor(id)
	if !store.Write(ctx, path, st) {
		return nil, core.ErrState(core.CodeInvalidState,
			"could not persist new workflow record")
	}
	return &core.StoredState{Path: path, State: st}, nil
}

// skipGate marks the current gate skipped and reports what comes next.
func skipGate(ctx context.Context, store *state.Store, machine *gates.Machine, stored *core.StoredState, gate core.GateName) error {
	var terr error
	updated := store.Update(ctx, stored.Path, func(st *core.WorkflowState) *core.WorkflowState {
		if terr = machine.Skip(st, gate); terr != nil {
			return nil
		}
		return st
	})
	if terr != nil {
		return terr
	}
	if updated == nil {
		return core.ErrState(core.CodeInvalidState, "could not persist gate skip")
	}

	fmt.Printf("Skipped gate %s\n", gate)
	reportPosition(machine, updated)
	return nil
}

// prepareGate moves the current gate into in_progress: pending gates
// begin, failed gates retry against the mode's iteration budget, and
// in_progress gates resume as they are.
func prepareGate(ctx context.Context, store *state.Store, machine *gates.Machine, path string, gate core.GateName) error {
	var terr error
	updated := store.Update(ctx, path, func(st *core.WorkflowState) *core.WorkflowState {
		gs, ok := st.Gates[gate]
		if !ok {
			terr = core.ErrNotFound("gate", string(gate))
			return nil
		}
		switch gs.Status {
		case core.GateStatusPending:
			terr = machine.Begin(st, gate)
		case core.GateStatusFailed:
			terr = machine.Retry(st, gate)
		case core.GateStatusInProgress:
			// Resuming an interrupted run.
		default:
			terr = core.ErrState(core.CodeInvalidTransition,
				fmt.Sprintf("gate %s is %s and cannot run", gate, gs.Status))
		}
		if terr != nil {
			return nil
		}
		return st
	})
	if terr != nil {
		return terr
	}
	if updated == nil {
		return core.ErrState(core.CodeInvalidState, "could not persist gate transition")
	}
	return nil
}

// resolveTier picks the launch tier: the --tier override when allowed,
// otherwise the mode's preferred tier.
func resolveTier(machine *gates.Machine, mode core.Mode) (core.Tier, error) {
	if runTier == "" {
		return machine.PreferredTier(mode), nil
	}
	tier, err := core.ParseTier(runTier)
	if err != nil {
		return "", core.ErrValidation(core.CodeTierForbidden, err.Error())
	}
	if machine.TierForbidden(mode, tier) {
		return "", core.ErrValidation(core.CodeTierForbidden,
			fmt.Sprintf("mode %s forbids tier %s", mode, tier))
	}
	return tier, nil
}

// buildSpecs lays out the launch specs for one gate run: a single task
// for the first serving role, or on --swarm one per role (more with
// --tasks), spread round-robin over the providers.
func buildSpecs(machine *gates.Machine, st *core.WorkflowState, gate core.GateName, tier core.Tier, prompt string) ([]core.LaunchSpec, error) {
	agents := machine.AgentsForGate(gate)
	if len(agents) == 0 {
		return nil, core.ErrState(core.CodeGateNotFound,
			fmt.Sprintf("no agent role serves gate %s", gate))
	}

	count := 1
	if runSwarm {
		count = len(agents)
		if runTasks > 0 {
			count = runTasks
		}
	}

	providers := splitCSV(runProviders)
	if len(providers) == 0 {
		providers = []string{"opencode"}
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	specs := make([]core.LaunchSpec, 0, count)
	for i := 0; i < count; i++ {
		agent := agents[i%len(agents)]
		specs = append(specs, core.LaunchSpec{
			WorkflowID: st.WorkflowID,
			TaskID:     core.TaskID(fmt.Sprintf("%s-%s-%02d", gate, agent, i+1)),
			Agent:      agent,
			Provider:   providers[i%len(providers)],
			Tier:       tier,
			Prompt:     prompt,
			WorkDir:    workDir,
		})
	}
	return specs, nil
}

// applyBatchVerdict judges the batch as a whole: every task completed
// passes the gate, anything less fails it and leaves the retry budget
// to a future run.
func applyBatchVerdict(ctx context.Context, store *state.Store, machine *gates.Machine, path string, gate core.GateName, report *swarm.BatchReport) error {
	passed := report.Succeeded()

	var terr error
	updated := store.Update(ctx, path, func(st *core.WorkflowState) *core.WorkflowState {
		if passed {
			terr = machine.Pass(st, gate)
		} else {
			terr = machine.Fail(st, gate)
		}
		if terr != nil {
			return nil
		}
		return st
	})
	if terr != nil {
		return terr
	}
	if updated == nil {
		return core.ErrState(core.CodeInvalidState, "could not persist gate outcome")
	}

	if passed {
		fmt.Printf("%s Gate %s passed\n", paint(stylePassed, "✓"), gate)
		reportPosition(machine, updated)
		return nil
	}

	gs, _ := updated.Gate(gate)
	max := machine.MaxIterationsFor(updated.Mode.Current)
	fmt.Printf("%s Gate %s failed (iteration %d of %d)\n",
		paint(styleFailed, "✗"), gate, gs.Iteration, max)
	if gs.Iteration >= max {
		fmt.Println("Retry budget spent; rework is needed before this gate can run again.")
	} else {
		fmt.Println("Run again to retry.")
	}
	return core.ErrExecution(core.CodeInvalidState,
		fmt.Sprintf("gate %s did not pass", gate))
}

// reportPosition prints where the workflow now stands.
func reportPosition(machine *gates.Machine, st *core.WorkflowState) {
	if machine.AllMandatoryGatesPassed(st) {
		fmt.Println("All gates satisfied; run 'ocw archive' to move the record.")
		return
	}
	if st.Phase.Current != "" {
		fmt.Printf("Next gate: %s\n", paint(styleTitle, string(st.Phase.Current)))
	}
}

// printBatchReport renders the per-task outcome table.
func printBatchReport(report *swarm.BatchReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAGENT\tPROVIDER\tSTATUS\tMESSAGES")
	for _, r := range report.Results {
		status := string(r.Status)
		if r.Class != "" && r.Class != swarm.StalenessActive {
			status = fmt.Sprintf("%s (%s)", r.Status, r.Class)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			r.TaskID, r.Agent, r.Provider, status, r.Messages)
	}
	w.Flush()
	fmt.Printf("completed %d, failed %d, cancelled %d, skipped %d in %s\n",
		report.Completed, report.Failed, report.Cancelled, report.Skipped,
		report.Elapsed.Round(100*time.Millisecond))
}
