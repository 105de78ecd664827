package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/gates"
)

var statusCmd = &cobra.Command{
	Use:   "status [query]",
	Short: "Show workflow status",
	Long: `Display a workflow's gates and position in the pipeline.

Without arguments the most recently updated workflow is shown. A query
argument selects by exact id first, then by fuzzy match over active
workflow ids.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusJSON bool
	statusAll  bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List every active workflow")
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	machine, err := rt.openMachine()
	if err != nil {
		return err
	}
	store := rt.openStore()
	ctx := cmd.Context()

	if statusAll {
		return listWorkflows(machine, store.FindActive(ctx))
	}

	query := ""
	if len(args) > 0 {
		query = args[0]
	}
	registry := rt.openRegistry(store)
	stored, err := resolveWorkflow(ctx, store, registry, query, "")
	if err != nil {
		if query == "" {
			fmt.Println("No active workflow")
			return nil
		}
		return err
	}

	if statusJSON {
		return outputJSON(struct {
			Path     string              `json:"path"`
			Checksum string              `json:"checksum"`
			State    *core.WorkflowState `json:"state"`
		}{stored.Path, store.Checksum(stored.State), stored.State})
	}

	printWorkflow(machine, stored)
	return nil
}

// listWorkflows renders the one-line-per-workflow overview.
func listWorkflows(machine *gates.Machine, active []core.StoredState) error {
	if statusJSON {
		return outputJSON(active)
	}
	if len(active) == 0 {
		fmt.Println("No active workflows")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tTYPE\tMODE\tCURRENT GATE\tGATES\tUPDATED")
	for _, stored := range active {
		st := stored.State
		current := string(st.Phase.Current)
		if machine.AllMandatoryGatesPassed(st) {
			current = "complete"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			st.WorkflowID, st.WorkflowType, st.Mode.Current, current,
			len(st.Phase.Completed), len(st.Gates),
			st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

// printWorkflow renders one workflow's header and gate table.
func printWorkflow(machine *gates.Machine, stored *core.StoredState) {
	st := stored.State

	fmt.Printf("Workflow: %s (%s, %s)\n",
		paint(styleTitle, string(st.WorkflowID)), st.WorkflowType, st.Mode.Current)
	fmt.Printf("Record:   %s\n", stored.Path)
	fmt.Printf("Updated:  %s\n", st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	if machine.AllMandatoryGatesPassed(st) {
		fmt.Printf("Phase:    %s\n", paint(stylePassed, "complete"))
	} else if st.Phase.Current != "" {
		fmt.Printf("Phase:    %s (%d of %d gates done)\n",
			st.Phase.Current, len(st.Phase.Completed), len(st.Gates))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  GATE\tSTATUS\tITERATION")
	for _, name := range orderedGates(machine, st) {
		gs := st.Gates[name]
		marker := " "
		if name == st.Phase.Current {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %s %s\t%s\t%d\n",
			marker, gateGlyph(gs.Status), name, paintStatus(gs.Status), gs.Iteration)
	}
	w.Flush()

	if n := len(st.AgentLog); n > 0 {
		last := st.AgentLog[n-1]
		fmt.Printf("\nLast verdict: %s on %s by %s (%s)\n",
			last.Verdict, last.Gate, last.AgentType,
			last.Timestamp.Local().Format("15:04:05"))
	}
}

// orderedGates returns the record's gates in canonical order, with any
// extras appended in name order.
func orderedGates(machine *gates.Machine, st *core.WorkflowState) []core.GateName {
	ordered := make([]core.GateName, 0, len(st.Gates))
	seen := make(map[core.GateName]bool, len(st.Gates))
	for _, name := range machine.Ordering(st.WorkflowType) {
		if _, ok := st.Gates[name]; ok {
			ordered = append(ordered, name)
			seen[name] = true
		}
	}
	var extra []core.GateName
	for name := range st.Gates {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ordered, extra...)
}

// paintStatus colors a gate status word.
func paintStatus(status core.GateStatus) string {
	s := string(status)
	switch status {
	case core.GateStatusPassed:
		return paint(stylePassed, s)
	case core.GateStatusFailed:
		return paint(styleFailed, s)
	case core.GateStatusInProgress:
		return paint(styleActive, s)
	default:
		return paint(styleMuted, s)
	}
}
