package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

var gatesCmd = &cobra.Command{
	Use:   "gates [query]",
	Short: "List a workflow's pending gates",
	Long: `List gates that are not yet passed or skipped, in pipeline order.

Gates whose retry budget is spent are flagged: they will not run again
until reworked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGates,
}

var gatesJSON bool

func init() {
	rootCmd.AddCommand(gatesCmd)
	gatesCmd.Flags().BoolVar(&gatesJSON, "json", false, "Output as JSON")
}

func runGates(cmd *cobra.Command, args []string) error {
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

	query := ""
	if len(args) > 0 {
		query = args[0]
	}
	stored, err := resolveWorkflow(cmd.Context(), store, registry, query, "")
	if err != nil {
		if query == "" {
			fmt.Println("No active workflow")
			return nil
		}
		return err
	}

	pending := machine.PendingGates(stored.State)
	if gatesJSON {
		return outputJSON(struct {
			WorkflowID string      `json:"workflow_id"`
			Complete   bool        `json:"complete"`
			Pending    interface{} `json:"pending"`
		}{string(stored.State.WorkflowID), len(pending) == 0, pending})
	}

	if len(pending) == 0 {
		fmt.Printf("Workflow %s has no pending gates.\n", stored.State.WorkflowID)
		return nil
	}

	max := machine.MaxIterationsFor(stored.State.Mode.Current)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GATE\tSTATUS\tITERATION\t")
	for _, pg := range pending {
		note := ""
		if pg.Status == core.GateStatusFailed && pg.Iteration >= max {
			note = paint(styleFailed, "retries exhausted")
		}
		fmt.Fprintf(w, "%s %s\t%s\t%d/%d\t%s\n",
			gateGlyph(pg.Status), pg.Name, paintStatus(pg.Status), pg.Iteration, max, note)
	}
	return w.Flush()
}
