package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/history"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

var historyCmd = &cobra.Command{
	Use:   "history [workflow-id]",
	Short: "Query archived workflows",
	Long: `List archived workflows, or show the recorded agent verdict log
for one of them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"maximum archives to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	if !rt.cfg.History.Enabled {
		return core.ErrState(core.CodeInvalidState,
			"history is disabled in configuration")
	}

	hist, err := history.NewStore(rt.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer hist.Close()

	ctx := cmd.Context()
	if len(args) > 0 {
		return showVerdictLog(ctx, hist, core.WorkflowID(args[0]))
	}

	archived, err := hist.ListArchived(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return outputJSON(archived)
	}
	if len(archived) == 0 {
		fmt.Println("No archived workflows")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tTYPE\tMODE\tPASSED\tSKIPPED\tVERDICTS\tARCHIVED")
	for _, a := range archived {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.WorkflowID, a.WorkflowType, a.Mode,
			a.GatesPassed, a.GatesSkipped, a.Verdicts,
			a.ArchivedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func showVerdictLog(ctx context.Context, hist *history.Store, id core.WorkflowID) error {
	verdicts, err := hist.VerdictLog(ctx, id)
	if err != nil {
		return err
	}
	if historyJSON {
		return outputJSON(verdicts)
	}
	if len(verdicts) == 0 {
		fmt.Printf("No verdicts recorded for workflow %s\n", id)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAGENT\tGATE\tVERDICT\tITERATION\tSESSION")
	for _, v := range verdicts {
		session := string(v.SessionID)
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			v.Timestamp.Local().Format("2006-01-02 15:04:05"),
			v.AgentType, v.Gate, paintVerdict(v.Verdict), v.Iteration, session)
	}
	return w.Flush()
}

func paintVerdict(v core.Verdict) string {
	switch v {
	case core.VerdictPass:
		return paint(stylePassed, string(v))
	case core.VerdictFail:
		return paint(styleFailed, string(v))
	default:
		return paint(styleMuted, string(v))
	}
}
